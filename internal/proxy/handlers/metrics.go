package handlers

import (
	"net/http"
	"time"

	"github.com/cloudshuttle/antigravity-openai-proxy/internal/auth/token"
)

type metricsBody struct {
	OAuth oauthMetrics `json:"oauth"`
}

type oauthMetrics struct {
	Cache  token.Metrics `json:"cache"`
	Uptime string        `json:"uptime"`
}

// Metrics handles GET /metrics with credential-cache counters and uptime.
func Metrics(tokens *token.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metricsBody{
			OAuth: oauthMetrics{
				Cache:  tokens.GetMetrics(),
				Uptime: tokens.Uptime().Round(time.Second).String(),
			},
		})
	}
}
