package handlers

import (
	"net/http"

	"github.com/cloudshuttle/antigravity-openai-proxy/internal/catalog"
)

type modelList struct {
	Object string          `json:"object"`
	Data   []catalog.Model `json:"data"`
}

// ListModels handles GET /v1/models and /models.
func ListModels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, modelList{
			Object: "list",
			Data:   catalog.Models(),
		})
	}
}

// Health handles GET /.
func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "antigravity-openai-proxy",
		})
	}
}
