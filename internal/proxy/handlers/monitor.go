package handlers

import (
	"net/http"
	"strconv"

	"github.com/cloudshuttle/antigravity-openai-proxy/internal/proxy/monitor"
)

// MonitorLogs handles GET /monitor/logs?limit=&since= (since in minutes).
func MonitorLogs(pm *monitor.ProxyMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		since, _ := strconv.Atoi(r.URL.Query().Get("since"))
		writeJSON(w, http.StatusOK, map[string]any{
			"logs": pm.GetLogs(limit, since),
		})
	}
}

// MonitorStats handles GET /monitor/stats.
func MonitorStats(pm *monitor.ProxyMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, pm.GetStats())
	}
}
