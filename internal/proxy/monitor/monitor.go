package monitor

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cloudshuttle/antigravity-openai-proxy/internal/db/models"
)

const (
	// MaxRequestBodySize limits request body storage to 1MB
	MaxRequestBodySize = 1024 * 1024
	// MaxResponseBodySize limits response body storage to 512KB
	MaxResponseBodySize = 512 * 1024
	// MaxMemoryLogs limits the in-memory log cache
	MaxMemoryLogs = 100
)

// ProxyMonitor captures per-request logs and aggregate statistics.
type ProxyMonitor struct {
	db      *gorm.DB
	enabled atomic.Bool

	recentLogs []models.RequestLog
	logsMu     sync.RWMutex

	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
}

func NewProxyMonitor(db *gorm.DB) *ProxyMonitor {
	pm := &ProxyMonitor{
		db:         db,
		recentLogs: make([]models.RequestLog, 0, MaxMemoryLogs),
	}
	pm.loadStatsFromDB()
	pm.enabled.Store(false)
	return pm
}

// SetEnabled enables or disables request logging
func (pm *ProxyMonitor) SetEnabled(enabled bool) {
	pm.enabled.Store(enabled)
	log.Printf("[Monitor] Logging %s", map[bool]string{true: "enabled", false: "disabled"}[enabled])
}

// IsEnabled returns whether logging is enabled
func (pm *ProxyMonitor) IsEnabled() bool {
	return pm.enabled.Load()
}

// LogRequest records one proxied request (async DB write, non-blocking).
func (pm *ProxyMonitor) LogRequest(entry models.RequestLog) {
	if !pm.IsEnabled() {
		return
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	if len(entry.RequestBody) > MaxRequestBodySize {
		entry.RequestBody = entry.RequestBody[:MaxRequestBodySize] + "...[truncated]"
	}
	if len(entry.ResponseBody) > MaxResponseBodySize {
		entry.ResponseBody = entry.ResponseBody[:MaxResponseBodySize] + "...[truncated]"
	}

	pm.totalRequests.Add(1)
	if entry.Status >= 200 && entry.Status < 400 {
		pm.successCount.Add(1)
	} else {
		pm.errorCount.Add(1)
	}

	pm.logsMu.Lock()
	pm.recentLogs = append([]models.RequestLog{entry}, pm.recentLogs...)
	if len(pm.recentLogs) > MaxMemoryLogs {
		pm.recentLogs = pm.recentLogs[:MaxMemoryLogs]
	}
	pm.logsMu.Unlock()

	go func(entry models.RequestLog) {
		if err := pm.db.Create(&entry).Error; err != nil {
			log.Printf("[Monitor] Failed to save log: %v", err)
		}
	}(entry)
}

// GetLogs returns recent request logs, newest first, with an optional
// time filter in minutes.
func (pm *ProxyMonitor) GetLogs(limit int, sinceMinutes int) []models.RequestLog {
	if limit <= 0 {
		limit = 100
	}

	var logs []models.RequestLog
	query := pm.db.Order("timestamp DESC").Limit(limit)
	if sinceMinutes > 0 {
		sinceTime := time.Now().Add(-time.Duration(sinceMinutes) * time.Minute).UnixMilli()
		query = query.Where("timestamp >= ?", sinceTime)
	}

	if err := query.Find(&logs).Error; err != nil {
		log.Printf("[Monitor] Failed to get logs from DB: %v", err)
		pm.logsMu.RLock()
		defer pm.logsMu.RUnlock()
		if limit > len(pm.recentLogs) {
			limit = len(pm.recentLogs)
		}
		return pm.recentLogs[:limit]
	}
	return logs
}

// GetStats returns aggregated request statistics
func (pm *ProxyMonitor) GetStats() models.RequestStats {
	return models.RequestStats{
		TotalRequests: pm.totalRequests.Load(),
		SuccessCount:  pm.successCount.Load(),
		ErrorCount:    pm.errorCount.Load(),
	}
}

// Clear clears all logs from memory and database
func (pm *ProxyMonitor) Clear() error {
	pm.logsMu.Lock()
	pm.recentLogs = pm.recentLogs[:0]
	pm.logsMu.Unlock()

	pm.totalRequests.Store(0)
	pm.successCount.Store(0)
	pm.errorCount.Store(0)

	if err := pm.db.Exec("DELETE FROM request_logs").Error; err != nil {
		log.Printf("[Monitor] Failed to clear logs: %v", err)
		return err
	}
	log.Printf("[Monitor] All logs cleared")
	return nil
}

func (pm *ProxyMonitor) loadStatsFromDB() {
	var total, success, errors int64

	pm.db.Model(&models.RequestLog{}).Count(&total)
	pm.db.Model(&models.RequestLog{}).Where("status >= 200 AND status < 400").Count(&success)
	pm.db.Model(&models.RequestLog{}).Where("status < 200 OR status >= 400").Count(&errors)

	pm.totalRequests.Store(total)
	pm.successCount.Store(success)
	pm.errorCount.Store(errors)

	log.Printf("[Monitor] Loaded stats: total=%d, success=%d, errors=%d", total, success, errors)
}
