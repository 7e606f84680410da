package models

// RequestLog stores one proxied chat completion for monitoring.
type RequestLog struct {
	ID           string `gorm:"primaryKey" json:"id"`
	Timestamp    int64  `gorm:"index" json:"timestamp"`
	Method       string `json:"method"`
	Path         string `json:"path"`
	Status       int    `json:"status"`
	Duration     int64  `json:"duration"` // milliseconds
	Model        string `gorm:"index" json:"model,omitempty"`
	MappedModel  string `json:"mapped_model,omitempty"`
	Style        string `json:"style,omitempty"` // antigravity or gemini-cli
	Stream       bool   `json:"stream"`
	Error        string `json:"error,omitempty"`
	RequestBody  string `gorm:"type:text" json:"request_body,omitempty"`
	ResponseBody string `gorm:"type:text" json:"response_body,omitempty"`
}

// RequestStats holds aggregated statistics for request logs
type RequestStats struct {
	TotalRequests int64 `json:"total_requests"`
	SuccessCount  int64 `json:"success_count"`
	ErrorCount    int64 `json:"error_count"`
}
