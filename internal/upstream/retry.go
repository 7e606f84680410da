package upstream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Capacity reasons that justify retrying the same endpoint.
const (
	ReasonModelCapacity = "MODEL_CAPACITY_EXHAUSTED"
	ReasonServerError   = "SERVER_ERROR"
)

// CapacityReason inspects a 429/503 error body and classifies it. It returns
// an empty string when the body carries no recognized capacity signal, in
// which case the caller fails over instead of retrying.
func CapacityReason(body []byte) string {
	status := gjson.GetBytes(body, "error.status").String()
	message := gjson.GetBytes(body, "error.message").String()
	haystack := status + " " + message
	if haystack == " " {
		haystack = string(body)
	}

	switch {
	case strings.Contains(haystack, "RESOURCE_EXHAUSTED"),
		strings.Contains(haystack, "MODEL_CAPACITY_EXHAUSTED"):
		return ReasonModelCapacity
	case strings.Contains(haystack, "INTERNAL"),
		strings.Contains(haystack, "SERVER_ERROR"):
		return ReasonServerError
	}
	return ""
}
