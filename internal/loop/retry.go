package loop

import (
	"strings"
)

// classifyProviderError buckets a provider error into a retry reason
// using substring heuristics over the error text, since provider SDKs
// disagree on error types.
func classifyProviderError(err error) string {
	if err == nil {
		return "unknown"
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"), strings.Contains(s, "context deadline"):
		return "timeout"
	case strings.Contains(s, "rate limit"), strings.Contains(s, "rate_limit"), strings.Contains(s, "too many requests"), strings.Contains(s, "429"):
		return "rate_limit"
	case strings.Contains(s, "internal server"), strings.Contains(s, "server error"), strings.Contains(s, "overloaded"), strings.Contains(s, "500"), strings.Contains(s, "502"), strings.Contains(s, "503"), strings.Contains(s, "504"), strings.Contains(s, "529"):
		return "server_error"
	default:
		return "unknown"
	}
}

// isRetryableProviderError reports whether err warrants a retry with
// backoff rather than failing the turn immediately.
func isRetryableProviderError(err error) bool {
	switch classifyProviderError(err) {
	case "timeout", "rate_limit", "server_error":
		return true
	default:
		return false
	}
}
