package backend

import (
	"errors"
	"strings"

	"google.golang.org/genai"
)

// transientPatterns groups error substrings by category, matched
// case-insensitively against err.Error(). String matching is the fallback
// for errors the SDK does not surface as a typed APIError.
var transientPatterns = [][]string{
	{"rate limit", "quota exceeded", "resource_exhausted", "429"},
	{"500", "502", "503", "504", "unavailable", "overloaded"},
	{"connection reset", "timeout", "temporary"},
}

// IsTransient reports whether err is a transient backend failure worth
// retrying on a different credential.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || (apiErr.Code >= 500 && apiErr.Code < 600)
	}
	msg := err.Error()
	for _, group := range transientPatterns {
		if containsAny(msg, group...) {
			return true
		}
	}
	return false
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
