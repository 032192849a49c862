package util

import (
	"html"
	"strings"
)

// SanitizeInput trims and HTML-escapes free-text input before it reaches
// a query or a response body
func SanitizeInput(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

// ContainsSuspicious flags input that looks like injection rather than a
// search term
func ContainsSuspicious(s string) bool {
	lowered := strings.ToLower(s)
	for _, pattern := range []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"} {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}
