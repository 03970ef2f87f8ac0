package util

import (
	"html"
	"regexp"
	"strings"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeKey normalizes a logical storage key: everything outside
// [a-zA-Z0-9_-] becomes an underscore, truncated to 50 characters.
func SanitizeKey(key string) string {
	clean := unsafeKeyChars.ReplaceAllString(key, "_")
	if len(clean) > 50 {
		clean = clean[:50]
	}
	return clean
}

// SanitizeInput escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious reports whether a string carries script-injection
// looking fragments. Used as a cheap pre-filter on login identifiers.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
