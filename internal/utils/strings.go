// Package utils provides common utility functions.
package utils

import "unicode/utf8"

// MaskKey masks a bearer token for safe logging (shows first 8 and last 4 chars).
// Tokens are never logged any other way.
func MaskKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) < 16 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// MaskKeyShort masks a token showing only first 4 and last 4 chars.
// Used by the operator CLI output.
func MaskKeyShort(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// Preview bounds a payload for log output. The cut never splits a UTF-8
// sequence, so the result is always valid text.
func Preview(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...(truncated)"
}
