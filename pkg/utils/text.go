// Package utils provides shared utilities for text, math, and logging.
package utils

// Truncate returns s truncated to at most maxLen bytes without splitting a
// UTF-8 sequence, with "..." appended if anything was cut. If maxLen is 0 or
// negative, s is returned unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}
