// Package util provides shared utility functions used across the codebase.
package util

import "strings"

// OneLine collapses every run of whitespace in s to a single space and
// truncates the result to maxLen runes, adding "..." if truncated. It keeps
// multi-line scripts readable in log lines.
func OneLine(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
