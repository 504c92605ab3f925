// Package utils provides shared utilities for text, math, and logging.
package utils

import "strings"

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// EstimateTokens approximates the token count of text as word count scaled by
// tokensPerWord. It is a reproducible estimate, not a real tokenizer; 1.3 is a
// reasonable ratio for English prose.
func EstimateTokens(text string, tokensPerWord float64) int {
	if tokensPerWord <= 0 {
		tokensPerWord = 1.3
	}
	return int(float64(len(strings.Fields(text))) * tokensPerWord)
}
