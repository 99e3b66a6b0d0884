package utils

// Truncate shortens s to maxLen characters, appending "..." when truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
