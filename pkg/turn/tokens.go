package turn

// EstimateTokens approximates the token count of text when the model did not
// report one. Rough heuristic: 1 token ≈ 4 characters of English text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + 3) / 4
	if n < 1 {
		n = 1
	}
	return n
}
