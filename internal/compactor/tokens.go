package compactor

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Character-per-token ratios by script class, measured over code points.
const (
	asciiCharsPerToken = 4.0
	cjkCharsPerToken   = 1.5
)

// EstimateTokens estimates the token count of text from its character
// composition: ASCII at ~4 chars/token, CJK (wide runes) at ~1.5.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	ascii, cjk := 0, 0
	for _, r := range text {
		if r < 128 {
			ascii++
		} else if runewidth.RuneWidth(r) == 2 {
			cjk++
		} else {
			// Narrow non-ASCII (accented latin, cyrillic, …) tokenizes
			// closer to ASCII than to CJK.
			ascii++
		}
	}
	est := float64(ascii)/asciiCharsPerToken + float64(cjk)/cjkCharsPerToken
	return int(est + 0.5)
}

// TruncateToTokens cuts text down to roughly budget tokens, preferring to
// cut at the last newline or space past the midpoint of the allowed span.
// It trims iteratively while the estimate still exceeds the budget.
func TruncateToTokens(text string, budget int) string {
	if budget <= 0 || EstimateTokens(text) <= budget {
		return text
	}

	runes := []rune(text)
	for EstimateTokens(string(runes)) > budget && len(runes) > 0 {
		// Proportional cut toward the budget.
		est := EstimateTokens(string(runes))
		keep := len(runes) * budget / est
		if keep >= len(runes) {
			keep = len(runes) - 1
		}
		candidate := string(runes[:keep])

		// Prefer a clean break past the midpoint.
		cut := strings.LastIndexAny(candidate, "\n")
		if cut < len(candidate)/2 {
			cut = strings.LastIndexAny(candidate, " \n")
		}
		if cut >= len(candidate)/2 {
			candidate = candidate[:cut]
		}
		runes = []rune(strings.TrimRight(candidate, " \n"))
	}
	return string(runes)
}
