// Package util holds small string helpers shared by logging call sites.
package util

import "unicode"

// Excerpt shortens s to at most maxRunes runes for logs, appending "..." when
// cut. The cut moves back to the last whitespace when one exists in the
// second half of the kept text.
func Excerpt(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return "..."[:maxRunes]
	}
	cut := maxRunes - 3
	for i := cut - 1; i > cut/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return string(runes[:cut]) + "..."
}
