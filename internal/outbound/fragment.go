package outbound

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var placeholderToken = regexp.MustCompile(`@[0-9a-f]{8}@`)

// Fragment splits text into ordered segments of at most maxLen characters,
// preserving read order. A body within the limit yields exactly one segment.
// Splits happen at whitespace when possible and never inside a multi-byte
// character or an unresolved placeholder token.
func Fragment(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return []string{""}
	}

	var segments []string
	for utf8.RuneCountInString(text) > maxLen {
		cut := splitPoint(text, maxLen)
		segments = append(segments, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	segments = append(segments, text)
	return segments
}

// splitPoint returns the byte offset to cut text at so that the head holds
// at most maxLen runes. It prefers the last newline, then the last space,
// before the limit; with no whitespace it hard-cuts on a rune boundary,
// backing out of a placeholder token if the cut would land inside one.
func splitPoint(text string, maxLen int) int {
	// Byte offset of the rune after position maxLen.
	limit := len(text)
	count := 0
	for i := range text {
		if count == maxLen {
			limit = i
			break
		}
		count++
	}

	head := text[:limit]
	if idx := strings.LastIndexByte(head, '\n'); idx > 0 {
		return idx
	}
	if idx := strings.LastIndexByte(head, ' '); idx > 0 {
		return idx
	}

	// Hard cut. Move the cut before any placeholder token it would split.
	for _, loc := range placeholderToken.FindAllStringIndex(text, -1) {
		if loc[0] < limit && loc[1] > limit {
			if loc[0] > 0 {
				return loc[0]
			}
			return loc[1]
		}
	}
	return limit
}
