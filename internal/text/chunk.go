package text

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the Telegram limit for one text message, in characters.
const MaxMessageLength = 4096

// Chunk splits s into pieces of at most limit runes, preferring paragraph,
// then line, then word boundaries.
func Chunk(s string, limit int) []string {
	if limit <= 0 {
		limit = MaxMessageLength
	}
	var chunks []string
	for utf8.RuneCountInString(s) > limit {
		head := string([]rune(s)[:limit])
		cut := strings.LastIndex(head, "\n\n")
		if cut <= 0 {
			cut = strings.LastIndex(head, "\n")
		}
		if cut <= 0 {
			cut = strings.LastIndex(head, " ")
		}
		if cut <= 0 {
			cut = len(head)
		}
		chunks = append(chunks, strings.TrimSpace(s[:cut]))
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
