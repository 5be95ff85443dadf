package text

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmpty is returned when there is nothing left to send.
var ErrEmpty = errors.New("empty text")

// normalizeLineWhitespace collapses runs of whitespace into one space and trims the line.
func normalizeLineWhitespace(line string) string {
	var strBuilder strings.Builder

	var space bool

	for _, r := range line {
		if unicode.IsSpace(r) {
			if !space {
				strBuilder.WriteRune(' ')

				space = true
			}
		} else {
			strBuilder.WriteRune(r)

			space = false
		}
	}

	return strings.TrimSpace(strBuilder.String())
}

// Sanitize normalizes line endings, removes invisible and control characters,
// collapses whitespace within lines and limits blank lines to one.
// It returns ErrEmpty if nothing remains.
func Sanitize(input string) (string, error) {
	if input == "" {
		return "", ErrEmpty
	}

	s := strings.ReplaceAll(input, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = unicodeReplacer.Replace(s)
	s = controlCharsRegex.ReplaceAllString(s, " ")

	parts := strings.Split(s, "\n")
	for i := range parts {
		parts[i] = normalizeLineWhitespace(parts[i])
	}

	s = strings.Join(parts, "\n")
	s = multipleNewlinesRegex.ReplaceAllString(s, "\n\n")

	result := strings.TrimSpace(s)
	if result == "" {
		return "", ErrEmpty
	}

	return result, nil
}
