// Package text cleans model output before it is sent to a chat and splits
// long replies into message-sized chunks.
package text

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	minNewlinesThreshold = 3
)

var (
	// controlCharsRegex matches ASCII control characters (including DEL 0x7F) except tab and newline.
	controlCharsRegex = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

	// multipleNewlinesRegex matches runs of 3 or more newlines.
	multipleNewlinesRegex = regexp.MustCompile("\n{" + strconv.Itoa(minNewlinesThreshold) + ",}")

	// unicodeReplacer removes invisible characters and maps exotic spaces and separators.
	unicodeReplacer = strings.NewReplacer(
		"\u2060", "", // Word Joiner
		"\uFEFF", "", // Byte Order Mark
		"\u00AD", "", // Soft Hyphen

		"\u200E", "", // Left-to-Right Mark
		"\u200F", "", // Right-to-Left Mark

		"\u2061", "", // Function Application
		"\u2062", "", // Invisible Times
		"\u2063", "", // Invisible Separator
		"\u2064", "", // Invisible Plus

		"\u2028", "\n", // Line Separator
		"\u2029", "\n\n", // Paragraph Separator
		"\u200B", " ", // Zero Width Space
		"\u200C", " ", // Zero Width Non-Joiner
		"\u205F", " ", // Medium Mathematical Space
		"\u2009", " ", // Thin Space
		"\u200A", " ", // Hair Space
		"\u202F", " ", // Narrow No-Break Space
		"\u3000", " ", // Ideographic Space
		"\u00A0", " ", // Non-breaking Space
	)
)
