package content

import (
	"strings"
	"unicode/utf8"
)

// Projection is the derived plain-text view of a delta.
type Projection struct {
	Text      string
	WordCount int
	CharCount int
}

// Project computes the plain-text projection of d in one pass over its ops.
// Embeds contribute nothing, matching the widget's getText().
func Project(d Delta) Projection {
	var b strings.Builder
	for _, op := range d.Ops {
		if s, ok := op.Text(); ok {
			b.WriteString(s)
		}
	}
	text := b.String()
	return Projection{
		Text:      text,
		WordCount: CountWords(text),
		CharCount: utf8.RuneCountInString(text),
	}
}

// CountWords counts whitespace-separated tokens.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
