package summarizer

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Input describes the payload for a description request.
type Input struct {
	// Title is the article headline, used as extra context.
	Title string
	// Text contains the plain article text to describe.
	Text string
	// SourceURL is optional metadata that helps the model reference the origin.
	SourceURL string
}

// Summarizer produces a single short description for a given article.
type Summarizer interface {
	Summarize(ctx context.Context, input Input) (string, error)
}

// Excerpt cuts text to at most maxRunes runes on a word boundary and marks the cut with an ellipsis.
// Whitespace runs are collapsed first.
func Excerpt(text string, maxRunes int) string {
	text = strings.Join(strings.Fields(text), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	runes := []rune(text)
	cut := string(runes[:maxRunes])

	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}

	return strings.TrimRight(cut, " ,.;:-") + "…"
}
