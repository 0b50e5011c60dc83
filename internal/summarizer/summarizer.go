package summarizer

import (
	"context"
	"strconv"
	"strings"
)

// Input is a post caption that is too long for a chat notification.
type Input struct {
	Text      string
	SourceURL string
	// Author is the screen name of the original poster.
	Author string
	// Labels name the media services the post links to.
	Labels []string
	// MaxRunes bounds the summary length. Zero means no bound.
	MaxRunes int
}

type Summarizer interface {
	Summarize(ctx context.Context, input Input) (string, error)
}

// userPrompt renders the request body sent to the model.
func userPrompt(input Input) string {
	var b strings.Builder

	if author := strings.TrimSpace(input.Author); author != "" {
		b.WriteString("Author: @")
		b.WriteString(strings.TrimPrefix(author, "@"))
		b.WriteString("\n")
	}
	if sourceURL := strings.TrimSpace(input.SourceURL); sourceURL != "" {
		b.WriteString("Source: ")
		b.WriteString(sourceURL)
		b.WriteString("\n")
	}
	if len(input.Labels) > 0 {
		b.WriteString("Links to: ")
		b.WriteString(strings.Join(input.Labels, ", "))
		b.WriteString("\n")
	}
	if input.MaxRunes > 0 {
		b.WriteString("Max characters: ")
		b.WriteString(strconv.Itoa(input.MaxRunes))
		b.WriteString("\n")
	}

	b.WriteString("Post:\n")
	b.WriteString(strings.TrimSpace(input.Text))

	return b.String()
}
