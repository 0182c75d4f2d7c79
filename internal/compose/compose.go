// Package compose turns an inbound message plus retrieved context into a
// threaded reply draft.
package compose

import (
	"context"
	"fmt"
	"strings"

	"replydraft/internal/apperr"
	"replydraft/internal/model"
	"replydraft/internal/util"
)

// PromptBodyChars is how much of the inbound body the prompt includes.
const PromptBodyChars = 1000

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Composer drafts reply bodies.
type Composer struct {
	gen Generator
}

func New(gen Generator) *Composer {
	return &Composer{gen: gen}
}

// Compose generates the reply body. A blank generation is reported as
// apperr.ErrEmptyGeneration.
func (c *Composer) Compose(ctx context.Context, msg model.Message, snippets []model.ContextSnippet) (string, error) {
	out, err := c.gen.Generate(ctx, Prompt(msg, snippets))
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", apperr.ErrEmptyGeneration
	}
	return out, nil
}

// Prompt renders the generation prompt.
func Prompt(msg model.Message, snippets []model.ContextSnippet) string {
	subject := msg.Subject()
	if subject == "" {
		subject = "No Subject"
	}
	from := msg.From()
	if from == "" {
		from = "Unknown"
	}

	var b strings.Builder
	b.WriteString("You are a helpful email assistant. Draft a professional reply to the following email.\n\n")
	b.WriteString("Original Email:\n")
	fmt.Fprintf(&b, "From: %s\nTo: %s\nSubject: %s\n\n", from, msg.To(), subject)
	fmt.Fprintf(&b, "Body:\n%s", util.Truncate(msg.BodyText, PromptBodyChars))

	if len(snippets) > 0 {
		b.WriteString("\n\nRelevant Knowledge Base Context:\n")
		for i, s := range snippets {
			fmt.Fprintf(&b, "[Context %d] Relevance: %.2f\n", i+1, s.Relevance)
			if text := strings.TrimSpace(s.Text); text != "" {
				b.WriteString(text)
				b.WriteString("\n")
			}
		}
		b.WriteString("\nUse this context to provide accurate, informed responses when relevant.\n")
	}

	b.WriteString(`
Draft a professional, concise reply that:
- Addresses the sender by name if available
- Responds to the key points in the email
- Uses the provided context when relevant to answer questions or provide accurate information
- Maintains a professional tone
- Includes a polite closing

Provide only the email body text (no subject line, no headers).`)
	return b.String()
}
