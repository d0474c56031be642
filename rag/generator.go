package rag

import (
	"context"
	"fmt"
	"strings"
)

const (
	// FallbackAnswer is returned when the model produced nothing usable.
	FallbackAnswer = "I could not find an answer."

	systemInstruction = "You are a helpful assistant answering questions about a document. " +
		"Answer using only the context provided. If the context does not contain the answer, " +
		"say that you could not find it in the document."
)

// Prompt is everything the generator needs for one answer.
type Prompt struct {
	Question string
	Context  []Chunk
	// History holds earlier turns of the session, oldest first.
	History []Turn
}

// Generator produces an answer constrained to the prompt's context.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// BuildContext joins chunks in retrieval order into one block.
func BuildContext(chunks []Chunk) string {
	var b strings.Builder
	for i, ch := range chunks {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		b.WriteString(strings.TrimSpace(ch.Text))
	}
	return b.String()
}

func userMessage(p Prompt) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s", BuildContext(p.Context), p.Question)
}
