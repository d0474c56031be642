package rag

import "context"

// Embedder maps a batch of texts to one vector per text, in the same order.
// A failure fails the whole batch.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]Vector, error)
	// ModelInfo identifies the model; persisted indexes built with a
	// different model are not reused.
	ModelInfo() string
}

// SimpleEmbedder is a deterministic offline embedder based on rune counts.
// It makes no network calls, which keeps tests and offline indexing cheap,
// but it is useless for semantics.
type SimpleEmbedder struct{}

func NewSimpleEmbedder() *SimpleEmbedder {
	return &SimpleEmbedder{}
}

func (e *SimpleEmbedder) ModelInfo() string { return "simple-v1" }

func (e *SimpleEmbedder) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = embedRuneCounts(text)
	}
	return out, nil
}

// fake 4D vector: length, vowels, consonants, spaces
func embedRuneCounts(text string) Vector {
	var length, vowels, consonants, spaces float64
	for _, r := range text {
		length++
		switch {
		case r == 'a' || r == 'e' || r == 'i' || r == 'o' || r == 'u' ||
			r == 'A' || r == 'E' || r == 'I' || r == 'O' || r == 'U':
			vowels++
		case r == ' ':
			spaces++
		default:
			consonants++
		}
	}
	return Vector{length, vowels, consonants, spaces}
}
