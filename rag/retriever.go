package rag

import (
	"context"
	"fmt"
)

// Retriever embeds a question and looks it up in the current index.
type Retriever struct {
	embedder Embedder
	index    *VectorIndex
}

func NewRetriever(embedder Embedder, index *VectorIndex) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve returns the k chunks nearest to query, most similar first.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if r.index == nil {
		return nil, ErrIndexNotBuilt
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", ErrEmbedding)
	}

	return r.index.Query(vectors[0], k)
}
