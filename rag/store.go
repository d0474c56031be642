package rag

import (
	"fmt"
	"sort"
)

// VectorIndex is a brute-force nearest-neighbour index over chunk embeddings.
// It is immutable once built; loading a new document builds a new one.
type VectorIndex struct {
	dimension int
	chunks    []Chunk
	vectors   []Vector
}

// BuildIndex pairs chunks[i] with vectors[i]. Every vector must have the same
// dimension.
func BuildIndex(chunks []Chunk, vectors []Vector) (*VectorIndex, error) {
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("index build: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("index build: %w", ErrEmptyDocument)
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: vector 0 is empty", ErrDimensionMismatch)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}

	idx := &VectorIndex{
		dimension: dim,
		chunks:    make([]Chunk, len(chunks)),
		vectors:   make([]Vector, len(vectors)),
	}
	copy(idx.chunks, chunks)
	for i, v := range vectors {
		idx.vectors[i] = append(Vector(nil), v...)
	}
	return idx, nil
}

func (x *VectorIndex) Len() int       { return len(x.chunks) }
func (x *VectorIndex) Dimension() int { return x.dimension }

// Chunks returns a copy of the indexed chunks in insertion order.
func (x *VectorIndex) Chunks() []Chunk {
	out := make([]Chunk, len(x.chunks))
	copy(out, x.chunks)
	return out
}

// squared euclidean distance, no sqrt needed for ranking
func squaredL2(a, b Vector) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Query returns the min(k, Len()) chunks closest to v, nearest first. Equal
// distances keep insertion order.
func (x *VectorIndex) Query(v Vector, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}
	if len(v) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(v), x.dimension)
	}

	results := make([]SearchResult, len(x.chunks))
	for i, ch := range x.chunks {
		results[i] = SearchResult{
			Chunk:    ch,
			Distance: squaredL2(v, x.vectors[i]),
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}
