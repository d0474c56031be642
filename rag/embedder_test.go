package rag

import (
	"context"
	"testing"
)

func TestSimpleEmbedder_Deterministic(t *testing.T) {
	e := NewSimpleEmbedder()

	text := "Go is great for AI."
	v, err := e.Embed(context.Background(), []string{text, text})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(v[0]) == 0 {
		t.Fatalf("expected non-empty embedding")
	}
	if len(v[0]) != len(v[1]) {
		t.Fatalf("embeddings length mismatch: %d vs %d", len(v[0]), len(v[1]))
	}
	for i := range v[0] {
		if v[0][i] != v[1][i] {
			t.Fatalf("embeddings not deterministic at index %d: %v vs %v", i, v[0][i], v[1][i])
		}
	}
}

func TestSimpleEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := NewSimpleEmbedder()

	v, _ := e.Embed(context.Background(), []string{"short", "a much longer string"})

	if len(v[0]) != len(v[1]) {
		t.Fatalf("expected same dimension, got %d vs %d", len(v[0]), len(v[1]))
	}

	// they should differ in at least one dimension
	different := false
	for i := range v[0] {
		if v[0][i] != v[1][i] {
			different = true
			break
		}
	}
	if !different {
		t.Fatalf("expected different embeddings for different texts")
	}
}

func TestSimpleEmbedder_KeepsOrder(t *testing.T) {
	e := NewSimpleEmbedder()

	v, _ := e.Embed(context.Background(), []string{"aaaa", "b", ""})
	if len(v) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(v))
	}
	if v[0][0] != 4 || v[1][0] != 1 || v[2][0] != 0 {
		t.Fatalf("vectors out of order: %v", v)
	}
}

func TestSimpleEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewSimpleEmbedder().Embed(ctx, []string{"x"}); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
