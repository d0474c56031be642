package rag

import "errors"

var (
	ErrExtraction         = errors.New("document extraction failed")
	ErrPageExtraction     = errors.New("page extraction failed")
	ErrEmptyDocument      = errors.New("no text extracted from document")
	ErrInvalidChunkParams = errors.New("invalid chunk parameters")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrInvalidK           = errors.New("k must be positive")
	ErrEmbedding          = errors.New("embedding failed")
	ErrGeneration         = errors.New("answer generation failed")
	ErrIndexNotBuilt      = errors.New("index not built")
	ErrTransient          = errors.New("transient failure")
)
