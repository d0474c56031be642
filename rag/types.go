package rag

// Vector is an embedding of one piece of text.
type Vector []float64

// Chunk of a document. Offsets are rune offsets into the extracted text.
type Chunk struct {
	Index       int    `json:"index"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
}

// SearchResult is a chunk with its squared euclidean distance to the query.
type SearchResult struct {
	Chunk    Chunk   `json:"chunk"`
	Distance float64 `json:"distance"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message of a session's conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
