package rag

import "fmt"

// Split cuts text into fixed-size windows of size runes, each starting
// size-overlap runes after the previous one. The last window may be shorter.
// text must be valid UTF-8, otherwise chunk text no longer matches the offsets.
func Split(text string, size, overlap int) ([]Chunk, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunkParams, size, overlap)
	}

	runes := []rune(text)
	total := len(runes)
	step := size - overlap

	var chunks []Chunk
	for start := 0; start < total; start += step {
		end := start + size
		if end > total {
			end = total
		}
		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Text:        string(runes[start:end]),
			StartOffset: start,
			EndOffset:   end,
		})
		// a window reaching the end already covers whatever the next one would
		if end == total {
			break
		}
	}
	return chunks, nil
}

// ChunkTexts returns the text of each chunk, in order.
func ChunkTexts(chunks []Chunk) []string {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	return texts
}
