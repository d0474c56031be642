package rag

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/pdftest"
)

func TestPDFExtractor_Pages(t *testing.T) {
	data := pdftest.Build("Hello from page one", "Second page text")

	doc, err := NewPDFExtractor().Extract("two.pdf", data)
	require.NoError(t, err)

	require.Len(t, doc.Pages, 2)
	assert.Equal(t, 1, doc.Pages[0].Number)
	assert.Contains(t, doc.Pages[0].Text, "Hello from page one")
	assert.Contains(t, doc.Pages[1].Text, "Second page text")
	assert.Empty(t, doc.FailedPages())
	assert.Contains(t, doc.Text(), "Second page text")
}

func TestPDFExtractor_PlainTextFallback(t *testing.T) {
	doc, err := NewPDFExtractor().Extract("notes.txt", []byte("just some notes"))
	require.NoError(t, err)

	require.Len(t, doc.Pages, 1)
	assert.Equal(t, "just some notes", doc.Text())
}

func TestPDFExtractor_Rejects(t *testing.T) {
	// a BOM before the header still marks a PDF, not a text file
	cases := map[string][]byte{
		"empty":               nil,
		"binary":              {0xff, 0xfe, 0x00, 0x81},
		"broken pdf":          []byte("%PDF-1.4\nthis is not really a pdf"),
		"bom then broken pdf": []byte("\xef\xbb\xbf%PDF-1.4\nthis is not really a pdf"),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewPDFExtractor().Extract(name, data)
			assert.True(t, errors.Is(err, ErrExtraction), "got %v", err)
		})
	}
}

func TestDocument_TextSkipsFailedPages(t *testing.T) {
	doc := &Document{Pages: []PageText{
		{Number: 1, Text: "first"},
		{Number: 2, Err: ErrPageExtraction},
		{Number: 3, Text: "third"},
	}}

	assert.Equal(t, "first\nthird", doc.Text())
	failed := doc.FailedPages()
	require.Len(t, failed, 1)
	assert.Equal(t, 2, failed[0].Number)
}

func TestLooksLikePDF(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"header first", []byte("%PDF-1.7\n"), true},
		{"bom", []byte("\xef\xbb\xbf%PDF-1.4"), true},
		{"leading whitespace", []byte("\r\n  %PDF-1.4"), true},
		{"header past first KiB", append(bytes.Repeat([]byte(" "), 1024), "%PDF-1.4"...), false},
		{"plain text", []byte("a note about %PDF files"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, looksLikePDF(tt.data))
		})
	}
}
