package rag

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// PageText is the outcome of extracting one page. A failed page has empty
// Text and a non-nil Err wrapping ErrPageExtraction.
type PageText struct {
	Number int
	Text   string
	Err    error
}

// Document is the extracted text of one uploaded file.
type Document struct {
	Name  string
	Pages []PageText
}

// Text joins the page texts in page order.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (d *Document) FailedPages() []PageText {
	var failed []PageText
	for _, p := range d.Pages {
		if p.Err != nil {
			failed = append(failed, p)
		}
	}
	return failed
}

// Extractor turns raw upload bytes into page texts.
type Extractor interface {
	Extract(name string, data []byte) (*Document, error)
}

// PDFExtractor reads PDFs with ledongthuc/pdf. Bytes that are not a PDF but
// are valid UTF-8 are accepted as a single plain-text page.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (e *PDFExtractor) Extract(name string, data []byte) (doc *Document, err error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrExtraction, name)
	}
	if !looksLikePDF(data) {
		if utf8.Valid(data) {
			return &Document{Name: name, Pages: []PageText{{Number: 1, Text: string(data)}}}, nil
		}
		return nil, fmt.Errorf("%w: %s is neither a PDF nor UTF-8 text", ErrExtraction, name)
	}

	// the pdf package panics on some malformed cross reference tables
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("%w: %s: %v", ErrExtraction, name, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExtraction, name, err)
	}

	total := r.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("%w: %s has no pages", ErrExtraction, name)
	}

	doc = &Document{Name: name, Pages: make([]PageText, 0, total)}
	for i := 1; i <= total; i++ {
		doc.Pages = append(doc.Pages, extractPage(r, i))
	}
	return doc, nil
}

// looksLikePDF accepts a header anywhere in the first KiB, as PDF readers do.
func looksLikePDF(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}

func extractPage(r *pdf.Reader, number int) (page PageText) {
	page.Number = number
	defer func() {
		if rec := recover(); rec != nil {
			page.Text = ""
			page.Err = fmt.Errorf("%w: page %d: %v", ErrPageExtraction, number, rec)
		}
	}()

	p := r.Page(number)
	if p.V.IsNull() {
		page.Err = fmt.Errorf("%w: page %d: missing page object", ErrPageExtraction, number)
		return page
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		page.Err = fmt.Errorf("%w: page %d: %w", ErrPageExtraction, number, err)
		return page
	}
	// some fonts decode to bytes that are not UTF-8; chunk offsets count runes
	page.Text = strings.ToValidUTF8(text, string(utf8.RuneError))
	return page
}
