package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pdfchat/logger"
)

const (
	// GuardMessage answers questions asked before any document is loaded.
	GuardMessage = "Please load a document first."
	// UnavailableMessage answers questions whose remote calls kept failing.
	UnavailableMessage = "The answering service is unavailable right now. Please try again in a moment."
	// IncompatibleIndexMessage answers questions whose embedding no longer
	// matches the loaded index, e.g. after switching embedding models.
	IncompatibleIndexMessage = "The loaded document was indexed with a different embedding model. Please upload it again."
)

type State int

const (
	StateEmpty State = iota
	StateIndexed
)

func (s State) String() string {
	if s == StateIndexed {
		return "indexed"
	}
	return "empty"
}

type AnswerStatus string

const (
	StatusAnswered     AnswerStatus = "answered"
	StatusNoDocument   AnswerStatus = "no_document"
	StatusUnavailable  AnswerStatus = "unavailable"
	StatusIncompatible AnswerStatus = "incompatible_index"
)

// Answer is what the user sees for one question. Text is always set.
type Answer struct {
	Text    string         `json:"answer"`
	Status  AnswerStatus   `json:"status"`
	Sources []SearchResult `json:"sources,omitempty"`
}

type LoadResult struct {
	Document    string `json:"document"`
	IndexName   string `json:"index_name"`
	Pages       int    `json:"pages"`
	FailedPages int    `json:"failed_pages"`
	Chunks      int    `json:"chunks"`
	Dimension   int    `json:"dimension"`
	FromCache   bool   `json:"from_cache"`
}

type EngineStatus struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Document  string `json:"document,omitempty"`
	Chunks    int    `json:"chunks"`
	Dimension int    `json:"dimension"`
	Turns     int    `json:"turns"`
}

type EngineConfig struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	// HistoryTurns is how many earlier turns are sent along with a question.
	HistoryTurns int
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{ChunkSize: 1000, ChunkOverlap: 100, TopK: 3, HistoryTurns: 6}
}

// Deps are the collaborators a ChatEngine is built from. Indexes and History
// may be nil.
type Deps struct {
	Extractor Extractor
	Embedder  Embedder
	Generator Generator
	Indexes   IndexStore
	History   HistoryStore
	Logger    logger.Logger
}

// ChatEngine owns one session: at most one indexed document and the
// conversation about it. Calls are serialised.
type ChatEngine struct {
	mu        sync.Mutex
	sessionID string
	cfg       EngineConfig
	deps      Deps
	log       logger.Logger
	tracer    trace.Tracer

	index   *VectorIndex
	docName string
	turns   []Turn
}

// NewChatEngine starts a session in the Empty state, restoring any persisted
// history for sessionID.
func NewChatEngine(ctx context.Context, sessionID string, cfg EngineConfig, deps Deps) *ChatEngine {
	if deps.Extractor == nil {
		deps.Extractor = NewPDFExtractor()
	}
	if deps.History == nil {
		deps.History = NopHistoryStore{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultEngineConfig().TopK
	}

	e := &ChatEngine{
		sessionID: sessionID,
		cfg:       cfg,
		deps:      deps,
		log:       deps.Logger,
		tracer:    otel.Tracer("pdfchat/rag"),
	}

	turns, err := deps.History.Load(ctx, sessionID)
	if err != nil {
		e.log.Warn("engine", "could not restore history", map[string]interface{}{
			"session": sessionID,
			"error":   err,
		})
	}
	e.turns = turns
	return e
}

func (e *ChatEngine) SessionID() string { return e.sessionID }

func (e *ChatEngine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state()
}

func (e *ChatEngine) state() State {
	if e.index == nil {
		return StateEmpty
	}
	return StateIndexed
}

func (e *ChatEngine) Status() EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := EngineStatus{
		SessionID: e.sessionID,
		State:     e.state().String(),
		Document:  e.docName,
		Turns:     len(e.turns),
	}
	if e.index != nil {
		st.Chunks = e.index.Len()
		st.Dimension = e.index.Dimension()
	}
	return st
}

// History returns a copy of the conversation, oldest turn first.
func (e *ChatEngine) History() []Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Turn, len(e.turns))
	copy(out, e.turns)
	return out
}

func (e *ChatEngine) ClearHistory(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.turns = nil
	if err := e.deps.History.Clear(ctx, e.sessionID); err != nil {
		e.log.Warn("engine", "could not clear persisted history", map[string]interface{}{
			"session": e.sessionID,
			"error":   err,
		})
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Load extracts, chunks, embeds and indexes a document, replacing the current
// one. On failure the previous state is kept.
func (e *ChatEngine) Load(ctx context.Context, name string, data []byte) (res *LoadResult, err error) {
	ctx, span := e.tracer.Start(ctx, "ChatEngine.Load", trace.WithAttributes(
		attribute.String("session", e.sessionID),
		attribute.String("document", name),
		attribute.Int("bytes", len(data)),
	))
	defer func() { endSpan(span, err) }()

	doc, err := e.deps.Extractor.Extract(name, data)
	if err != nil {
		e.log.Error("engine", "extraction failed", map[string]interface{}{
			"session":  e.sessionID,
			"document": name,
			"error":    err,
		})
		return nil, err
	}
	for _, p := range doc.FailedPages() {
		e.log.Warn("extractor", "page skipped", map[string]interface{}{
			"document": name,
			"page":     p.Number,
			"error":    p.Err,
		})
	}

	res, err = e.loadText(ctx, name, doc.Text())
	if err != nil {
		return nil, err
	}
	res.Pages = len(doc.Pages)
	res.FailedPages = len(doc.FailedPages())
	return res, nil
}

// LoadText indexes already-extracted text.
func (e *ChatEngine) LoadText(ctx context.Context, name, text string) (res *LoadResult, err error) {
	ctx, span := e.tracer.Start(ctx, "ChatEngine.LoadText", trace.WithAttributes(
		attribute.String("session", e.sessionID),
		attribute.String("document", name),
	))
	defer func() { endSpan(span, err) }()

	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", ErrExtraction, name)
	}
	res, err = e.loadText(ctx, name, text)
	if err != nil {
		return nil, err
	}
	res.Pages = 1
	return res, nil
}

func (e *ChatEngine) loadText(ctx context.Context, name, text string) (*LoadResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	indexName := IndexName(name, text)
	modelInfo := e.deps.Embedder.ModelInfo()

	if idx := e.cachedIndex(indexName, modelInfo); idx != nil {
		e.index, e.docName = idx, name
		e.log.Info("engine", "document loaded from persisted index", map[string]interface{}{
			"session": e.sessionID,
			"index":   indexName,
			"chunks":  idx.Len(),
		})
		return &LoadResult{Document: name, IndexName: indexName, Chunks: idx.Len(), Dimension: idx.Dimension(), FromCache: true}, nil
	}

	chunks, err := Split(text, e.cfg.ChunkSize, e.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	vectors, err := e.deps.Embedder.Embed(ctx, ChunkTexts(chunks))
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrEmbedding, err)
		e.log.Error("engine", "embedding chunks failed", map[string]interface{}{
			"session": e.sessionID,
			"chunks":  len(chunks),
			"error":   err,
		})
		return nil, err
	}

	idx, err := BuildIndex(chunks, vectors)
	if err != nil {
		e.log.Error("engine", "index build failed", map[string]interface{}{
			"session": e.sessionID,
			"error":   err,
		})
		return nil, err
	}

	if e.deps.Indexes != nil {
		snap := NewSnapshot(idx, modelInfo, name, e.cfg.ChunkSize, e.cfg.ChunkOverlap)
		if err := e.deps.Indexes.Save(indexName, snap); err != nil {
			e.log.Warn("engine", "could not persist index", map[string]interface{}{
				"index": indexName,
				"error": err,
			})
		}
	}

	e.index, e.docName = idx, name
	e.log.Info("engine", "document indexed", map[string]interface{}{
		"session":   e.sessionID,
		"document":  name,
		"chunks":    idx.Len(),
		"dimension": idx.Dimension(),
	})
	return &LoadResult{Document: name, IndexName: indexName, Chunks: idx.Len(), Dimension: idx.Dimension()}, nil
}

// cachedIndex returns a persisted index for name if it was built with the
// same model and chunk settings. Anything unusable is logged and ignored.
func (e *ChatEngine) cachedIndex(name, modelInfo string) *VectorIndex {
	if e.deps.Indexes == nil {
		return nil
	}
	snap, err := e.deps.Indexes.Load(name)
	if err != nil {
		if !errors.Is(err, ErrSnapshotNotFound) {
			e.log.Warn("engine", "ignoring unreadable persisted index", map[string]interface{}{
				"index": name,
				"error": err,
			})
		}
		return nil
	}
	if snap.ModelInfo != modelInfo || snap.ChunkSize != e.cfg.ChunkSize || snap.ChunkOverlap != e.cfg.ChunkOverlap {
		e.log.Info("engine", "persisted index is stale, rebuilding", map[string]interface{}{
			"index":       name,
			"saved_model": snap.ModelInfo,
			"model":       modelInfo,
		})
		return nil
	}
	idx, err := snap.Index()
	if err != nil {
		e.log.Warn("engine", "ignoring invalid persisted index", map[string]interface{}{
			"index": name,
			"error": err,
		})
		return nil
	}
	return idx
}

// IndexName names the persisted index of a document by its base name and a
// hash of its text, so re-uploading the same content reuses it.
func IndexName(documentName, text string) string {
	base := strings.TrimSuffix(filepath.Base(documentName), filepath.Ext(documentName))
	base = unsafeNameChars.ReplaceAllString(base, "_")
	if base == "" || base == "." || base == "_" {
		base = "document"
	}
	sum := sha256.Sum256([]byte(text))
	return base + "-" + hex.EncodeToString(sum[:8])
}

// Search runs retrieval only, without generating an answer.
func (e *ChatEngine) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if k <= 0 {
		k = e.cfg.TopK
	}
	return NewRetriever(e.deps.Embedder, e.index).Retrieve(ctx, query, k)
}

// Ask answers question from the loaded document. It never fails: problems
// are logged and turned into a user-facing text, and only answered questions
// are added to the history.
func (e *ChatEngine) Ask(ctx context.Context, question string) Answer {
	ctx, span := e.tracer.Start(ctx, "ChatEngine.Ask", trace.WithAttributes(
		attribute.String("session", e.sessionID),
	))
	var spanErr error
	defer func() { endSpan(span, spanErr) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index == nil {
		return Answer{Text: GuardMessage, Status: StatusNoDocument}
	}

	results, err := NewRetriever(e.deps.Embedder, e.index).Retrieve(ctx, question, e.cfg.TopK)
	if err != nil {
		spanErr = err
		return e.failedAnswer("retrieval failed", err)
	}
	span.SetAttributes(attribute.Int("retrieved", len(results)))

	chunks := make([]Chunk, len(results))
	for i, r := range results {
		chunks[i] = r.Chunk
	}

	text, err := e.deps.Generator.Generate(ctx, Prompt{
		Question: question,
		Context:  chunks,
		History:  e.recentTurns(),
	})
	if err != nil {
		spanErr = err
		return e.failedAnswer("generation failed", err)
	}

	turns := []Turn{{Role: RoleUser, Content: question}, {Role: RoleAssistant, Content: text}}
	e.turns = append(e.turns, turns...)
	if err := e.deps.History.Append(ctx, e.sessionID, turns...); err != nil {
		e.log.Warn("engine", "could not persist history", map[string]interface{}{
			"session": e.sessionID,
			"error":   err,
		})
	}

	return Answer{Text: text, Status: StatusAnswered, Sources: results}
}

func (e *ChatEngine) failedAnswer(message string, err error) Answer {
	e.log.Error("engine", message, map[string]interface{}{
		"session": e.sessionID,
		"error":   err,
	})
	if errors.Is(err, ErrDimensionMismatch) {
		return Answer{Text: IncompatibleIndexMessage, Status: StatusIncompatible}
	}
	return Answer{Text: UnavailableMessage, Status: StatusUnavailable}
}

func (e *ChatEngine) recentTurns() []Turn {
	n := e.cfg.HistoryTurns
	if n <= 0 {
		return nil
	}
	if n > len(e.turns) {
		n = len(e.turns)
	}
	out := make([]Turn, n)
	copy(out, e.turns[len(e.turns)-n:])
	return out
}
