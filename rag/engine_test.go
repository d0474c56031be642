package rag

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/internal/pdftest"
	"pdfchat/logger"
)

type fakeGenerator struct {
	answer  string
	err     error
	prompts []Prompt
}

func (g *fakeGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	g.prompts = append(g.prompts, p)
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

// countingEmbedder wraps the rune-count embedder and can be told to fail or
// to hang until the retry policy gives up.
type countingEmbedder struct {
	SimpleEmbedder
	embedded int
	err      error
	hang     bool
	extraDim bool
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	if e.err != nil {
		return nil, e.err
	}
	if e.hang {
		return retryCall(ctx, fastPolicy(), logger.NewNop(), "test", "embed", func(ctx context.Context) ([]Vector, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	}
	e.embedded += len(texts)
	out, err := e.SimpleEmbedder.Embed(ctx, texts)
	if e.extraDim {
		for i := range out {
			out[i] = append(out[i], 0)
		}
	}
	return out, err
}

const sampleText = "The cat sat on the mat. Dogs bark loudly at night. " +
	"Paris is the capital of France. The mitochondria is the powerhouse of the cell."

func newTestEngine(t *testing.T, cfg EngineConfig, emb Embedder, gen Generator, deps Deps) *ChatEngine {
	t.Helper()
	deps.Embedder = emb
	deps.Generator = gen
	return NewChatEngine(context.Background(), "test", cfg, deps)
}

func smallConfig() EngineConfig {
	return EngineConfig{ChunkSize: 40, ChunkOverlap: 5, TopK: 2, HistoryTurns: 4}
}

func TestChatEngine_AskBeforeLoad(t *testing.T) {
	gen := &fakeGenerator{answer: "never"}
	e := newTestEngine(t, smallConfig(), &countingEmbedder{}, gen, Deps{})

	assert.Equal(t, StateEmpty, e.State())
	ans := e.Ask(context.Background(), "anything?")

	assert.Equal(t, GuardMessage, ans.Text)
	assert.Equal(t, StatusNoDocument, ans.Status)
	assert.Empty(t, e.History())
	assert.Empty(t, gen.prompts)
}

func TestChatEngine_LoadThenAsk(t *testing.T) {
	gen := &fakeGenerator{answer: "Paris."}
	e := newTestEngine(t, smallConfig(), &countingEmbedder{}, gen, Deps{})

	res, err := e.LoadText(context.Background(), "notes.txt", sampleText)
	require.NoError(t, err)
	assert.Equal(t, StateIndexed, e.State())
	assert.Greater(t, res.Chunks, 1)
	assert.Equal(t, 4, res.Dimension)
	assert.False(t, res.FromCache)

	ans := e.Ask(context.Background(), "What is the capital of France?")
	assert.Equal(t, StatusAnswered, ans.Status)
	assert.Equal(t, "Paris.", ans.Text)
	assert.Len(t, ans.Sources, 2)

	require.Len(t, gen.prompts, 1)
	assert.Len(t, gen.prompts[0].Context, 2)
	assert.Empty(t, gen.prompts[0].History)

	assert.Equal(t, []Turn{
		{Role: RoleUser, Content: "What is the capital of France?"},
		{Role: RoleAssistant, Content: "Paris."},
	}, e.History())
}

func TestChatEngine_LoadPDF(t *testing.T) {
	e := newTestEngine(t, smallConfig(), &countingEmbedder{}, &fakeGenerator{answer: "ok"}, Deps{})

	data := pdftest.Build("First page about cats.", "Second page about dogs.")
	res, err := e.Load(context.Background(), "pets.pdf", data)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 0, res.FailedPages)
	assert.Equal(t, "pets.pdf", e.Status().Document)
}

func TestChatEngine_FailedLoadKeepsPreviousDocument(t *testing.T) {
	emb := &countingEmbedder{}
	e := newTestEngine(t, smallConfig(), emb, &fakeGenerator{answer: "ok"}, Deps{})

	_, err := e.LoadText(context.Background(), "first.txt", sampleText)
	require.NoError(t, err)
	before := e.Status()

	_, err = e.LoadText(context.Background(), "blank.txt", "   \n\t ")
	assert.True(t, errors.Is(err, ErrEmptyDocument), "got %v", err)

	emb.err = errors.New("quota exceeded")
	_, err = e.LoadText(context.Background(), "second.txt", "completely different text")
	assert.True(t, errors.Is(err, ErrEmbedding), "got %v", err)

	_, err = e.Load(context.Background(), "broken.pdf", []byte("%PDF-1.4 garbage"))
	assert.Error(t, err)

	assert.Equal(t, before, e.Status())
	assert.Equal(t, StateIndexed, e.State())
}

func TestChatEngine_EmptyLoadFromEmptyState(t *testing.T) {
	e := newTestEngine(t, smallConfig(), &countingEmbedder{}, &fakeGenerator{}, Deps{})

	_, err := e.LoadText(context.Background(), "blank.txt", "")
	assert.True(t, errors.Is(err, ErrEmptyDocument))
	assert.Equal(t, StateEmpty, e.State())
}

func TestChatEngine_EmbeddingFailureLeavesHistory(t *testing.T) {
	emb := &countingEmbedder{}
	gen := &fakeGenerator{answer: "first answer"}
	e := newTestEngine(t, smallConfig(), emb, gen, Deps{})
	_, err := e.LoadText(context.Background(), "notes.txt", sampleText)
	require.NoError(t, err)
	e.Ask(context.Background(), "first?")

	emb.err = errors.New("connection reset")
	ans := e.Ask(context.Background(), "second?")

	assert.Equal(t, StatusUnavailable, ans.Status)
	assert.Equal(t, UnavailableMessage, ans.Text)
	assert.Len(t, e.History(), 2)
	assert.Len(t, gen.prompts, 1)
}

func TestChatEngine_EmbedderTimeout(t *testing.T) {
	emb := &countingEmbedder{}
	e := newTestEngine(t, smallConfig(), emb, &fakeGenerator{answer: "x"}, Deps{})
	_, err := e.LoadText(context.Background(), "notes.txt", sampleText)
	require.NoError(t, err)

	emb.hang = true
	ans := e.Ask(context.Background(), "will this time out?")

	assert.Equal(t, StatusUnavailable, ans.Status)
	assert.Empty(t, e.History())
}

func TestChatEngine_GenerationFailureLeavesHistory(t *testing.T) {
	gen := &fakeGenerator{err: ErrGeneration}
	e := newTestEngine(t, smallConfig(), &countingEmbedder{}, gen, Deps{})
	_, err := e.LoadText(context.Background(), "notes.txt", sampleText)
	require.NoError(t, err)

	ans := e.Ask(context.Background(), "q?")
	assert.Equal(t, StatusUnavailable, ans.Status)
	assert.Empty(t, e.History())
}

func TestChatEngine_FallbackAnswerIsRecorded(t *testing.T) {
	gen := &fakeGenerator{answer: FallbackAnswer}
	e := newTestEngine(t, smallConfig(), &countingEmbedder{}, gen, Deps{})
	_, err := e.LoadText(context.Background(), "notes.txt", sampleText)
	require.NoError(t, err)

	ans := e.Ask(context.Background(), "unanswerable?")
	assert.Equal(t, StatusAnswered, ans.Status)
	assert.Equal(t, FallbackAnswer, ans.Text)
	assert.Len(t, e.History(), 2)
}

func TestChatEngine_DimensionDrift(t *testing.T) {
	emb := &countingEmbedder{}
	e := newTestEngine(t, smallConfig(), emb, &fakeGenerator{answer: "x"}, Deps{})
	_, err := e.LoadText(context.Background(), "notes.txt", sampleText)
	require.NoError(t, err)

	emb.extraDim = true
	ans := e.Ask(context.Background(), "q?")
	assert.Equal(t, StatusIncompatible, ans.Status)
	assert.Equal(t, IncompatibleIndexMessage, ans.Text)
	assert.Empty(t, e.History())
}

func TestChatEngine_HistoryWindow(t *testing.T) {
	cfg := smallConfig()
	cfg.HistoryTurns = 2
	gen := &fakeGenerator{answer: "a"}
	e := newTestEngine(t, cfg, &countingEmbedder{}, gen, Deps{})
	_, err := e.LoadText(context.Background(), "notes.txt", sampleText)
	require.NoError(t, err)

	e.Ask(context.Background(), "one")
	e.Ask(context.Background(), "two")
	e.Ask(context.Background(), "three")

	require.Len(t, gen.prompts, 3)
	assert.Equal(t, []Turn{
		{Role: RoleUser, Content: "two"},
		{Role: RoleAssistant, Content: "a"},
	}, gen.prompts[2].History)
	assert.Len(t, e.History(), 6)
}

func TestChatEngine_ReusesPersistedIndex(t *testing.T) {
	store := NewFileIndexStore(filepath.Join(t.TempDir(), "vectorstores"))
	ctx := context.Background()

	first := &countingEmbedder{}
	e1 := newTestEngine(t, smallConfig(), first, &fakeGenerator{}, Deps{Indexes: store})
	res1, err := e1.LoadText(ctx, "notes.txt", sampleText)
	require.NoError(t, err)
	assert.False(t, res1.FromCache)
	assert.Equal(t, res1.Chunks, first.embedded)

	second := &countingEmbedder{}
	e2 := newTestEngine(t, smallConfig(), second, &fakeGenerator{}, Deps{Indexes: store})
	res2, err := e2.LoadText(ctx, "notes.txt", sampleText)
	require.NoError(t, err)
	assert.True(t, res2.FromCache)
	assert.Equal(t, 0, second.embedded)
	assert.Equal(t, res1.IndexName, res2.IndexName)

	probe, err := e1.Search(ctx, "capital", 3)
	require.NoError(t, err)
	again, err := e2.Search(ctx, "capital", 3)
	require.NoError(t, err)
	assert.Equal(t, probe, again)

	// different chunk settings must not reuse the old index
	cfg := smallConfig()
	cfg.ChunkSize = 60
	third := &countingEmbedder{}
	e3 := newTestEngine(t, cfg, third, &fakeGenerator{}, Deps{Indexes: store})
	res3, err := e3.LoadText(ctx, "notes.txt", sampleText)
	require.NoError(t, err)
	assert.False(t, res3.FromCache)
	assert.Greater(t, third.embedded, 0)
}

func TestChatEngine_HistorySurvivesRestart(t *testing.T) {
	history := NewFileHistoryStore(t.TempDir())
	ctx := context.Background()

	e1 := newTestEngine(t, smallConfig(), &countingEmbedder{}, &fakeGenerator{answer: "yes"}, Deps{History: history})
	_, err := e1.LoadText(ctx, "notes.txt", sampleText)
	require.NoError(t, err)
	e1.Ask(ctx, "is it stored?")

	e2 := newTestEngine(t, smallConfig(), &countingEmbedder{}, &fakeGenerator{}, Deps{History: history})
	assert.Len(t, e2.History(), 2)
	assert.Equal(t, StateEmpty, e2.State())

	e2.ClearHistory(ctx)
	assert.Empty(t, e2.History())
	turns, err := history.Load(ctx, "test")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestChatEngine_SearchWithoutDocument(t *testing.T) {
	e := newTestEngine(t, smallConfig(), &countingEmbedder{}, &fakeGenerator{}, Deps{})
	_, err := e.Search(context.Background(), "q", 3)
	assert.True(t, errors.Is(err, ErrIndexNotBuilt))
}

func TestIndexName(t *testing.T) {
	a := IndexName("reports/Q3 report.pdf", "same text")
	b := IndexName("Q3 report.pdf", "same text")
	c := IndexName("Q3 report.pdf", "other text")

	assert.Equal(t, a, b)
	assert.NotEqual(t, b, c)
	assert.True(t, strings.HasPrefix(a, "Q3_report-"), a)
	assert.Equal(t, "document-", IndexName("", "x")[:9])
}

func TestChatEngine_LoadTextRejectsInvalidUTF8(t *testing.T) {
	emb := &countingEmbedder{}
	e := newTestEngine(t, smallConfig(), emb, &fakeGenerator{}, Deps{})

	// Latin-1 bytes, not UTF-8
	_, err := e.LoadText(context.Background(), "latin1.txt", "caf\xe9 au lait, na\xefve r\xe9sum\xe9")

	assert.True(t, errors.Is(err, ErrExtraction), "got %v", err)
	assert.Equal(t, StateEmpty, e.State())
	assert.Equal(t, 0, emb.embedded)
}
