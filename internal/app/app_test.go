package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfchat/config"
	"pdfchat/logger"
	"pdfchat/rag"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.APIKey = "sk-test"
	cfg.Embedder.Provider = "simple"
	cfg.Storage.IndexDir = filepath.Join(t.TempDir(), "vectorstores")
	cfg.Storage.HistoryDir = filepath.Join(t.TempDir(), "memory")
	return cfg
}

func TestBuild_SimpleEmbedderAndFileStores(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), logger.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "simple-v1", a.Deps.Embedder.ModelInfo())
	assert.IsType(t, &rag.FileHistoryStore{}, a.Deps.History)
	assert.IsType(t, &rag.FileIndexStore{}, a.Deps.Indexes)
	assert.Equal(t, 1000, a.Engine.ChunkSize)

	e := a.Sessions.GetOrCreate(context.Background(), "")
	assert.Equal(t, rag.DefaultSessionID, e.SessionID())
	assert.Equal(t, rag.StateEmpty, e.State())
}

func TestBuild_OpenAIEmbedderAndNoHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedder.Provider = "openai"
	cfg.Storage.HistoryBackend = "none"
	cfg.Storage.IndexDir = ""

	a, err := Build(context.Background(), cfg, logger.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "openai-text-embedding-3-small", a.Deps.Embedder.ModelInfo())
	assert.Equal(t, rag.NopHistoryStore{}, a.Deps.History)
	assert.Nil(t, a.Deps.Indexes)
}

func TestBuild_BadRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.HistoryBackend = "redis"
	cfg.Storage.RedisURL = "not a url"

	_, err := Build(context.Background(), cfg, logger.NewNop())
	assert.Error(t, err)
}

func TestRetryPolicy_FromConfig(t *testing.T) {
	p := RetryPolicy(config.Default().Retry)
	assert.Equal(t, rag.DefaultRetryPolicy(), p)
}
