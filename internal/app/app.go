// Package app wires configuration into the engine collaborators shared by the
// HTTP server and the terminal client.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pdfchat/config"
	"pdfchat/logger"
	"pdfchat/rag"
)

type App struct {
	Sessions *rag.SessionRegistry
	Deps     rag.Deps
	Engine   rag.EngineConfig

	closers []func() error
}

func RetryPolicy(cfg config.RetryConfig) rag.RetryPolicy {
	return rag.RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.Timeout(),
		BaseDelay:   cfg.BaseDelay(),
		MaxDelay:    cfg.MaxDelay(),
	}
}

func EngineConfig(cfg *config.Config) rag.EngineConfig {
	return rag.EngineConfig{
		ChunkSize:    cfg.Chunker.Size,
		ChunkOverlap: cfg.Chunker.Overlap,
		TopK:         cfg.Retrieval.TopK,
		HistoryTurns: cfg.Generator.HistoryTurns,
	}
}

// Build creates the embedder, generator and stores described by cfg.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	retry := RetryPolicy(cfg.Retry)
	a := &App{Engine: EngineConfig(cfg)}

	var embedder rag.Embedder
	switch cfg.Embedder.Provider {
	case "simple":
		embedder = rag.NewSimpleEmbedder()
	default:
		client := rag.NewOpenAIClient(cfg.APIKey, cfg.Embedder.BaseURL)
		embedder = rag.NewOpenAIEmbedder(client, cfg.Embedder.Model, cfg.Embedder.BatchSize, retry, log)
	}

	genClient := rag.NewOpenAIClient(cfg.APIKey, cfg.Generator.BaseURL)
	generator := rag.NewOpenAIGenerator(genClient, cfg.Generator.Model, cfg.Generator.Temperature, cfg.Generator.MaxTokens, retry, log)

	history, err := a.historyStore(ctx, cfg.Storage, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Deps = rag.Deps{
		Extractor: rag.NewPDFExtractor(),
		Embedder:  embedder,
		Generator: generator,
		History:   history,
		Logger:    log,
	}
	if cfg.Storage.IndexDir != "" {
		a.Deps.Indexes = rag.NewFileIndexStore(cfg.Storage.IndexDir)
	}

	a.Sessions = rag.NewSessionRegistry(a.NewEngine, time.Duration(cfg.Session.TTLMins)*time.Minute)

	log.Info("app", "components ready", map[string]interface{}{
		"embedder":        embedder.ModelInfo(),
		"chat_model":      cfg.Generator.Model,
		"history_backend": cfg.Storage.HistoryBackend,
		"index_dir":       cfg.Storage.IndexDir,
	})
	return a, nil
}

// NewEngine is the session factory.
func (a *App) NewEngine(ctx context.Context, sessionID string) *rag.ChatEngine {
	return rag.NewChatEngine(ctx, sessionID, a.Engine, a.Deps)
}

func (a *App) historyStore(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (rag.HistoryStore, error) {
	switch cfg.HistoryBackend {
	case "none":
		return rag.NopHistoryStore{}, nil
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			// history is best effort; keep going and let each call log
			log.Warn("app", "redis not reachable", map[string]interface{}{
				"error": err,
			})
		}
		return rag.NewRedisHistoryStore(client, "", time.Duration(cfg.HistoryTTLMins)*time.Minute), nil
	default:
		return rag.NewFileHistoryStore(cfg.HistoryDir), nil
	}
}

func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
