package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"pdfchat/logger"
)

// NewOpenAIClient builds a client for the OpenAI API or any compatible server.
// Retries are disabled here; retryCall owns the policy.
func NewOpenAIClient(apiKey, baseURL string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(opts...)
}

// rate limits and server errors are worth retrying, the rest is not
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}
	return err
}

type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	batchSize int
	retry     RetryPolicy
	log       logger.Logger
}

func NewOpenAIEmbedder(client openai.Client, model string, batchSize int, retry RetryPolicy, log logger.Logger) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	return &OpenAIEmbedder{client: client, model: model, batchSize: batchSize, retry: retry, log: log}
}

func (e *OpenAIEmbedder) ModelInfo() string { return "openai-" + e.model }

// Embed sends texts in batches of batchSize. Any failed batch fails the call.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vectors, err := retryCall(ctx, e.retry, e.log, "embedder", "embeddings", func(ctx context.Context) ([]Vector, error) {
			return e.embedBatch(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([]Vector, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(batch))
	}

	vectors := make([]Vector, len(batch))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(vectors) || len(d.Embedding) == 0 {
			return nil, fmt.Errorf("openai returned an invalid embedding at index %d", d.Index)
		}
		vectors[i] = Vector(d.Embedding)
	}
	return vectors, nil
}

type OpenAIGenerator struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	retry       RetryPolicy
	log         logger.Logger
}

func NewOpenAIGenerator(client openai.Client, model string, temperature float64, maxTokens int, retry RetryPolicy, log logger.Logger) *OpenAIGenerator {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIGenerator{
		client:      client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		retry:       retry,
		log:         log,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(systemInstruction)}
	for _, turn := range p.History {
		switch turn.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(turn.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(userMessage(p)))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(g.model),
		Messages:    messages,
		Temperature: openai.Float(g.temperature),
	}
	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(g.maxTokens))
	}

	answer, err := retryCall(ctx, g.retry, g.log, "generator", "chat completion", func(ctx context.Context) (string, error) {
		resp, err := g.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return FallbackAnswer, nil
	}
	return answer, nil
}
