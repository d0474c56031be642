package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr        string `yaml:"addr" validate:"required"`
	FrontendDir string `yaml:"frontend_dir"`
	MaxUploadMB int    `yaml:"max_upload_mb" validate:"gt=0"`
}

type ChunkerConfig struct {
	Size    int `yaml:"size" validate:"gt=0"`
	Overlap int `yaml:"overlap" validate:"gte=0,ltfield=Size"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k" validate:"gt=0"`
}

// EmbedderConfig selects the embedder. "simple" needs no network access.
type EmbedderConfig struct {
	Provider  string `yaml:"provider" validate:"oneof=openai simple"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	BatchSize int    `yaml:"batch_size" validate:"gte=0"`
}

type GeneratorConfig struct {
	Model        string  `yaml:"model" validate:"required"`
	BaseURL      string  `yaml:"base_url"`
	Temperature  float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens    int     `yaml:"max_tokens" validate:"gte=0"`
	HistoryTurns int     `yaml:"history_turns" validate:"gte=0"`
}

type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" validate:"gt=0"`
	TimeoutSecs int `yaml:"timeout_secs" validate:"gt=0"`
	BaseDelayMS int `yaml:"base_delay_ms" validate:"gt=0"`
	MaxDelayMS  int `yaml:"max_delay_ms" validate:"gtefield=BaseDelayMS"`
}

func (r RetryConfig) Timeout() time.Duration   { return time.Duration(r.TimeoutSecs) * time.Second }
func (r RetryConfig) BaseDelay() time.Duration { return time.Duration(r.BaseDelayMS) * time.Millisecond }
func (r RetryConfig) MaxDelay() time.Duration  { return time.Duration(r.MaxDelayMS) * time.Millisecond }

type StorageConfig struct {
	IndexDir       string `yaml:"index_dir"`
	HistoryBackend string `yaml:"history_backend" validate:"oneof=file redis none"`
	HistoryDir     string `yaml:"history_dir"`
	RedisURL       string `yaml:"redis_url" validate:"required_if=HistoryBackend redis"`
	HistoryTTLMins int    `yaml:"history_ttl_mins" validate:"gte=0"`
}

type SessionConfig struct {
	TTLMins int `yaml:"ttl_mins" validate:"gte=0"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	Production bool   `yaml:"production"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Config is the root configuration. APIKey only ever comes from the
// environment.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Generator GeneratorConfig `yaml:"generator"`
	Retry     RetryConfig     `yaml:"retry"`
	Storage   StorageConfig   `yaml:"storage"`
	Session   SessionConfig   `yaml:"session"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	APIKey string `yaml:"-"`
}

var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")

// Load reads .env (if any), then the YAML file at path (if it exists), then
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyConfigDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func Default() *Config {
	return &Config{
		Server:    ServerConfig{Addr: ":8080", FrontendDir: "./frontend", MaxUploadMB: 10},
		Chunker:   ChunkerConfig{Size: 1000, Overlap: 100},
		Retrieval: RetrievalConfig{TopK: 3},
		Embedder:  EmbedderConfig{Provider: "openai", Model: "text-embedding-3-small", BatchSize: 64},
		Generator: GeneratorConfig{Model: "gpt-4o-mini", Temperature: 0, HistoryTurns: 6},
		Retry:     RetryConfig{MaxAttempts: 3, TimeoutSecs: 30, BaseDelayMS: 200, MaxDelayMS: 5000},
		Storage:   StorageConfig{IndexDir: "vectorstores", HistoryBackend: "file", HistoryDir: "memory"},
		Session:   SessionConfig{},
		Log:       LogConfig{File: "logs/pdfchat.log"},
		Telemetry: TelemetryConfig{Endpoint: "localhost:4318", ServiceName: "pdfchat"},
	}
}

// applyConfigDefaults fills fields a partial YAML file left at zero.
func applyConfigDefaults(cfg *Config) {
	d := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = d.Server.MaxUploadMB
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = d.Chunker.Size
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = d.Retrieval.TopK
	}
	if cfg.Embedder.Provider == "" {
		cfg.Embedder.Provider = d.Embedder.Provider
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = d.Embedder.Model
	}
	if cfg.Generator.Model == "" {
		cfg.Generator.Model = d.Generator.Model
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if cfg.Retry.TimeoutSecs == 0 {
		cfg.Retry.TimeoutSecs = d.Retry.TimeoutSecs
	}
	if cfg.Retry.BaseDelayMS == 0 {
		cfg.Retry.BaseDelayMS = d.Retry.BaseDelayMS
	}
	if cfg.Retry.MaxDelayMS == 0 {
		cfg.Retry.MaxDelayMS = d.Retry.MaxDelayMS
	}
	if cfg.Storage.HistoryBackend == "" {
		cfg.Storage.HistoryBackend = d.Storage.HistoryBackend
	}
	if cfg.Storage.HistoryDir == "" {
		cfg.Storage.HistoryDir = d.Storage.HistoryDir
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = d.Telemetry.Endpoint
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.APIKey = getEnv("OPENAI_API_KEY", cfg.APIKey)
	cfg.Server.Addr = getEnv("PDFCHAT_ADDR", cfg.Server.Addr)
	cfg.Chunker.Size = getEnvAsInt("PDFCHAT_CHUNK_SIZE", cfg.Chunker.Size)
	cfg.Chunker.Overlap = getEnvAsInt("PDFCHAT_CHUNK_OVERLAP", cfg.Chunker.Overlap)
	cfg.Retrieval.TopK = getEnvAsInt("PDFCHAT_TOP_K", cfg.Retrieval.TopK)
	cfg.Embedder.Provider = getEnv("PDFCHAT_EMBEDDER", cfg.Embedder.Provider)
	cfg.Embedder.Model = getEnv("PDFCHAT_EMBEDDING_MODEL", cfg.Embedder.Model)
	cfg.Embedder.BaseURL = getEnv("OPENAI_BASE_URL", cfg.Embedder.BaseURL)
	cfg.Generator.Model = getEnv("PDFCHAT_CHAT_MODEL", cfg.Generator.Model)
	cfg.Generator.BaseURL = getEnv("OPENAI_BASE_URL", cfg.Generator.BaseURL)
	cfg.Storage.IndexDir = getEnv("PDFCHAT_INDEX_DIR", cfg.Storage.IndexDir)
	cfg.Storage.HistoryBackend = getEnv("PDFCHAT_HISTORY_BACKEND", cfg.Storage.HistoryBackend)
	cfg.Storage.HistoryDir = getEnv("PDFCHAT_HISTORY_DIR", cfg.Storage.HistoryDir)
	cfg.Storage.RedisURL = getEnv("REDIS_URL", cfg.Storage.RedisURL)
	cfg.Log.File = getEnv("LOG_FILE_PATH", cfg.Log.File)
	cfg.Log.Production = getEnv("GO_ENV", "") == "production" || cfg.Log.Production
	cfg.Telemetry.Enabled = getEnv("OTEL_ENABLED", "") == "true" || cfg.Telemetry.Enabled
	cfg.Telemetry.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
}

var validate = validator.New()

// Validate checks field ranges and that an API key is present. The generator
// always calls OpenAI, so the key is required even with the simple embedder.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
