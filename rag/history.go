package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HistoryStore persists a session's conversation so that it survives a
// restart. Engines treat its errors as non-fatal.
type HistoryStore interface {
	Load(ctx context.Context, sessionID string) ([]Turn, error)
	Append(ctx context.Context, sessionID string, turns ...Turn) error
	Clear(ctx context.Context, sessionID string) error
}

// NopHistoryStore keeps nothing.
type NopHistoryStore struct{}

func (NopHistoryStore) Load(context.Context, string) ([]Turn, error)  { return nil, nil }
func (NopHistoryStore) Append(context.Context, string, ...Turn) error { return nil }
func (NopHistoryStore) Clear(context.Context, string) error           { return nil }

// FileHistoryStore writes one pretty-printed JSON array per session to
// <dir>/<session>.json.
type FileHistoryStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileHistoryStore(dir string) *FileHistoryStore {
	return &FileHistoryStore{dir: dir}
}

func (s *FileHistoryStore) path(sessionID string) string {
	name := unsafeNameChars.ReplaceAllString(sessionID, "_")
	if name == "" || name == "." || name == ".." {
		name = "default"
	}
	return filepath.Join(s.dir, name+".json")
}

func (s *FileHistoryStore) read(sessionID string) ([]Turn, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return turns, nil
}

func (s *FileHistoryStore) write(sessionID string, turns []Turn) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	if turns == nil {
		turns = []Turn{}
	}
	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := os.WriteFile(s.path(sessionID), data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func (s *FileHistoryStore) Load(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(sessionID)
}

func (s *FileHistoryStore) Append(_ context.Context, sessionID string, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.read(sessionID)
	if err != nil {
		// an unreadable file is replaced rather than blocking new turns
		existing = nil
	}
	return s.write(sessionID, append(existing, turns...))
}

func (s *FileHistoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(sessionID, nil)
}

// RedisHistoryStore keeps each session as a redis list of JSON turns.
type RedisHistoryStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisHistoryStore uses keys "<prefix><session>". A zero ttl keeps
// histories forever.
func NewRedisHistoryStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisHistoryStore {
	if prefix == "" {
		prefix = "pdfchat:history:"
	}
	return &RedisHistoryStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisHistoryStore) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisHistoryStore) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	raw, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var turn Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			return nil, fmt.Errorf("decode history turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *RedisHistoryStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]interface{}, len(turns))
	for i, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("marshal history turn: %w", err)
		}
		values[i] = data
	}

	key := s.key(sessionID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

func (s *RedisHistoryStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
