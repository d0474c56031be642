package rag

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// DefaultSessionID is used when a caller does not name a session.
const DefaultSessionID = "default"

var ErrSessionNotFound = errors.New("session not found")

// EngineFactory builds the engine for a new session.
type EngineFactory func(ctx context.Context, sessionID string) *ChatEngine

// SessionRegistry holds one ChatEngine per session. Idle sessions expire
// after ttl; their persisted history stays behind.
type SessionRegistry struct {
	mu      sync.Mutex
	engines *cache.Cache
	factory EngineFactory
	ttl     time.Duration
}

// NewSessionRegistry expires sessions idle for ttl. A zero ttl keeps them
// forever.
func NewSessionRegistry(factory EngineFactory, ttl time.Duration) *SessionRegistry {
	expiry := ttl
	cleanup := ttl / 2
	if ttl <= 0 {
		expiry = cache.NoExpiration
		cleanup = 0
	}
	return &SessionRegistry{
		engines: cache.New(expiry, cleanup),
		factory: factory,
		ttl:     expiry,
	}
}

// Create starts a new session with a random id.
func (r *SessionRegistry) Create(ctx context.Context) *ChatEngine {
	id := uuid.NewString()
	e := r.factory(ctx, id)
	r.engines.Set(id, e, r.ttl)
	return e
}

// Get returns the engine for id and refreshes its expiry.
func (r *SessionRegistry) Get(id string) (*ChatEngine, error) {
	v, ok := r.engines.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	e := v.(*ChatEngine)
	r.engines.Set(id, e, r.ttl)
	return e, nil
}

// GetOrCreate returns the engine for id, creating it if needed. An empty id
// means DefaultSessionID.
func (r *SessionRegistry) GetOrCreate(ctx context.Context, id string) *ChatEngine {
	if id == "" {
		id = DefaultSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, err := r.Get(id); err == nil {
		return e
	}
	e := r.factory(ctx, id)
	r.engines.Set(id, e, r.ttl)
	return e
}

func (r *SessionRegistry) Delete(id string) {
	r.engines.Delete(id)
}

func (r *SessionRegistry) Len() int {
	return r.engines.ItemCount()
}
