package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHistoryStore_AppendLoadClear(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "memory")
	store := NewFileHistoryStore(dir)

	turns, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.NoError(t, store.Append(ctx, "s1", Turn{Role: RoleUser, Content: "hi"}, Turn{Role: RoleAssistant, Content: "hello"}))
	require.NoError(t, store.Append(ctx, "s1", Turn{Role: RoleUser, Content: "again"}))

	turns, err = store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "again", turns[2].Content)

	// another store over the same dir sees the same history
	turns, err = NewFileHistoryStore(dir).Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 3)

	require.NoError(t, store.Clear(ctx, "s1"))
	turns, err = store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestFileHistoryStore_CorruptFileIsReplaced(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s1.json"), []byte("{not json"), 0o644))
	store := NewFileHistoryStore(dir)

	_, err := store.Load(ctx, "s1")
	assert.Error(t, err)

	require.NoError(t, store.Append(ctx, "s1", Turn{Role: RoleUser, Content: "fresh"}))
	turns, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []Turn{{Role: RoleUser, Content: "fresh"}}, turns)
}

// Needs a live server: REDIS_URL=redis://localhost:6379/0 go test ./rag
func TestRedisHistoryStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	store := NewRedisHistoryStore(client, "pdfchat:test:", time.Minute)
	session := "history-test"
	require.NoError(t, store.Clear(ctx, session))

	require.NoError(t, store.Append(ctx, session, Turn{Role: RoleUser, Content: "q"}, Turn{Role: RoleAssistant, Content: "a"}))
	turns, err := store.Load(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, []Turn{{Role: RoleUser, Content: "q"}, {Role: RoleAssistant, Content: "a"}}, turns)

	require.NoError(t, store.Clear(ctx, session))
	turns, err = store.Load(ctx, session)
	require.NoError(t, err)
	assert.Empty(t, turns)
}
