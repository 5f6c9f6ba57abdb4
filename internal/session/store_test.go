package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/access-gate/internal/domain"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()

	sess := &domain.Session{
		ID:        "s1",
		Subject:   "u1",
		Claims:    map[string]any{"email": "a@example.com"},
		Provider:  domain.ProviderGoogle,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, store.Save(ctx, sess))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	store.now = func() time.Time { return now.Add(2 * time.Hour) }
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	store.now = time.Now
	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorePurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, &domain.Session{ID: "old", Subject: "u1", ExpiresAt: now.Add(time.Minute)}))
	require.NoError(t, store.Save(ctx, &domain.Session{ID: "new", Subject: "u1", ExpiresAt: now.Add(time.Hour)}))

	assert.Equal(t, 0, store.Purge())

	store.now = func() time.Time { return now.Add(10 * time.Minute) }
	assert.Equal(t, 1, store.Purge())
	_, err := store.Get(ctx, "new")
	assert.NoError(t, err)
	assert.Len(t, store.sessions, 1)
}
