package revision

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore("not a url")
	assert.Error(t, err)
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	_, err := NewRedisStore("redis://" + addr)
	assert.Error(t, err)
}

func TestRedisBumpAndCurrent(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	rev, err := store.Current(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Revisions{}, rev)

	n, err := store.Bump(ctx, "p1", StreamDocument)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = store.Bump(ctx, "p1", StreamDocument)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	_, err = store.Bump(ctx, "p1", StreamChat)
	require.NoError(t, err)
	_, err = store.Bump(ctx, "p2", StreamChat)
	require.NoError(t, err)

	rev, err = store.Current(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Revisions{Document: 2, Chat: 1}, rev)

	raw, err := s.Get("revision:p1:document")
	require.NoError(t, err)
	assert.Equal(t, "2", raw)
	require.NoError(t, store.Ping(ctx))
}

func TestRedisBumpFailsWhenDown(t *testing.T) {
	store, s := setupTestRedis(t)
	s.Close()

	_, err := store.Bump(context.Background(), "p1", StreamDocument)
	assert.Error(t, err)
}

func TestMemoryCounter(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCounter()

	_, err := c.Bump(ctx, "p1", StreamDocument)
	require.NoError(t, err)
	n, err := c.Bump(ctx, "p1", StreamChat)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = c.Bump(ctx, "p1", Stream("other"))
	assert.Error(t, err)

	rev, err := c.Current(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, Revisions{Document: 1, Chat: 1}, rev)
}
