package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestFileBackend(t *testing.T) *FileBackend {
	t.Helper()
	backend := NewFileBackend(t.TempDir())
	require.NoError(t, backend.Initialize(context.Background()))
	return backend
}

func TestFileBackendTokenCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := newTestFileBackend(t)

	doc := map[string]interface{}{
		"name":          "ci-bot",
		"token_hash":    "$2a$10$fakehash",
		"request_count": float64(3),
	}
	require.NoError(t, backend.SetToken(ctx, "tok-1", doc))

	got, err := backend.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, "ci-bot", got["name"])

	all, err := backend.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, backend.DeleteToken(ctx, "tok-1"))
	_, err = backend.GetToken(ctx, "tok-1")
	require.True(t, IsNotFound(err))
	require.True(t, IsNotFound(backend.DeleteToken(ctx, "tok-1")))
}

func TestFileBackendSurvivesReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	first := NewFileBackend(dir)
	require.NoError(t, first.Initialize(ctx))
	require.NoError(t, first.SetToken(ctx, "tok-1", map[string]interface{}{"name": "persisted"}))
	require.NoError(t, first.Close())

	second := NewFileBackend(dir)
	require.NoError(t, second.Initialize(ctx))
	got, err := second.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, "persisted", got["name"])
}

func TestFileBackendReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := newTestFileBackend(t)

	require.NoError(t, backend.SetToken(ctx, "tok-1", map[string]interface{}{"name": "original"}))

	got, err := backend.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	got["name"] = "mutated"

	again, err := backend.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	require.Equal(t, "original", again["name"])
}

func TestFileBackendStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := newTestFileBackend(t)

	require.NoError(t, backend.SetToken(ctx, "tok-1", map[string]interface{}{"name": "a"}))
	require.NoError(t, backend.SetToken(ctx, "tok-2", map[string]interface{}{"name": "b"}))

	stats, err := backend.GetStorageStats(ctx)
	require.NoError(t, err)
	require.Equal(t, "file", stats.Backend)
	require.True(t, stats.Healthy)
	require.Equal(t, 2, stats.TokenCount)
}
