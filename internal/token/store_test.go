package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"keyrelay-go/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backend := storage.NewFileBackend(t.TempDir())
	require.NoError(t, backend.Initialize(context.Background()))
	return NewStore(backend)
}

func TestCreateIssuesPlaintextOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	rec, plaintext, err := store.Create(ctx, "ci-bot", 0)
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.NotEmpty(t, plaintext)
	require.NotContains(t, rec.TokenHash, plaintext, "digest must not embed the secret")
	require.True(t, rec.ExpiresAt.IsZero())

	// The persisted document never carries the plaintext.
	stored, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.TokenHash, stored.TokenHash)
}

func TestCreateRejectsBlankName(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	_, _, err := store.Create(context.Background(), "   ", 0)
	require.Error(t, err)
}

func TestValidateResolvesPlaintext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	rec, plaintext, err := store.Create(ctx, "deploy-bot", 0)
	require.NoError(t, err)

	got, err := store.Validate(ctx, plaintext)
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)

	_, err = store.Validate(ctx, "krt-neverissued")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = store.Validate(ctx, "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRecordUsagePersistsFingerprint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	store.now = func() time.Time { return base }

	rec, _, err := store.Create(ctx, "ci-bot", 0)
	require.NoError(t, err)

	fp := Fingerprint{IP: "10.0.0.1", UserAgent: "agent/1.0"}
	updated, err := store.RecordUsage(ctx, rec.ID, fp)
	require.NoError(t, err)
	require.Equal(t, int64(1), updated.RequestCount)
	require.True(t, updated.Matches(fp))
	require.False(t, updated.Matches(Fingerprint{IP: "10.0.0.2", UserAgent: "agent/1.0"}))

	// Usage survives a round trip through the backend.
	reloaded, err := store.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", reloaded.LastUsedIP)
	require.Equal(t, base.Unix(), reloaded.LastUsedAt.Unix())
}

func TestExpiryFollowsTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	store.now = func() time.Time { return base }

	rec, _, err := store.Create(ctx, "short-lived", time.Hour)
	require.NoError(t, err)
	require.False(t, rec.Expired(base.Add(time.Hour)))
	require.True(t, rec.Expired(base.Add(time.Hour+time.Second)))
}

func TestListSortsByCreation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Unix(1700000000, 0).UTC()
	current := base
	var mu sync.Mutex
	store.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}

	for _, name := range []string{"first", "second", "third"} {
		_, _, err := store.Create(ctx, name, 0)
		require.NoError(t, err)
	}

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "first", records[0].Name)
	require.Equal(t, "third", records[2].Name)
}

func TestDeleteAndRename(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	rec, _, err := store.Create(ctx, "old-name", 0)
	require.NoError(t, err)

	renamed, err := store.Rename(ctx, rec.ID, "new-name")
	require.NoError(t, err)
	require.Equal(t, "new-name", renamed.Name)
	require.Equal(t, rec.TokenHash, renamed.TokenHash, "rename must not rotate the secret")

	require.NoError(t, store.Delete(ctx, rec.ID))
	require.ErrorIs(t, store.Delete(ctx, rec.ID), ErrNotFound)
	_, err = store.Get(ctx, rec.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
