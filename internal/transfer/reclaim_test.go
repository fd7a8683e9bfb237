package transfer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/objstore"
)

type failingDeleteStore struct {
	*objstore.MemoryStore
	failKey string
	calls   int
}

func (s *failingDeleteStore) Delete(ctx context.Context, key string) error {
	s.calls++
	if key == s.failKey {
		return errors.New("storage unavailable")
	}
	return s.MemoryStore.Delete(ctx, key)
}

type notFoundDeleteStore struct {
	*objstore.MemoryStore
}

func (s *notFoundDeleteStore) Delete(context.Context, string) error {
	return objstore.ErrNotFound
}

func seed(t *testing.T, repo Repository, store *objstore.MemoryStore, keys ...string) Record {
	t.Helper()
	ctx := context.Background()
	tok := NewToken()
	exp := time.Now().Add(-time.Minute)
	for _, k := range keys {
		_, err := store.Put(ctx, ObjectKey(tok, k), strings.NewReader(k), int64(len(k)), "")
		require.NoError(t, err)
	}
	rec := Record{Token: tok, StoredPath: ObjectKey(tok, keys[0]), OriginalName: keys[0], ExpiresAt: &exp, CreatedAt: time.Now()}
	require.NoError(t, repo.Insert(ctx, rec))
	return rec
}

func noRetry() backoff.BackOff { return &backoff.StopBackOff{} }

func TestReclaimer_DeletesAllObjectsThenRecord(t *testing.T) {
	repo := NewMemoryRepository()
	store := objstore.NewMemoryStore("b")
	rec := seed(t, repo, store, "a.txt", "a.txt.part")
	other := seed(t, repo, store, "keep.txt")

	r := NewReclaimer(repo, store, zap.NewNop())
	n, err := r.Reclaim(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = repo.Get(context.Background(), rec.Token)
	assert.True(t, IsKind(err, KindNotFound))
	assert.Equal(t, 1, store.Len())
	_, ok := store.Bytes(other.StoredPath)
	assert.True(t, ok)
}

func TestReclaimer_KeepsRecordWhenObjectDeleteFails(t *testing.T) {
	repo := NewMemoryRepository()
	mem := objstore.NewMemoryStore("b")
	rec := seed(t, repo, mem, "a.txt")
	store := &failingDeleteStore{MemoryStore: mem, failKey: rec.StoredPath}

	r := NewReclaimer(repo, store, zap.NewNop())
	r.Backoff = noRetry
	_, err := r.Reclaim(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindBackend))

	_, err = repo.Get(context.Background(), rec.Token)
	assert.NoError(t, err, "record must survive so a later pass retries")
	_, ok := mem.Bytes(rec.StoredPath)
	assert.True(t, ok)
}

func TestReclaimer_RetriesTransientFailures(t *testing.T) {
	repo := NewMemoryRepository()
	mem := objstore.NewMemoryStore("b")
	rec := seed(t, repo, mem, "a.txt")
	store := &failingDeleteStore{MemoryStore: mem, failKey: rec.StoredPath}

	r := NewReclaimer(repo, store, zap.NewNop())
	r.Backoff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}
	_, err := r.Reclaim(context.Background(), rec)
	require.Error(t, err)
	assert.Equal(t, 3, store.calls)
}

func TestReclaimer_ToleratesAlreadyDeleted(t *testing.T) {
	repo := NewMemoryRepository()
	mem := objstore.NewMemoryStore("b")
	rec := seed(t, repo, mem, "a.txt")

	r := NewReclaimer(repo, &notFoundDeleteStore{MemoryStore: mem}, zap.NewNop())
	r.Backoff = noRetry
	_, err := r.Reclaim(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 0, repo.Len())
}

func TestReclaimer_SecondRunIsNoop(t *testing.T) {
	repo := NewMemoryRepository()
	store := objstore.NewMemoryStore("b")
	rec := seed(t, repo, store, "a.txt")

	r := NewReclaimer(repo, store, zap.NewNop())
	_, err := r.Reclaim(context.Background(), rec)
	require.NoError(t, err)
	_, err = r.Reclaim(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, repo.Len())
}
