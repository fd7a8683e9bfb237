package upload

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/objstore"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
)

var testConfig = Config{
	PartURLTTL:        time.Hour,
	DefaultExpiryDays: 7,
	MaxExpiryDays:     30,
	MaxRelayBytes:     1 << 20,
}

type failingInsertRepo struct{ *transfer.MemoryRepository }

func (failingInsertRepo) Insert(context.Context, transfer.Record) error {
	return transfer.Backend("insert transfer", errors.New("db down"))
}

func newCoordinator(t *testing.T) (*Coordinator, *transfer.MemoryRepository, *objstore.MemoryStore) {
	t.Helper()
	repo := transfer.NewMemoryRepository()
	store := objstore.NewMemoryStore("test")
	return NewCoordinator(repo, store, testConfig, zap.NewNop()), repo, store
}

// uploadParts plays the client: it uploads chunks as parts 1..n and returns
// the reported parts.
func uploadParts(t *testing.T, store *objstore.MemoryStore, s Session, chunks ...string) []objstore.Part {
	t.Helper()
	parts := make([]objstore.Part, len(chunks))
	for i, c := range chunks {
		etag, err := store.UploadPart(s.ObjectKey, s.UploadID, i+1, []byte(c))
		require.NoError(t, err)
		parts[i] = objstore.Part{Number: i + 1, ETag: etag}
	}
	return parts
}

func TestInitiateUpload(t *testing.T) {
	c, repo, _ := newCoordinator(t)

	s, err := c.InitiateUpload(context.Background(), InitiateRequest{Filename: "../My Report.pdf", ContentType: "application/pdf"})
	require.NoError(t, err)
	assert.True(t, transfer.ValidToken(s.Token))
	assert.Equal(t, "uploads/"+s.Token+"___My Report.pdf", s.ObjectKey)
	assert.NotEmpty(t, s.UploadID)
	assert.Equal(t, 0, repo.Len(), "no record before completion")

	s2, err := c.InitiateUpload(context.Background(), InitiateRequest{Filename: "My Report.pdf"})
	require.NoError(t, err)
	assert.NotEqual(t, s.Token, s2.Token)
	assert.Contains(t, s2.ObjectKey, s2.Token)
}

func TestInitiateUpload_RequiresFilename(t *testing.T) {
	c, _, _ := newCoordinator(t)
	_, err := c.InitiateUpload(context.Background(), InitiateRequest{Filename: "   "})
	require.Error(t, err)
	assert.True(t, transfer.IsKind(err, transfer.KindClientRequest))
	assert.Equal(t, "filename is required", transfer.PublicMessage(err))
}

func TestSignPart(t *testing.T) {
	c, _, _ := newCoordinator(t)
	s, err := c.InitiateUpload(context.Background(), InitiateRequest{Filename: "a.bin"})
	require.NoError(t, err)

	u1, err := c.SignPart(context.Background(), SignRequest{ObjectKey: s.ObjectKey, UploadID: s.UploadID, PartNumber: 3})
	require.NoError(t, err)
	u2, err := c.SignPart(context.Background(), SignRequest{ObjectKey: s.ObjectKey, UploadID: s.UploadID, PartNumber: 3})
	require.NoError(t, err)
	assert.Equal(t, u1, u2, "signing is idempotent")
	assert.Contains(t, u1, "partNumber=3")
	assert.Contains(t, u1, "X-Expires=3600")
}

func TestSignPart_RejectsBadInput(t *testing.T) {
	c, _, _ := newCoordinator(t)
	ctx := context.Background()

	for _, req := range []SignRequest{
		{ObjectKey: "uploads/x__a", UploadID: "u", PartNumber: 0},
		{ObjectKey: "uploads/x__a", UploadID: "u", PartNumber: -2},
		{ObjectKey: "uploads/x__a", UploadID: "u", PartNumber: 10001},
		{ObjectKey: "uploads/x__a", UploadID: "", PartNumber: 1},
		{ObjectKey: "secrets/other", UploadID: "u", PartNumber: 1},
	} {
		_, err := c.SignPart(ctx, req)
		assert.True(t, transfer.IsKind(err, transfer.KindClientRequest), "%+v", req)
	}
}

func TestCompleteUpload_OutOfOrderParts(t *testing.T) {
	ctx := context.Background()
	c, repo, store := newCoordinator(t)
	c.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	s, err := c.InitiateUpload(ctx, InitiateRequest{Filename: "data.txt"})
	require.NoError(t, err)
	parts := uploadParts(t, store, s, "alpha-", "beta-", "gamma")
	shuffled := []objstore.Part{parts[2], parts[0], parts[1]}

	res, err := c.CompleteUpload(ctx, CompleteRequest{
		Token: s.Token, ObjectKey: s.ObjectKey, UploadID: s.UploadID,
		Parts: shuffled, ExpiryDays: 2,
	}, "https://share.test")
	require.NoError(t, err)
	assert.Equal(t, "https://share.test/d/"+s.Token, res.Link)
	assert.Equal(t, int64(len("alpha-beta-gamma")), res.SizeBytes)

	data, ok := store.Bytes(s.ObjectKey)
	require.True(t, ok)
	assert.Equal(t, "alpha-beta-gamma", string(data))

	rec, err := repo.Get(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, "data.txt", rec.OriginalName)
	assert.Equal(t, time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC), *rec.ExpiresAt)
	assert.False(t, rec.Protected())
	assert.Equal(t, int64(16), rec.SizeBytes)
}

func TestCompleteUpload_HashesPasswordAndDisplayName(t *testing.T) {
	ctx := context.Background()
	c, repo, store := newCoordinator(t)

	s, _ := c.InitiateUpload(ctx, InitiateRequest{Filename: "raw.bin"})
	parts := uploadParts(t, store, s, "x")

	_, err := c.CompleteUpload(ctx, CompleteRequest{
		Token: s.Token, ObjectKey: s.ObjectKey, UploadID: s.UploadID,
		DisplayName: "Holiday/photos.zip", Parts: parts, Password: "s3cret",
	}, "http://localhost")
	require.NoError(t, err)

	rec, err := repo.Get(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, "Holiday_photos.zip", rec.OriginalName)
	require.True(t, rec.Protected())
	assert.NotEqual(t, "s3cret", rec.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte("s3cret")))
	// default retention
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), *rec.ExpiresAt, time.Minute)
}

func TestCompleteUpload_ClientErrors(t *testing.T) {
	ctx := context.Background()
	c, repo, store := newCoordinator(t)
	s, _ := c.InitiateUpload(ctx, InitiateRequest{Filename: "a.txt"})
	parts := uploadParts(t, store, s, "a", "b")
	other := transfer.NewToken()

	tests := []struct {
		name string
		req  CompleteRequest
		msg  string
	}{
		{"empty parts", CompleteRequest{Token: s.Token, ObjectKey: s.ObjectKey, UploadID: s.UploadID}, "parts must not be empty"},
		{"unknown upload", CompleteRequest{Token: s.Token, ObjectKey: s.ObjectKey, UploadID: "nope", Parts: parts}, "unknown upload_id"},
		{"foreign key", CompleteRequest{Token: other, ObjectKey: s.ObjectKey, UploadID: s.UploadID, Parts: parts}, "object_key does not belong to token"},
		{"bad token", CompleteRequest{Token: "../x", ObjectKey: s.ObjectKey, UploadID: s.UploadID, Parts: parts}, "token is invalid"},
		{"duplicate part", CompleteRequest{Token: s.Token, ObjectKey: s.ObjectKey, UploadID: s.UploadID, Parts: []objstore.Part{parts[0], parts[0]}}, "part 1 reported twice"},
		{"zero part number", CompleteRequest{Token: s.Token, ObjectKey: s.ObjectKey, UploadID: s.UploadID, Parts: []objstore.Part{{Number: 0, ETag: "x"}}}, "part_number is invalid"},
		{"negative expiry", CompleteRequest{Token: s.Token, ObjectKey: s.ObjectKey, UploadID: s.UploadID, Parts: parts, ExpiryDays: -1}, "expiry_days must be at least 1"},
		{"expiry too long", CompleteRequest{Token: s.Token, ObjectKey: s.ObjectKey, UploadID: s.UploadID, Parts: parts, ExpiryDays: 31}, "expiry_days must be at most 30"},
		{"wrong etag", CompleteRequest{Token: s.Token, ObjectKey: s.ObjectKey, UploadID: s.UploadID, Parts: []objstore.Part{{Number: 1, ETag: "bogus"}}}, "parts do not match the uploaded data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CompleteUpload(ctx, tt.req, "http://x")
			require.Error(t, err)
			assert.True(t, transfer.IsKind(err, transfer.KindClientRequest))
			assert.Equal(t, tt.msg, transfer.PublicMessage(err))
		})
	}
	assert.Equal(t, 0, repo.Len())
}

func TestCompleteUpload_InsertFailureRemovesObject(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemoryStore("test")
	c := NewCoordinator(failingInsertRepo{transfer.NewMemoryRepository()}, store, testConfig, zap.NewNop())

	s, _ := c.InitiateUpload(ctx, InitiateRequest{Filename: "a.txt"})
	parts := uploadParts(t, store, s, "abc")

	_, err := c.CompleteUpload(ctx, CompleteRequest{Token: s.Token, ObjectKey: s.ObjectKey, UploadID: s.UploadID, Parts: parts}, "http://x")
	require.Error(t, err)
	assert.Equal(t, "internal error", transfer.PublicMessage(err))
	assert.Equal(t, 0, store.Len())
}

// recompletingStore accepts a repeated completion of an upload that already
// produced its object, the way S3 does.
type recompletingStore struct{ *objstore.MemoryStore }

func (s recompletingStore) CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []objstore.Part) error {
	if _, err := s.Stat(ctx, key); err == nil {
		return nil
	}
	return s.MemoryStore.CompleteMultipartUpload(ctx, key, uploadID, parts)
}

// unreachableRepo fails every call, so whether an insert landed is unknown.
type unreachableRepo struct{ *transfer.MemoryRepository }

func (unreachableRepo) Insert(context.Context, transfer.Record) error {
	return transfer.Backend("insert transfer", errors.New("connection reset"))
}

func (unreachableRepo) Get(context.Context, string) (transfer.Record, error) {
	return transfer.Record{}, transfer.Backend("get transfer", errors.New("connection reset"))
}

func TestCompleteUpload_RetryKeepsObject(t *testing.T) {
	ctx := context.Background()
	mem := objstore.NewMemoryStore("test")
	repo := transfer.NewMemoryRepository()
	c := NewCoordinator(repo, recompletingStore{mem}, testConfig, zap.NewNop())

	s, err := c.InitiateUpload(ctx, InitiateRequest{Filename: "a.txt"})
	require.NoError(t, err)
	req := CompleteRequest{Token: s.Token, ObjectKey: s.ObjectKey, UploadID: s.UploadID, Parts: uploadParts(t, mem, s, "abc")}

	_, err = c.CompleteUpload(ctx, req, "http://x")
	require.NoError(t, err)

	// The client lost the first response and tries again.
	_, err = c.CompleteUpload(ctx, req, "http://x")
	require.Error(t, err)

	rec, err := repo.Get(ctx, s.Token)
	require.NoError(t, err)
	data, ok := mem.Bytes(rec.StoredPath)
	require.True(t, ok, "a live record must keep its object")
	assert.Equal(t, "abc", string(data))
}

func TestCommit_DuplicateTokenKeepsObject(t *testing.T) {
	ctx := context.Background()
	repo := transfer.NewMemoryRepository()
	store := objstore.NewMemoryStore("test")
	token := transfer.NewToken()
	key := transfer.ObjectKey(token, "a.txt")
	_, err := store.Put(ctx, key, strings.NewReader("abc"), 3, "text/plain")
	require.NoError(t, err)
	rec := transfer.Record{Token: token, StoredPath: key, OriginalName: "a.txt"}

	require.NoError(t, commit(ctx, repo, store, zap.NewNop(), rec))
	require.Error(t, commit(ctx, repo, store, zap.NewNop(), rec))

	_, err = repo.Get(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestCommit_UnknownInsertOutcomeKeepsObject(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemoryStore("test")
	token := transfer.NewToken()
	key := transfer.ObjectKey(token, "a.txt")
	_, err := store.Put(ctx, key, strings.NewReader("abc"), 3, "text/plain")
	require.NoError(t, err)

	err = commit(ctx, unreachableRepo{transfer.NewMemoryRepository()}, store, zap.NewNop(),
		transfer.Record{Token: token, StoredPath: key, OriginalName: "a.txt"})
	require.Error(t, err)
	assert.Equal(t, 1, store.Len(), "left for the orphan pass")
}

func TestAbortUpload(t *testing.T) {
	ctx := context.Background()
	c, _, store := newCoordinator(t)
	s, _ := c.InitiateUpload(ctx, InitiateRequest{Filename: "a.txt"})
	uploadParts(t, store, s, "abc")

	require.NoError(t, c.AbortUpload(ctx, AbortRequest{ObjectKey: s.ObjectKey, UploadID: s.UploadID}))
	require.NoError(t, c.AbortUpload(ctx, AbortRequest{ObjectKey: s.ObjectKey, UploadID: s.UploadID}))

	_, err := store.UploadPart(s.ObjectKey, s.UploadID, 2, []byte("late"))
	assert.ErrorIs(t, err, objstore.ErrNoSuchUpload)

	err = c.AbortUpload(ctx, AbortRequest{ObjectKey: "elsewhere", UploadID: s.UploadID})
	assert.True(t, transfer.IsKind(err, transfer.KindClientRequest))
}
