package upload

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/objstore"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
)

type InitiateRequest struct {
	Filename    string `json:"filename" validate:"required,max=1024"`
	ContentType string `json:"content_type" validate:"max=255"`
}

// Session identifies an open multipart upload. Nothing about it is stored
// locally; the backend owns the session state.
type Session struct {
	Token     string `json:"token"`
	ObjectKey string `json:"object_key"`
	UploadID  string `json:"upload_id"`
}

type SignRequest struct {
	ObjectKey  string `json:"object_key" validate:"required"`
	UploadID   string `json:"upload_id" validate:"required"`
	PartNumber int    `json:"part_number" validate:"gte=1,lte=10000"`
}

type CompleteRequest struct {
	Token       string          `json:"token" validate:"required"`
	ObjectKey   string          `json:"object_key" validate:"required"`
	UploadID    string          `json:"upload_id" validate:"required"`
	DisplayName string          `json:"display_name" validate:"max=1024"`
	Parts       []objstore.Part `json:"parts" validate:"required,min=1,max=10000,dive"`
	ExpiryDays  int             `json:"expiry_days"`
	Password    string          `json:"password"`
}

type AbortRequest struct {
	ObjectKey string `json:"object_key" validate:"required"`
	UploadID  string `json:"upload_id" validate:"required"`
}

// Coordinator drives direct-to-storage multipart uploads. The service never
// sees part bytes; it opens the session, signs part URLs and finalizes.
type Coordinator struct {
	repo  transfer.Repository
	store objstore.Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

func NewCoordinator(repo transfer.Repository, store objstore.Store, cfg Config, log *zap.Logger) *Coordinator {
	return &Coordinator{repo: repo, store: store, cfg: cfg, log: log, now: time.Now}
}

func (c *Coordinator) InitiateUpload(ctx context.Context, req InitiateRequest) (Session, error) {
	req.Filename = strings.TrimSpace(req.Filename)
	if err := checkRequest(req); err != nil {
		return Session{}, err
	}

	contentType := strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	token := transfer.NewToken()
	key := transfer.ObjectKey(token, transfer.SanitizeFilename(req.Filename))

	uploadID, err := c.store.CreateMultipartUpload(ctx, key, contentType)
	if err != nil {
		return Session{}, transfer.Backend("open multipart upload", err)
	}

	c.log.Info("multipart upload started", zap.String("token", token), zap.String("key", key))
	return Session{Token: token, ObjectKey: key, UploadID: uploadID}, nil
}

// SignPart presigns a PUT for one part. It has no side effects and may be
// called any number of times for the same part.
func (c *Coordinator) SignPart(ctx context.Context, req SignRequest) (string, error) {
	if err := checkRequest(req); err != nil {
		return "", err
	}
	if !strings.HasPrefix(req.ObjectKey, transfer.KeyPrefix) {
		return "", transfer.ClientRequest("object_key is not an upload key")
	}

	u, err := c.store.PresignPart(ctx, req.ObjectKey, req.UploadID, req.PartNumber, c.cfg.PartURLTTL)
	if err != nil {
		return "", transfer.Backend("presign part", err)
	}
	return u, nil
}

// CompleteUpload finalizes the multipart session and only then records the
// transfer. Parts may be reported in any order.
func (c *Coordinator) CompleteUpload(ctx context.Context, req CompleteRequest, origin string) (Result, error) {
	if len(req.Parts) == 0 {
		return Result{}, transfer.ClientRequest("parts must not be empty")
	}
	if err := checkRequest(req); err != nil {
		return Result{}, err
	}
	if !transfer.ValidToken(req.Token) {
		return Result{}, transfer.ClientRequest("token is invalid")
	}
	name := transfer.NameFromKey(req.Token, req.ObjectKey)
	if name == "" {
		return Result{}, transfer.ClientRequest("object_key does not belong to token")
	}

	parts := append([]objstore.Part(nil), req.Parts...)
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	for i := 1; i < len(parts); i++ {
		if parts[i].Number == parts[i-1].Number {
			return Result{}, transfer.ClientRequest("part %d reported twice", parts[i].Number)
		}
	}

	now := c.now().UTC()
	expiresAt, err := c.cfg.expiry(req.ExpiryDays, now)
	if err != nil {
		return Result{}, err
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return Result{}, err
	}

	if err := c.store.CompleteMultipartUpload(ctx, req.ObjectKey, req.UploadID, parts); err != nil {
		switch {
		case errors.Is(err, objstore.ErrNoSuchUpload):
			return Result{}, transfer.ClientRequest("unknown upload_id")
		case errors.Is(err, objstore.ErrInvalidPart):
			return Result{}, transfer.ClientRequest("parts do not match the uploaded data")
		}
		return Result{}, transfer.Backend("complete multipart upload", err)
	}

	info, err := c.store.Stat(ctx, req.ObjectKey)
	if err != nil {
		return Result{}, transfer.Backend("probe uploaded object", err)
	}

	displayName := name
	if dn := strings.TrimSpace(req.DisplayName); dn != "" {
		displayName = transfer.SanitizeFilename(dn)
	}

	rec := transfer.Record{
		Token:        req.Token,
		StoredPath:   req.ObjectKey,
		OriginalName: displayName,
		PasswordHash: hash,
		ExpiresAt:    &expiresAt,
		SizeBytes:    info.Size,
		CreatedAt:    now,
	}
	if err := commit(ctx, c.repo, c.store, c.log, rec); err != nil {
		return Result{}, err
	}

	c.log.Info("multipart upload completed",
		zap.String("token", rec.Token),
		zap.Int("parts", len(parts)),
		zap.Int64("size_bytes", rec.SizeBytes),
		zap.Bool("protected", rec.Protected()))
	return newResult(rec, origin), nil
}

// AbortUpload discards an unfinished session so its parts stop accruing
// storage.
func (c *Coordinator) AbortUpload(ctx context.Context, req AbortRequest) error {
	if err := checkRequest(req); err != nil {
		return err
	}
	if !strings.HasPrefix(req.ObjectKey, transfer.KeyPrefix) {
		return transfer.ClientRequest("object_key is not an upload key")
	}
	if err := c.store.AbortMultipartUpload(ctx, req.ObjectKey, req.UploadID); err != nil {
		if errors.Is(err, objstore.ErrNoSuchUpload) {
			return nil
		}
		return transfer.Backend("abort multipart upload", err)
	}
	return nil
}
