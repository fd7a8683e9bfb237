// Package objstore is the object storage client used by the upload, access and
// collection paths. Backends: MinIO (minio-go), AWS S3 (aws-sdk-go-v2) and an
// in-process memory store.
package objstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned by Get and Stat for a missing key.
	ErrNotFound = errors.New("object not found")
	// ErrNoSuchUpload is returned when a multipart upload id is unknown to
	// the backend (never opened, already completed or aborted).
	ErrNoSuchUpload = errors.New("no such multipart upload")
	// ErrInvalidPart is returned when a completion references a part that
	// was never uploaded, has a mismatched ETag, or is out of order.
	ErrInvalidPart = errors.New("invalid part")
)

// Part is one uploaded part as reported by the client after its PUT.
type Part struct {
	Number int    `json:"part_number" validate:"gte=1,lte=10000"`
	ETag   string `json:"etag" validate:"required"`
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is the subset of S3 semantics the service depends on.
//
// Delete is delete-if-exists: removing a key that is already gone succeeds,
// so concurrent reclaimers racing on the same token both see success.
type Store interface {
	CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error)
	PresignPart(ctx context.Context, key, uploadID string, partNumber int, ttl time.Duration) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []Part) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error

	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (int64, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	Ping(ctx context.Context) error
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
