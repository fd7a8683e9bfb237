// Package upload implements the two ways a transfer is created: direct
// multipart uploads coordinated through presigned part URLs, and relay
// uploads that stream through the service and may be bundled into a zip.
package upload

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/objstore"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
)

type Config struct {
	PartURLTTL        time.Duration
	DefaultExpiryDays int
	MaxExpiryDays     int
	MaxRelayBytes     int64
	// TempDir holds relay bundle spool files; empty means os.TempDir.
	TempDir string
}

// Result is what a finished upload hands back to the caller.
type Result struct {
	Token     string    `json:"token"`
	Link      string    `json:"link"`
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	ExpiresAt time.Time `json:"expires_at"`
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}()

// checkRequest turns the first validation failure into a client error.
func checkRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return transfer.ClientRequest("malformed request")
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return transfer.ClientRequest("%s is required", fe.Field())
	case "min":
		if fe.Kind() == reflect.Slice {
			return transfer.ClientRequest("%s must not be empty", fe.Field())
		}
	}
	return transfer.ClientRequest("%s is invalid", fe.Field())
}

// expiry resolves a retention request in days. Zero means the default.
func (c Config) expiry(days int, now time.Time) (time.Time, error) {
	if days == 0 {
		days = c.DefaultExpiryDays
	}
	if days < 1 {
		return time.Time{}, transfer.ClientRequest("expiry_days must be at least 1")
	}
	if c.MaxExpiryDays > 0 && days > c.MaxExpiryDays {
		return time.Time{}, transfer.ClientRequest("expiry_days must be at most %d", c.MaxExpiryDays)
	}
	return now.Add(time.Duration(days) * 24 * time.Hour), nil
}

func hashPassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		// Over-long passwords are the only input-driven failure.
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", transfer.ClientRequest("password is too long")
		}
		return "", transfer.Backend("hash password", err)
	}
	return string(h), nil
}

// commit inserts the record for an object that is already in storage. If the
// insert fails the object is removed best-effort, but only once a lookup
// confirms no row for the token exists. A duplicate token or an insert that
// committed despite the error leaves a row pointing at this object. When the
// lookup or the delete fails, the object is left for the collector.
func commit(ctx context.Context, repo transfer.Repository, store objstore.Store, log *zap.Logger, rec transfer.Record) error {
	err := repo.Insert(ctx, rec)
	if err == nil {
		return nil
	}

	cleanupCtx := context.WithoutCancel(ctx)
	_, getErr := repo.Get(cleanupCtx, rec.Token)
	switch {
	case getErr == nil:
		log.Warn("insert failed but a record exists; keeping object",
			zap.String("token", rec.Token), zap.String("key", rec.StoredPath), zap.Error(err))
	case !transfer.IsKind(getErr, transfer.KindNotFound):
		log.Warn("orphaned object left for collection",
			zap.String("token", rec.Token), zap.String("key", rec.StoredPath), zap.Error(getErr))
	default:
		if delErr := store.Delete(cleanupCtx, rec.StoredPath); delErr != nil {
			log.Warn("orphaned object left for collection",
				zap.String("token", rec.Token), zap.String("key", rec.StoredPath), zap.Error(delErr))
		}
	}
	return err
}

func newResult(rec transfer.Record, origin string) Result {
	return Result{
		Token:     rec.Token,
		Link:      transfer.ShareLink(origin, rec.Token),
		Name:      rec.OriginalName,
		SizeBytes: rec.SizeBytes,
		ExpiresAt: *rec.ExpiresAt,
	}
}
