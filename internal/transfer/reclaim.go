package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/objstore"
)

// Reclaimer removes an expired transfer: objects first, row last. It is shared
// by the access gate (on-access expiry) and the garbage collector, which may
// race on the same token. Both sides tolerate the other having won.
type Reclaimer struct {
	repo  Repository
	store objstore.Store
	log   *zap.Logger

	// Backoff builds the retry policy for each storage call.
	Backoff func() backoff.BackOff
}

func NewReclaimer(repo Repository, store objstore.Store, log *zap.Logger) *Reclaimer {
	return &Reclaimer{
		repo:  repo,
		store: store,
		log:   log,
		Backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return backoff.WithMaxRetries(b, 3)
		},
	}
}

// Reclaim deletes every object under the token's prefix plus rec.StoredPath,
// then the row. If any object survives the row is kept so a later pass can
// retry. It returns the number of objects deleted.
func (r *Reclaimer) Reclaim(ctx context.Context, rec Record) (int, error) {
	log := r.log.With(zap.String("token", rec.Token))

	var objects []objstore.ObjectInfo
	err := r.retry(ctx, func() error {
		var err error
		objects, err = r.store.List(ctx, TokenPrefix(rec.Token))
		return err
	})
	if err != nil {
		return 0, Backend("list objects", err)
	}

	keys := make([]string, 0, len(objects)+1)
	seen := make(map[string]bool, len(objects)+1)
	for _, o := range objects {
		keys = append(keys, o.Key)
		seen[o.Key] = true
	}
	if rec.StoredPath != "" && !seen[rec.StoredPath] {
		keys = append(keys, rec.StoredPath)
	}

	deleted := 0
	for _, key := range keys {
		err := r.retry(ctx, func() error { return r.store.Delete(ctx, key) })
		if errors.Is(err, objstore.ErrNotFound) {
			// Already gone; another reclaimer got there first.
			err = nil
		}
		if err != nil {
			log.Warn("object delete failed, keeping record", zap.String("key", key), zap.Error(err))
			return deleted, Backend("delete object", err)
		}
		deleted++
	}

	if err := r.repo.Delete(ctx, rec.Token); err != nil {
		return deleted, err
	}
	log.Info("transfer reclaimed", zap.Int("objects", deleted))
	return deleted, nil
}

func (r *Reclaimer) retry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, objstore.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(r.Backoff(), ctx))
}
