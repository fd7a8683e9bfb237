// Package gc reclaims expired transfers and objects left behind without a
// record. It is safe to run beside live traffic and to re-run after a crash.
package gc

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/objstore"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
)

type Config struct {
	Concurrency int
	LockTTL     time.Duration
	// OrphanGrace is how old an object without a record must be before it is
	// removed. Zero disables the orphan pass.
	//
	// Age comes from the object's LastModified. On S3 an object assembled by a
	// multipart upload carries the time the upload was initiated, so a
	// direct upload whose completion arrives later than OrphanGrace after its
	// initiation can be removed before its record is written. The grace must
	// exceed the longest multipart upload expected.
	OrphanGrace time.Duration
}

// Report summarises one sweep. Failed counts tokens whose cleanup must be
// retried on a later run.
type Report struct {
	Scanned   int  `json:"scanned"`
	Expired   int  `json:"expired"`
	Reclaimed int  `json:"reclaimed"`
	Failed    int  `json:"failed"`
	Orphans   int  `json:"orphans"`
	Skipped   bool `json:"skipped,omitempty"`
}

type Collector struct {
	repo    transfer.Repository
	store   objstore.Store
	reclaim *transfer.Reclaimer
	locker  Locker
	cfg     Config
	log     *zap.Logger
	now     func() time.Time
}

func NewCollector(repo transfer.Repository, store objstore.Store, reclaim *transfer.Reclaimer, locker Locker, cfg Config, log *zap.Logger) *Collector {
	if locker == nil {
		locker = NopLocker{}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Collector{
		repo:    repo,
		store:   store,
		reclaim: reclaim,
		locker:  locker,
		cfg:     cfg,
		log:     log.With(zap.String("component", "gc")),
		now:     time.Now,
	}
}

// Sweep reclaims every transfer whose expiry is strictly before now, then
// removes orphaned objects. It returns an error only when the sweep could not
// run at all; per-token failures are counted in the report.
func (c *Collector) Sweep(ctx context.Context) (Report, error) {
	start := c.now()

	release, ok, err := c.locker.Acquire(ctx, LockKey, c.cfg.LockTTL)
	if err != nil {
		return Report{}, transfer.Backend("acquire gc lock", err)
	}
	if !ok {
		c.log.Info("another replica holds the gc lock, skipping")
		return Report{Skipped: true}, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn("release gc lock", zap.Error(err))
		}
	}()

	records, err := c.repo.ListExpiring(ctx)
	if err != nil {
		return Report{}, err
	}

	var (
		mu  sync.Mutex
		rep = Report{Scanned: len(records)}
	)
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Concurrency)
	for _, rec := range records {
		if !rec.ExpiresAt.Before(start) {
			continue
		}
		rep.Expired++
		g.Go(func() error {
			_, err := c.reclaim.Reclaim(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed++
				c.log.Warn("reclaim failed, will retry next run", zap.String("token", rec.Token), zap.Error(err))
				return nil
			}
			rep.Reclaimed++
			return nil
		})
	}
	_ = g.Wait()

	if c.cfg.OrphanGrace > 0 {
		orphans, failed, err := c.sweepOrphans(ctx, start.Add(-c.cfg.OrphanGrace))
		if err != nil {
			c.log.Warn("orphan pass aborted", zap.Error(err))
		}
		rep.Orphans = orphans
		rep.Failed += failed
	}

	c.log.Info("sweep finished",
		zap.Int("scanned", rep.Scanned),
		zap.Int("expired", rep.Expired),
		zap.Int("reclaimed", rep.Reclaimed),
		zap.Int("orphans", rep.Orphans),
		zap.Int("failed", rep.Failed),
		zap.Duration("took", c.now().Sub(start)))
	return rep, nil
}

// sweepOrphans deletes objects last modified before cutoff whose token has no
// record. Recent objects are skipped since their record may not be written
// yet.
func (c *Collector) sweepOrphans(ctx context.Context, cutoff time.Time) (deleted, failed int, err error) {
	objects, err := c.store.List(ctx, transfer.KeyPrefix)
	if err != nil {
		return 0, 0, transfer.Backend("list objects", err)
	}

	byToken := make(map[string][]objstore.ObjectInfo)
	for _, o := range objects {
		token := tokenFromKey(o.Key)
		if token == "" || !o.LastModified.Before(cutoff) {
			continue
		}
		byToken[token] = append(byToken[token], o)
	}

	for token, objs := range byToken {
		if err := ctx.Err(); err != nil {
			return deleted, failed, err
		}
		_, err := c.repo.Get(ctx, token)
		if err == nil {
			continue
		}
		if !transfer.IsKind(err, transfer.KindNotFound) {
			c.log.Warn("orphan check failed", zap.String("token", token), zap.Error(err))
			failed++
			continue
		}
		for _, o := range objs {
			if err := c.store.Delete(ctx, o.Key); err != nil {
				c.log.Warn("orphan delete failed", zap.String("key", o.Key), zap.Error(err))
				failed++
				break
			}
			deleted++
			c.log.Info("orphaned object removed", zap.String("key", o.Key), zap.Time("last_modified", o.LastModified))
		}
	}
	return deleted, failed, nil
}

// tokenFromKey extracts the token from uploads/<token>__<name>, or "".
func tokenFromKey(key string) string {
	rest, ok := strings.CutPrefix(key, transfer.KeyPrefix)
	if !ok {
		return ""
	}
	token, _, ok := strings.Cut(rest, "__")
	if !ok || !transfer.ValidToken(token) {
		return ""
	}
	return token
}
