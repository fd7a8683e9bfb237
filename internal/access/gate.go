// Package access decides who may see and download a transfer. The Gate walks
// each request through lookup, expiry, and password checks; passwords are
// exchanged for explicit Grant values that the stream path verifies.
package access

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/objstore"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
)

const expiryLayout = "2006-01-02 15:04"

// View is the metadata released once access is granted.
type View struct {
	Token     string `json:"token"`
	Name      string `json:"name"`
	Size      string `json:"size"`
	SizeBytes int64  `json:"size_bytes"`
	ExpiresAt string `json:"expires_at"`
	Link      string `json:"link"`
	Protected bool   `json:"protected"`
}

type Gate struct {
	repo     transfer.Repository
	store    objstore.Store
	reclaim  *transfer.Reclaimer
	grantTTL time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewGate(repo transfer.Repository, store objstore.Store, reclaim *transfer.Reclaimer, grantTTL time.Duration, log *zap.Logger) *Gate {
	return &Gate{repo: repo, store: store, reclaim: reclaim, grantTTL: grantTTL, log: log, now: time.Now}
}

// Open returns the view for token. A protected transfer needs a grant for
// token; without one the caller gets an auth error asking for the password.
func (g *Gate) Open(ctx context.Context, token string, grant *Grant, origin string) (View, error) {
	rec, err := g.admit(ctx, token)
	if err != nil {
		return View{}, err
	}
	if rec.Protected() && !grant.Allows(token, g.now()) {
		return View{}, transfer.Unauthorized("password required")
	}
	return newView(rec, origin), nil
}

// Unlock checks password against the transfer and mints a grant. Unknown
// tokens and wrong passwords fail identically.
func (g *Gate) Unlock(ctx context.Context, token, password, origin string) (Grant, View, error) {
	rec, err := g.admit(ctx, token)
	if err != nil {
		if transfer.IsKind(err, transfer.KindNotFound) {
			return Grant{}, View{}, transfer.Unauthorized("invalid password")
		}
		return Grant{}, View{}, err
	}
	if rec.Protected() {
		if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)) != nil {
			g.log.Info("unlock rejected", zap.String("token", token))
			return Grant{}, View{}, transfer.Unauthorized("invalid password")
		}
	}

	now := g.now()
	grant := Grant{Token: token, ExpiresAt: now.Add(g.grantTTL)}
	if rec.ExpiresAt != nil && rec.ExpiresAt.Before(grant.ExpiresAt) {
		grant.ExpiresAt = *rec.ExpiresAt
	}
	return grant, newView(rec, origin), nil
}

// admit runs lookup and the expiry check. An expired transfer is reclaimed on
// the spot; a failed reclaim is left to the collector.
func (g *Gate) admit(ctx context.Context, token string) (transfer.Record, error) {
	if !transfer.ValidToken(token) {
		return transfer.Record{}, transfer.NotFound()
	}
	rec, err := g.repo.Get(ctx, token)
	if err != nil {
		return transfer.Record{}, err
	}
	if rec.ExpiredAt(g.now()) {
		if _, err := g.reclaim.Reclaim(context.WithoutCancel(ctx), rec); err != nil {
			g.log.Warn("reclaim on access failed", zap.String("token", token), zap.Error(err))
		}
		return transfer.Record{}, transfer.Expired()
	}
	return rec, nil
}

func newView(rec transfer.Record, origin string) View {
	v := View{
		Token:     rec.Token,
		Name:      rec.OriginalName,
		Size:      humanize.IBytes(uint64(max(rec.SizeBytes, 0))),
		SizeBytes: rec.SizeBytes,
		ExpiresAt: "never",
		Link:      transfer.ShareLink(origin, rec.Token),
		Protected: rec.Protected(),
	}
	if rec.ExpiresAt != nil {
		v.ExpiresAt = rec.ExpiresAt.UTC().Format(expiryLayout) + " UTC"
	}
	return v
}

func isMissing(err error) bool {
	return errors.Is(err, objstore.ErrNotFound)
}
