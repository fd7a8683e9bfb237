package access

import (
	"context"
	"io"
	"mime"
	"path"

	"go.uber.org/zap"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
)

// Download is an open object stream. The caller must close Body.
type Download struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.ReadCloser
}

// Stream opens the object behind token. Protected transfers need a grant;
// without one the result is forbidden, not a password prompt.
func (g *Gate) Stream(ctx context.Context, token string, grant *Grant) (Download, error) {
	rec, err := g.admit(ctx, token)
	if err != nil {
		return Download{}, err
	}
	if rec.Protected() && !grant.Allows(token, g.now()) {
		return Download{}, transfer.Forbidden("password required")
	}

	log := g.log.With(zap.String("token", token), zap.String("key", rec.StoredPath))

	info, err := g.store.Stat(ctx, rec.StoredPath)
	if err != nil {
		if isMissing(err) {
			log.Error("record points at a missing object")
			return Download{}, transfer.NotFound()
		}
		return Download{}, transfer.Backend("stat object", err)
	}
	body, err := g.store.Get(ctx, rec.StoredPath)
	if err != nil {
		if isMissing(err) {
			log.Error("record points at a missing object")
			return Download{}, transfer.NotFound()
		}
		return Download{}, transfer.Backend("open object", err)
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(rec.OriginalName))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return Download{
		Name:        rec.OriginalName,
		Size:        info.Size,
		ContentType: contentType,
		Body:        body,
	}, nil
}
