package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/objstore"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
)

const fallbackBundleFolder = "bundle"

// RelayFile is one file body received by the service. Open may be called
// more than once.
type RelayFile struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

type RelayRequest struct {
	Files []RelayFile
	// Paths pairs with Files by position. Missing or empty entries fall back
	// to the file name.
	Paths      []string
	ExpiryDays int
	Password   string
	// DeclaredSize is the request length announced by the client, or -1.
	DeclaredSize int64
}

// Relay stores uploads that pass through the service.
type Relay struct {
	repo  transfer.Repository
	store objstore.Store
	cfg   Config
	log   *zap.Logger
	now   func() time.Time
}

func NewRelay(repo transfer.Repository, store objstore.Store, cfg Config, log *zap.Logger) *Relay {
	return &Relay{repo: repo, store: store, cfg: cfg, log: log, now: time.Now}
}

// CheckDeclaredSize rejects a request before its body is read.
func (r *Relay) CheckDeclaredSize(n int64) error {
	if r.cfg.MaxRelayBytes > 0 && n > r.cfg.MaxRelayBytes {
		return transfer.PayloadTooLarge(r.cfg.MaxRelayBytes)
	}
	return nil
}

func (r *Relay) MaxBytes() int64 { return r.cfg.MaxRelayBytes }

// RelayUpload stores a single plain file as-is, or bundles everything into a
// zip when several files or any folder path are submitted.
func (r *Relay) RelayUpload(ctx context.Context, req RelayRequest, origin string) (Result, error) {
	if err := r.CheckDeclaredSize(req.DeclaredSize); err != nil {
		return Result{}, err
	}
	if len(req.Files) == 0 {
		return Result{}, transfer.ClientRequest("no files submitted")
	}
	var total int64
	for _, f := range req.Files {
		total += f.Size
	}
	if err := r.CheckDeclaredSize(total); err != nil {
		return Result{}, err
	}

	now := r.now().UTC()
	expiresAt, err := r.cfg.expiry(req.ExpiryDays, now)
	if err != nil {
		return Result{}, err
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		return Result{}, err
	}

	token := transfer.NewToken()
	var (
		key, name string
		size      int64
	)
	if isSingle(req) {
		key, name, size, err = r.putSingle(ctx, token, req.Files[0])
	} else {
		key, name, size, err = r.putBundle(ctx, token, req, now)
	}
	if err != nil {
		return Result{}, err
	}

	rec := transfer.Record{
		Token:        token,
		StoredPath:   key,
		OriginalName: name,
		PasswordHash: hash,
		ExpiresAt:    &expiresAt,
		SizeBytes:    size,
		CreatedAt:    now,
	}
	if err := commit(ctx, r.repo, r.store, r.log, rec); err != nil {
		return Result{}, err
	}

	r.log.Info("relay upload stored",
		zap.String("token", token),
		zap.Int("files", len(req.Files)),
		zap.Bool("bundled", !isSingle(req)),
		zap.Int64("size_bytes", size))
	return newResult(rec, origin), nil
}

func isSingle(req RelayRequest) bool {
	if len(req.Files) != 1 {
		return false
	}
	for _, p := range req.Paths {
		if strings.ContainsAny(p, `/\`) {
			return false
		}
	}
	return true
}

func (r *Relay) putSingle(ctx context.Context, token string, f RelayFile) (string, string, int64, error) {
	name := transfer.SanitizeFilename(f.Name)
	key := transfer.ObjectKey(token, name)

	contentType := "application/octet-stream"
	if rc, err := f.Open(); err == nil {
		if mt, err := mimetype.DetectReader(rc); err == nil {
			contentType = mt.String()
		}
		_ = rc.Close()
	}

	body, err := f.Open()
	if err != nil {
		return "", "", 0, transfer.Backend("open upload", err)
	}
	defer func() { _ = body.Close() }()

	n, err := r.store.Put(ctx, key, body, f.Size, contentType)
	if err != nil {
		return "", "", 0, transfer.Backend("store upload", err)
	}
	return key, name, n, nil
}

// putBundle compresses all files into a spool file, then stores it. The spool
// file is removed on every return path.
func (r *Relay) putBundle(ctx context.Context, token string, req RelayRequest, now time.Time) (string, string, int64, error) {
	spool, err := os.CreateTemp(r.cfg.TempDir, "mt-bundle-*.zip")
	if err != nil {
		return "", "", 0, transfer.Backend("create spool file", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	names := entryNames(req.Files, req.Paths)
	zw := zip.NewWriter(spool)
	for i, f := range req.Files {
		if err := ctx.Err(); err != nil {
			return "", "", 0, transfer.Backend("bundle cancelled", err)
		}
		if err := addEntry(zw, names[i], f, now); err != nil {
			return "", "", 0, transfer.Backend(fmt.Sprintf("bundle %s", names[i]), err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", "", 0, transfer.Backend("finish bundle", err)
	}

	size, err := spool.Seek(0, io.SeekEnd)
	if err != nil {
		return "", "", 0, transfer.Backend("size bundle", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return "", "", 0, transfer.Backend("rewind bundle", err)
	}

	folder := topLevelFolder(req.Paths)
	key := transfer.ObjectKey(token, fmt.Sprintf("%s-%s.zip", folder, token[:8]))

	n, err := r.store.Put(ctx, key, spool, size, "application/zip")
	if err != nil {
		return "", "", 0, transfer.Backend("store bundle", err)
	}
	return key, folder + ".zip", n, nil
}

func addEntry(zw *zip.Writer, name string, f RelayFile, modified time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	_, err = io.Copy(w, rc)
	return err
}

// cleanRelPath normalises a client path to a forward-slash relative path with
// no empty, "." or ".." segments.
func cleanRelPath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	segs := make([]string, 0, 4)
	for _, s := range strings.Split(p, "/") {
		s = strings.ReplaceAll(s, "\x00", "")
		if s == "" || s == "." || s == ".." {
			continue
		}
		segs = append(segs, s)
	}
	return strings.Join(segs, "/")
}

// entryNames pairs files with paths by position and makes the names unique
// inside the archive. A path naming only a folder ("dir/") gets the file's
// own name appended.
func entryNames(files []RelayFile, paths []string) []string {
	names := make([]string, len(files))
	seen := make(map[string]bool, len(files))
	for i, f := range files {
		base := transfer.SanitizeFilename(f.Name)
		name := ""
		if i < len(paths) {
			name = cleanRelPath(paths[i])
			if name != "" && strings.HasSuffix(strings.ReplaceAll(paths[i], `\`, "/"), "/") {
				name += "/" + base
			}
		}
		if name == "" {
			name = base
		}
		if seen[name] {
			ext := path.Ext(name)
			stem := strings.TrimSuffix(name, ext)
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s-%d%s", stem, n, ext)
				if !seen[candidate] {
					name = candidate
					break
				}
			}
		}
		seen[name] = true
		names[i] = name
	}
	return names
}

// topLevelFolder names a bundle after the first folder found in paths.
func topLevelFolder(paths []string) string {
	for _, p := range paths {
		clean := cleanRelPath(p)
		if i := strings.IndexByte(clean, '/'); i > 0 {
			return transfer.SanitizeFilename(clean[:i])
		}
	}
	return fallbackBundleFolder
}
