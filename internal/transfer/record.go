// Package transfer holds the transfer record, its persistence and the
// reclamation sequence shared by the access gate and the garbage collector.
package transfer

import (
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix namespaces every object this service writes.
const KeyPrefix = "uploads/"

// Record is one completed transfer. It exists only once its object is
// committed to storage.
type Record struct {
	Token        string
	StoredPath   string
	OriginalName string
	PasswordHash string
	ExpiresAt    *time.Time
	SizeBytes    int64
	CreatedAt    time.Time
}

func (r Record) Protected() bool { return r.PasswordHash != "" }

// ExpiredAt reports whether the record is past retention at now. A record
// expiring exactly at now is expired.
func (r Record) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

var tokenRe = regexp.MustCompile(`^[0-9a-f]{32}$`)

// NewToken draws a fresh 128-bit token rendered as lowercase hex.
func NewToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func ValidToken(s string) bool { return tokenRe.MatchString(s) }

// TokenPrefix is the key prefix under which every object of token lives.
func TokenPrefix(token string) string {
	return KeyPrefix + token + "__"
}

func ObjectKey(token, name string) string {
	return TokenPrefix(token) + name
}

// NameFromKey returns the filename portion of an object key written by
// ObjectKey, or "" when key does not belong to token.
func NameFromKey(token, key string) string {
	prefix := TokenPrefix(token)
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return ""
	}
	return key[len(prefix):]
}

// SanitizeFilename makes a client-supplied name safe for use as the last
// segment of an object key and in a Content-Disposition header.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "\x00", "")
	filename = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case strings.ContainsRune(`"<>:|?*`, r):
			return '_'
		}
		return r
	}, filename)
	filename = strings.Trim(filename, " .")

	if len(filename) > 200 {
		ext := filepath.Ext(filename)
		if len(ext) > 20 {
			ext = ""
		}
		filename = strings.ToValidUTF8(filename[:200-len(ext)], "") + ext
	}

	if filename == "" {
		filename = "unnamed"
	}
	return filename
}

// ShareLink is the public download page for token.
func ShareLink(origin, token string) string {
	return strings.TrimRight(origin, "/") + "/d/" + token
}
