package transfer

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "_.._etc_passwd"},
		{`C:\Users\me\a.txt`, "C__Users_me_a.txt"},
		{"  .hidden.  ", "hidden"},
		{"a\x00b\nc", "abc"},
		{`what?<x>.txt`, "what__x_.txt"},
		{"", "unnamed"},
		{"...", "unnamed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), "input %q", tt.in)
	}
}

func TestSanitizeFilename_TruncatesKeepingExtension(t *testing.T) {
	got := SanitizeFilename(strings.Repeat("x", 300) + ".tar.gz")
	assert.Len(t, got, 200)
	assert.True(t, strings.HasSuffix(got, ".gz"))
}

func TestNewToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok := NewToken()
		assert.True(t, ValidToken(tok), tok)
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
	}
	assert.False(t, ValidToken("../etc"))
	assert.False(t, ValidToken(strings.ToUpper(NewToken())))
}

func TestObjectKeyRoundTrip(t *testing.T) {
	tok := NewToken()
	key := ObjectKey(tok, "a.txt")
	assert.Equal(t, "uploads/"+tok+"__a.txt", key)
	assert.Equal(t, "a.txt", NameFromKey(tok, key))
	assert.Equal(t, "", NameFromKey(NewToken(), key))
	assert.Equal(t, "", NameFromKey(tok, TokenPrefix(tok)))
}

func TestShareLink(t *testing.T) {
	assert.Equal(t, "https://x.test/d/abc", ShareLink("https://x.test/", "abc"))
	assert.Equal(t, "http://localhost:8080/d/abc", ShareLink("http://localhost:8080", "abc"))
}

func TestRecordExpiredAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Second), now.Add(time.Second)

	assert.False(t, Record{}.ExpiredAt(now))
	assert.True(t, Record{ExpiresAt: &past}.ExpiredAt(now))
	assert.True(t, Record{ExpiresAt: &now}.ExpiredAt(now))
	assert.False(t, Record{ExpiresAt: &future}.ExpiredAt(now))
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{ClientRequest("bad part number %d", 0), http.StatusBadRequest, "bad part number 0"},
		{Unauthorized("invalid password"), http.StatusUnauthorized, "invalid password"},
		{Forbidden("password required"), http.StatusForbidden, "password required"},
		{NotFound(), http.StatusNotFound, "not found"},
		{Expired(), http.StatusGone, "this link has expired"},
		{PayloadTooLarge(100 << 20), http.StatusRequestEntityTooLarge, "upload exceeds the 100 MiB limit"},
		{Backend("insert transfer", errors.New("pq: secret detail")), http.StatusInternalServerError, "internal error"},
		{errors.New("plain"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(tt.err), tt.err.Error())
		assert.Equal(t, tt.msg, PublicMessage(tt.err))
	}
}

func TestBackendErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Backend("op", cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsKind(err, KindBackend))
	assert.False(t, IsKind(nil, KindBackend))
	assert.Equal(t, "op: boom", err.Error())
}
