package server

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/access"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/logging"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
)

const streamChunk = 32 << 10

type unlockResp struct {
	access.View
	Grant          string    `json:"grant"`
	GrantExpiresAt time.Time `json:"grant_expires_at"`
}

// grantFromRequest returns the caller's grant for token, from its cookie or a
// bearer header, or nil when none verifies.
func (s *Server) grantFromRequest(r *http.Request, token string) *access.Grant {
	var raw string
	if c, err := r.Cookie(access.CookieName(token)); err == nil {
		raw = c.Value
	} else if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	}
	if raw == "" {
		return nil
	}
	g, err := s.deps.Grants.Decode(raw)
	if err != nil {
		return nil
	}
	return &g
}

// handleDownloadPage returns the transfer's metadata, or a password prompt
// when it is protected and the caller holds no grant.
func (s *Server) handleDownloadPage(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	view, err := s.deps.Gate.Open(r.Context(), token, s.grantFromRequest(r, token), s.requestOrigin(r))
	if err != nil {
		if transfer.IsKind(err, transfer.KindAuth) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: transfer.PublicMessage(err), PasswordRequired: true})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleUnlock exchanges a password for a grant. The grant is set as a
// cookie and also returned for clients that send it as a bearer token.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	var password string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var body struct {
			Password string `json:"password"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, r, err)
			return
		}
		password = body.Password
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		password = r.PostFormValue("password")
	}

	grant, view, err := s.deps.Gate.Unlock(r.Context(), token, password, s.requestOrigin(r))
	if err != nil {
		if transfer.IsKind(err, transfer.KindAuth) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid password", PasswordRequired: true})
			return
		}
		writeError(w, r, err)
		return
	}

	raw, err := s.deps.Grants.Encode(grant)
	if err != nil {
		writeError(w, r, transfer.Backend("sign grant", err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     access.CookieName(token),
		Value:    raw,
		Path:     "/",
		Expires:  grant.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.SecureCookies,
	})
	writeJSON(w, http.StatusOK, unlockResp{View: view, Grant: raw, GrantExpiresAt: grant.ExpiresAt})
}

// handleStream relays the object to the caller in fixed-size chunks.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	d, err := s.deps.Gate.Stream(r.Context(), token, s.grantFromRequest(r, token))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() { _ = d.Body.Close() }()

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": d.Name})
	if disposition == "" {
		disposition = "attachment"
	}
	h := w.Header()
	h.Set("Content-Type", d.ContentType)
	h.Set("Content-Disposition", disposition)
	if d.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(d.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.CopyBuffer(w, d.Body, make([]byte, streamChunk))
	if err != nil {
		// Headers are gone; the client sees a short body.
		logging.FromContext(r.Context()).Warn("stream interrupted",
			zap.String("token", token), zap.Int64("sent", n), zap.Error(err))
	}
}
