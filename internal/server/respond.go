package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/logging"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
)

const maxJSONBody = 1 << 20

type errorBody struct {
	Error            string `json:"error"`
	PasswordRequired bool   `json:"password_required,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its status and public message. Server-side
// failures are logged with their cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := transfer.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: transfer.PublicMessage(err)})
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return transfer.PayloadTooLarge(maxJSONBody)
		}
		return transfer.ClientRequest("malformed JSON body")
	}
	return nil
}

// requestOrigin is the scheme and host share links are built on.
func (s *Server) requestOrigin(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}
