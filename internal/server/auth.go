package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Neolutionist/MiniTransfer-sub000/internal/auth"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/logging"
	"github.com/Neolutionist/MiniTransfer-sub000/internal/transfer"
)

// handleLogin checks operator credentials and issues a session cookie
// (HttpOnly, SameSite=Lax).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	log := logging.FromContext(r.Context())

	if locked, until := s.lockout.locked(body.Username); locked {
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(until).Seconds())+1))
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many failed logins"})
		return
	}

	p, err := s.deps.Auth.Authenticate(r.Context(), body.Username, body.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			if s.lockout.fail(body.Username) {
				log.Warn("operator locked out", zap.String("username", body.Username), zap.String("ip", getClientIP(r)))
			} else {
				log.Info("login rejected", zap.String("ip", getClientIP(r)))
			}
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid credentials"})
			return
		}
		writeError(w, r, transfer.Backend("authenticate", err))
		return
	}
	s.lockout.succeed(body.Username)

	if err := s.deps.Sessions.Issue(w, p); err != nil {
		writeError(w, r, transfer.Backend("issue session", err))
		return
	}
	log.Info("operator logged in", zap.String("username", p.Username))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogout clears the session cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.deps.Sessions.Clear(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
