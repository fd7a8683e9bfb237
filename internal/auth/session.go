package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultCookieName = "mt_session"
	sessionAudience   = "session"
)

var ErrNoSession = errors.New("no valid session")

type SessionConfig struct {
	Secret     string
	TTL        time.Duration
	Secure     bool
	CookieName string
}

// Sessions issues and checks operator session cookies. The cookie value is
// an HS256 JWT whose subject is the username.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	secure bool
	cookie string
	now    func() time.Time
}

func NewSessions(cfg SessionConfig) *Sessions {
	s := &Sessions{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TTL,
		secure: cfg.Secure,
		cookie: cfg.CookieName,
		now:    time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = 12 * time.Hour
	}
	if s.cookie == "" {
		s.cookie = DefaultCookieName
	}
	return s
}

func (s *Sessions) token(p Principal) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   p.Username,
		Audience:  jwt.ClaimStrings{sessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString(s.secret)
	return tok, exp, err
}

func (s *Sessions) parse(raw string) (Principal, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(sessionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || claims.Subject == "" {
		return Principal{}, ErrNoSession
	}
	return Principal{Username: claims.Subject}, nil
}

// Issue sets a session cookie for p.
func (s *Sessions) Issue(w http.ResponseWriter, p Principal) error {
	tok, exp, err := s.token(p)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie,
		Value:    tok,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	})
	return nil
}

// Clear expires the session cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secure,
	})
}

func (s *Sessions) Verify(r *http.Request) (Principal, error) {
	c, err := r.Cookie(s.cookie)
	if err != nil {
		return Principal{}, ErrNoSession
	}
	return s.parse(c.Value)
}

type principalKey struct{}

// Require rejects requests without a valid session and stores the principal
// in the request context.
func (s *Sessions) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.Verify(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
