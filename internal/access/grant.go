package access

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const grantAudience = "grant"

// ErrInvalidGrant covers every reason a presented grant is rejected.
var ErrInvalidGrant = errors.New("invalid grant")

// Grant proves that the holder supplied the right password for Token. It is
// valid until ExpiresAt.
type Grant struct {
	Token     string
	ExpiresAt time.Time
}

// Allows reports whether g unlocks token at now. A nil grant allows nothing.
func (g *Grant) Allows(token string, now time.Time) bool {
	return g != nil && g.Token == token && now.Before(g.ExpiresAt)
}

// GrantCodec turns grants into signed strings and back.
type GrantCodec struct {
	secret []byte
	now    func() time.Time
}

func NewGrantCodec(secret string) *GrantCodec {
	return &GrantCodec{secret: []byte(secret), now: time.Now}
}

func (c *GrantCodec) Encode(g Grant) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   g.Token,
		Audience:  jwt.ClaimStrings{grantAudience},
		IssuedAt:  jwt.NewNumericDate(c.now()),
		ExpiresAt: jwt.NewNumericDate(g.ExpiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Decode verifies raw and returns the grant it carries.
func (c *GrantCodec) Decode(raw string) (Grant, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(grantAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || claims.Subject == "" {
		return Grant{}, ErrInvalidGrant
	}
	return Grant{Token: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// CookieName is the per-token cookie a grant travels in.
func CookieName(token string) string {
	return "mt_grant_" + token
}
