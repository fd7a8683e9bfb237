// Package auth authenticates the operator who creates transfers and keeps
// the resulting session in a signed cookie. The transfer lifecycle does not
// depend on it; only the upload and admin routes are wrapped.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Principal is an authenticated operator.
type Principal struct {
	Username string
}

type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (Principal, error)
}

// StaticAuthenticator accepts one configured account.
type StaticAuthenticator struct {
	username []byte
	hash     []byte
}

// NewStaticAuthenticator takes a bcrypt hash or a plain password, which is
// hashed here so it is never compared in the clear.
func NewStaticAuthenticator(username, password string) (*StaticAuthenticator, error) {
	if username == "" || password == "" {
		return nil, errors.New("auth: username and password are required")
	}
	hash := []byte(password)
	if _, err := bcrypt.Cost(hash); err != nil || !strings.HasPrefix(password, "$2") {
		hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
	}
	return &StaticAuthenticator{username: []byte(username), hash: hash}, nil
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, username, password string) (Principal, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), a.username) == 1
	// bcrypt runs on every attempt, whether or not the username matched.
	passErr := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	if !userOK || passErr != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{Username: username}, nil
}
