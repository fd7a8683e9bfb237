package transfer

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
)

// Kind classifies a failure by who has to act on it.
type Kind int

const (
	KindBackend Kind = iota
	KindClientRequest
	KindAuth
	KindForbidden
	KindNotFound
	KindExpired
	KindPayloadTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindClientRequest:
		return "client_request"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindPayloadTooLarge:
		return "payload_too_large"
	default:
		return "backend"
	}
}

// Error is the error type returned by the lifecycle services. Msg is safe to
// show to callers for every kind except KindBackend; Err is only for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func ClientRequest(format string, args ...any) error {
	return &Error{Kind: KindClientRequest, Msg: fmt.Sprintf(format, args...)}
}

func Unauthorized(msg string) error {
	return &Error{Kind: KindAuth, Msg: msg}
}

func Forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Msg: msg}
}

func NotFound() error {
	return &Error{Kind: KindNotFound, Msg: "not found"}
}

func Expired() error {
	return &Error{Kind: KindExpired, Msg: "this link has expired"}
}

// PayloadTooLarge reports the configured ceiling so operators and clients can
// tell policy rejections apart from malformed requests.
func PayloadTooLarge(limit int64) error {
	return &Error{
		Kind: KindPayloadTooLarge,
		Msg:  fmt.Sprintf("upload exceeds the %s limit", humanize.IBytes(uint64(limit))),
	}
}

// Backend wraps a storage or database failure. op names the failed step.
func Backend(op string, err error) error {
	return &Error{Kind: KindBackend, Msg: op, Err: err}
}

// KindOf returns the kind of err. Errors that did not originate here are
// treated as backend failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBackend
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindClientRequest:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindExpired:
		return http.StatusGone
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text returned to callers. Backend causes never leave
// the process.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) || e.Kind == KindBackend {
		return "internal error"
	}
	return e.Msg
}
