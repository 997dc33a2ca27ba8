package tinify

import (
	"fmt"
	"net/http"
)

// Kind classifies a provider failure. The set is closed.
type Kind int

const (
	// KindAccount: the credential was rejected or its provider quota is spent (401, 429).
	KindAccount Kind = iota + 1
	// KindClient: the request itself was bad (other 4xx).
	KindClient
	// KindServer: the provider failed (5xx or an unreadable response).
	KindServer
	// KindConnection: the provider could not be reached.
	KindConnection
)

func (k Kind) String() string {
	switch k {
	case KindAccount:
		return "account"
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	case KindConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Error is returned by every Client call that fails.
type Error struct {
	Kind    Kind
	Status  int    // HTTP status, 0 for connection failures
	Code    string // provider error code, e.g. "Unauthorized"
	Message string // provider supplied message, surfaced verbatim
	Err     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("tinify: %s error: %s", e.Kind, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("tinify: %s error (status %d, %s): %s", e.Kind, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("tinify: %s error (status %d): %s", e.Kind, e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// kindForStatus mirrors the provider's documented status classes.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusTooManyRequests:
		return KindAccount
	case status >= 400 && status <= 499:
		return KindClient
	default:
		return KindServer
	}
}

func connectionError(err error) *Error {
	return &Error{
		Kind:    KindConnection,
		Message: "error while connecting: " + err.Error(),
		Err:     err,
	}
}
