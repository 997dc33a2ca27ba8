package services

import (
	"errors"
	"fmt"

	"github.com/akagifreeez/tinify-dashboard/pkg/tinify"
)

// ErrorKind is the closed set of reasons a compression attempt can fail.
type ErrorKind string

const (
	KindQuotaExhausted     ErrorKind = "quota_exhausted"
	KindInvalidCredential  ErrorKind = "invalid_credential"
	KindProviderAccount    ErrorKind = "provider_account_error"
	KindProviderClient     ErrorKind = "provider_client_error"
	KindProviderServer     ErrorKind = "provider_server_error"
	KindProviderConnection ErrorKind = "provider_connection_error"
	KindPersistence        ErrorKind = "persistence_error"
)

// CompressionError is the only error type Dispatcher.Compress returns.
type CompressionError struct {
	Kind    ErrorKind
	KeyHint string // masked credential, empty when none was selected
	Message string
	Err     error
}

func (e *CompressionError) Error() string {
	if e.KeyHint != "" {
		return fmt.Sprintf("%s (key %s): %s", e.Kind, e.KeyHint, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CompressionError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, or "" if it is not a CompressionError.
func KindOf(err error) ErrorKind {
	var ce *CompressionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

type stage int

const (
	stageValidate stage = iota
	stageCompress
)

// classifyProvider maps a provider failure onto ErrorKind. An account
// rejection during validation means the credential itself is bad.
func classifyProvider(st stage, keyHint string, err error) *CompressionError {
	var apiErr *tinify.Error
	if !errors.As(err, &apiErr) {
		return &CompressionError{
			Kind:    KindProviderConnection,
			KeyHint: keyHint,
			Message: err.Error(),
			Err:     err,
		}
	}

	ce := &CompressionError{KeyHint: keyHint, Message: apiErr.Message, Err: err}
	switch apiErr.Kind {
	case tinify.KindAccount:
		if st == stageValidate {
			ce.Kind = KindInvalidCredential
		} else {
			ce.Kind = KindProviderAccount
		}
	case tinify.KindClient:
		ce.Kind = KindProviderClient
	case tinify.KindServer:
		ce.Kind = KindProviderServer
	case tinify.KindConnection:
		ce.Kind = KindProviderConnection
	default:
		ce.Kind = KindProviderServer
	}
	if ce.Message == "" {
		ce.Message = apiErr.Error()
	}
	return ce
}
