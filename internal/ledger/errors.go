package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNoCredentialsAvailable = errors.New("ledger: no credentials available")
	ErrCredentialExists       = errors.New("ledger: credential already registered")
	ErrCredentialNotFound     = errors.New("ledger: credential not found")
	ErrInvalidLimit           = errors.New("ledger: monthly limit must be positive")
	ErrEmptyToken             = errors.New("ledger: token is required")
)

// PersistenceError reports that the ledger state could not be read from or
// written to its store. After a failed write the durable state may lag behind
// what the caller observed, so usage reporting should be treated as stale.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger: %s state: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistence reports whether err is (or wraps) a *PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
