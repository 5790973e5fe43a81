package core

import (
	"errors"
	"fmt"
)

var (
	ErrMissingSignature = errors.New("missing signature header")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrIDSpaceExhausted = errors.New("could not derive a unique expense id")
)

// AuthErrorKind distinguishes an absent signature from a wrong one.
type AuthErrorKind int

const (
	AuthMissing AuthErrorKind = iota
	AuthInvalid
)

// AuthError is returned when a mutating request fails the signature gate.
type AuthError struct {
	Kind AuthErrorKind
}

func (e *AuthError) Error() string {
	return e.Unwrap().Error()
}

func (e *AuthError) Unwrap() error {
	if e.Kind == AuthMissing {
		return ErrMissingSignature
	}
	return ErrInvalidSignature
}

// ValidationCode enumerates the ways a payload can be rejected.
type ValidationCode string

const (
	CodeMalformed  ValidationCode = "malformed"
	CodeMissing    ValidationCode = "missing_field"
	CodeType       ValidationCode = "invalid_type"
	CodeDate       ValidationCode = "invalid_date"
	CodeMisaligned ValidationCode = "argument_misaligned"
)

// ValidationError describes a rejected payload. Message is the client-facing
// summary, Err carries the underlying parse error for the details field.
type ValidationError struct {
	Code    ValidationCode
	Message string
	Field   string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Details returns the human readable explanation sent to clients.
func (e *ValidationError) Details() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func invalidPayload(code ValidationCode, field string, err error) *ValidationError {
	return &ValidationError{Code: code, Message: "Invalid payload", Field: field, Err: err}
}

// NotFoundError is returned when an id is absent from the full ledger.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("expense %q not found", e.ID)
}

// Store names used by ConsistencyError.Missing.
const (
	StoreLedger = "ledger"
	StoreShard  = "shard"
	StoreBoth   = "both"
)

// ConsistencyError reports an expense found in only one of the two stores.
// Missing names the store that lacks it.
type ConsistencyError struct {
	ID      string
	Date    string
	Missing string
}

func (e *ConsistencyError) Error() string {
	switch e.Missing {
	case StoreBoth:
		return "Id not found"
	case StoreLedger:
		return "Id only found in daily data, not full data"
	default:
		return "Id only found in full data, not daily data"
	}
}

// StorageError wraps an I/O or parse failure outside the startup recovery window.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
