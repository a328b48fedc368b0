package store

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes store failures. The migration engine keys its
// fatal/non-fatal decisions on these codes rather than on backend error
// strings.
type ErrorCode string

const (
	// ErrCodeConfig indicates the backend configuration is unusable.
	ErrCodeConfig ErrorCode = "BAD_CONFIG"

	// ErrCodeInit indicates the backend failed to start.
	ErrCodeInit ErrorCode = "INIT_FAILED"

	// ErrCodeLoad indicates a full-state read failed.
	ErrCodeLoad ErrorCode = "LOAD_FAILED"

	// ErrCodeWrite indicates a write of a specific entity failed.
	ErrCodeWrite ErrorCode = "WRITE_FAILED"

	// ErrCodeClose indicates resource release failed. Never fatal to a
	// migration's reported outcome, but always surfaced.
	ErrCodeClose ErrorCode = "CLOSE_FAILED"

	// ErrCodeNotEmpty indicates the destination already holds state and
	// the run was started without --force.
	ErrCodeNotEmpty ErrorCode = "DEST_NOT_EMPTY"
)

// StoreError is the structured error every backend reports through.
// Entity and Key are set for write failures so an operator can retry a
// single application.
type StoreError struct {
	Code   ErrorCode
	Kind   Kind
	Entity string
	Key    string
	Err    error
}

func (e *StoreError) Error() string {
	prefix := string(e.Code)
	if e.Kind != "" {
		prefix = fmt.Sprintf("%s: %s store", e.Code, e.Kind)
	}
	switch {
	case e.Entity != "" && e.Key != "":
		return fmt.Sprintf("%s: %s %s: %v", prefix, e.Entity, e.Key, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return prefix
	}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewConfigError reports unusable backend configuration.
func NewConfigError(kind Kind, err error) *StoreError {
	return &StoreError{Code: ErrCodeConfig, Kind: kind, Err: err}
}

// NewInitError reports a backend that failed to start.
func NewInitError(kind Kind, err error) *StoreError {
	return &StoreError{Code: ErrCodeInit, Kind: kind, Err: err}
}

// NewLoadError reports a failed full-state read.
func NewLoadError(kind Kind, err error) *StoreError {
	return &StoreError{Code: ErrCodeLoad, Kind: kind, Err: err}
}

// NewWriteError reports a failed write of one entity.
func NewWriteError(kind Kind, entity, key string, err error) *StoreError {
	return &StoreError{Code: ErrCodeWrite, Kind: kind, Entity: entity, Key: key, Err: err}
}

// NewCloseError reports failed resource release.
func NewCloseError(kind Kind, err error) *StoreError {
	return &StoreError{Code: ErrCodeClose, Kind: kind, Err: err}
}

// NewNotEmptyError reports a populated destination. The engine raises it
// without knowing the backend kind, so Kind is left unset.
func NewNotEmptyError() *StoreError {
	return &StoreError{Code: ErrCodeNotEmpty, Err: errors.New("destination store already holds state (re-run with --force to overwrite)")}
}

// CodeOf extracts the error code from a wrapped StoreError, or "" when
// the error is not a store error.
func CodeOf(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsWriteError reports whether err is a per-entity write failure.
// Uses errors.As to handle wrapped errors.
func IsWriteError(err error) bool {
	return CodeOf(err) == ErrCodeWrite
}

// IsNotEmpty reports whether err is the populated-destination pre-check
// failure.
func IsNotEmpty(err error) bool {
	return CodeOf(err) == ErrCodeNotEmpty
}
