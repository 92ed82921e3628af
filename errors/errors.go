// Package errors provides error handling for weave.
//
// This package re-exports github.com/cockroachdb/errors, providing stack
// traces, wrapping, hints and safe details. Domain packages declare their
// own sentinels and wrap the shared ones below so callers can branch with
// errors.Is:
//
//	if errors.Is(err, errors.ErrNotFound) {
//	    // unknown perspective or neighbourhood
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New           = crdb.New
	Newf          = crdb.Newf
	Wrap          = crdb.Wrap
	Wrapf         = crdb.Wrapf
	WithStack     = crdb.WithStack
	WithMessage   = crdb.WithMessage
	WithMessagef  = crdb.WithMessagef
	Mark          = crdb.Mark
	CombineErrors = crdb.CombineErrors
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// AssertionFailedf reports a broken internal invariant.
var AssertionFailedf = crdb.AssertionFailedf

// Shared sentinel errors. Wrap them with errors.Wrap to add context while
// preserving identity for errors.Is.
var (
	// ErrNotFound indicates an unknown perspective, neighbourhood, module or key
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed input
	ErrInvalidRequest = New("invalid request")

	// ErrForbidden indicates a capability check denied the operation
	ErrForbidden = New("forbidden")

	// ErrServiceUnavailable indicates a collaborator (sandbox, ledger, carrier) is not running
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation ran past its deadline
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates a duplicate registration
	ErrConflict = New("resource conflict")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest.
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsForbiddenError checks if an error is or wraps ErrForbidden.
func IsForbiddenError(err error) bool {
	return err != nil && Is(err, ErrForbidden)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message.
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}

// NewForbiddenError creates a forbidden error with a formatted message.
func NewForbiddenError(format string, args ...interface{}) error {
	return Wrapf(ErrForbidden, format, args...)
}
