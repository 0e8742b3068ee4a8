// Package errors provides centralized error definitions for the application.
// Errors are organized by failure class so the retry controller can map any
// wrapped error to a recovery policy with errors.Is.
//
// Naming conventions:
//   - Exported errors (Err*): Use for errors that callers need to check with errors.Is
//   - Unexported errors (err*): Use for internal package errors
//   - All sentinel errors should be defined as variables, not inline errors.New calls
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
package errors

import "errors"

// Platform API failure classes.
var (
	// ErrRateLimited indicates the platform throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrValidation indicates the platform rejected the request content
	// (bad url, duplicate submission, title too long, ...).
	ErrValidation = errors.New("platform validation error")

	// ErrTransport indicates the request may or may not have reached the
	// platform: the side effect is unknown.
	ErrTransport = errors.New("transport failure")

	// ErrServerUnavailable indicates a 5xx from the platform.
	ErrServerUnavailable = errors.New("server unavailable")

	// ErrOverloaded is the 503 subtype of ErrServerUnavailable.
	ErrOverloaded = errors.New("server overloaded")

	// ErrUnexpectedStatus indicates an HTTP status with no recovery policy.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Invariant violations. These are programming errors or corrupted state and
// terminate the process.
var (
	// ErrInvariantViolation is the parent of every fatal state error.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrCheckpointRegression indicates an attempt to move the checkpoint backwards.
	ErrCheckpointRegression = errors.New("checkpoint regression")

	// ErrLedgerWrite indicates a publish succeeded but could not be recorded.
	ErrLedgerWrite = errors.New("ledger write failed")
)

// Lookup errors.
var (
	// ErrNotFound is a generic not found error.
	ErrNotFound = errors.New("not found")

	// ErrEmptyResponse indicates an empty response was received.
	ErrEmptyResponse = errors.New("empty response")

	// ErrUnexpectedType indicates an unexpected type was encountered.
	ErrUnexpectedType = errors.New("unexpected type")
)

// Validation errors.
var (
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")
)
