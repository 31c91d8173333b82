// Package apierr defines the orchestrator's error taxonomy (spec.md §7):
// validation errors, authority errors, and conflict outcomes, each as a
// distinct Go type so the RPC dispatcher can translate errors by type
// switch rather than string matching.
package apierr

import "fmt"

// ValidationError covers malformed payloads, missing fields, and
// non-existent referents. Surfaced to the caller with a descriptive message.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validationf constructs a ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AuthorityCode enumerates the closed set of authority-error reasons
// spec.md §7(b) requires callers be able to distinguish verbatim.
type AuthorityCode string

const (
	CodeLeaderMismatch             AuthorityCode = "leader_mismatch"
	CodeUnauthorizedStatusUpdate   AuthorityCode = "unauthorized_status_update"
	CodeNotOperationalOrWrongProject AuthorityCode = "agent_not_operational_or_wrong_project"
)

// AuthorityError covers authorization failures that must be surfaced
// verbatim by code, not just by message.
type AuthorityError struct {
	Code    AuthorityCode
	Message string
}

func (e *AuthorityError) Error() string { return e.Message }

// Authority constructs an AuthorityError for the given code.
func Authority(code AuthorityCode, message string) error {
	return &AuthorityError{Code: code, Message: message}
}

// ConflictError represents a non-error outcome that still needs special
// handling by the caller (e.g. a deduplicated task). It is typically not
// returned as a Go error at all but kept here for symmetry and for paths
// that want to signal "this was handled, but here's why" uniformly.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }
