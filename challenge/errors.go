/*
errors.go - Centralized error types for the challenge engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores and transports wrap or translate these errors; callers test
  them with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Admission errors - AlreadyActive, InvalidInput
  2. Ledger errors    - LedgerUnavailable (I/O, timeout)
  3. Store errors     - Conflict, DuplicateActive, NotFound
  4. Refresh errors   - ChallengeError wraps one challenge's failure

RECOVERY POLICY:
  - LedgerUnavailable during BudgetCut seeding: recovered with the
    fallback baseline, Join still succeeds
  - LedgerUnavailable during evaluation: that challenge is skipped and
    reported, the rest of the pass continues
  - Conflict / DuplicateActive: surfaced, never retried blindly

SEE ALSO:
  - engine.go: Maps store errors to admission errors
  - api/handlers.go: Maps errors to HTTP status codes
*/
package challenge

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAlreadyActive is returned by Join when the user already holds an
	// active challenge of the same type.
	ErrAlreadyActive = errors.New("challenge already active")

	// ErrLedgerUnavailable is returned when a ledger query fails.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	// ErrConflict is returned when a repository write loses a concurrency race.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrDuplicateActive is returned by Repository.Create when the
	// at-most-one-active constraint rejects the row.
	ErrDuplicateActive = errors.New("duplicate active challenge")

	// ErrInvalidInput is returned for malformed user IDs or types.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a challenge doesn't exist.
	ErrNotFound = errors.New("challenge not found")

	// ErrUnknownType is returned when no strategy is registered for a type.
	ErrUnknownType = errors.New("unknown challenge type")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AlreadyActiveError reports which challenge blocked admission.
type AlreadyActiveError struct {
	UserID     string
	Type       Type
	ExistingID string // empty when the store rejected a racing insert
}

func (e *AlreadyActiveError) Error() string {
	if e.ExistingID == "" {
		return fmt.Sprintf("user %s already has an active %s challenge", e.UserID, e.Type)
	}
	return fmt.Sprintf("user %s already has an active %s challenge (%s)", e.UserID, e.Type, e.ExistingID)
}

func (e *AlreadyActiveError) Unwrap() error { return ErrAlreadyActive }

// LedgerUnavailableError wraps a failed ledger query.
type LedgerUnavailableError struct {
	Op  string // e.g. "SumExpenses"
	Err error
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerUnavailableError) Unwrap() []error { return []error{ErrLedgerUnavailable, e.Err} }

// ConflictError reports an optimistic-concurrency mismatch on Update.
type ConflictError struct {
	ChallengeID string
	Version     int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("challenge %s: version %d is stale or challenge is no longer active", e.ChallengeID, e.Version)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// DuplicateActiveError is the storage-level rejection of a second active
// challenge for the same (UserID, Type).
type DuplicateActiveError struct {
	UserID string
	Type   Type
}

func (e *DuplicateActiveError) Error() string {
	return fmt.Sprintf("active %s challenge already exists for user %s", e.Type, e.UserID)
}

func (e *DuplicateActiveError) Unwrap() []error { return []error{ErrDuplicateActive, ErrConflict} }

// InvalidInputError describes a rejected field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// ChallengeError isolates one challenge's failure inside a refresh pass.
type ChallengeError struct {
	ChallengeID string
	Type        Type
	Err         error
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("challenge %s (%s): %v", e.ChallengeID, e.Type, e.Err)
}

func (e *ChallengeError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrAlreadyActive) ||
		errors.Is(err, ErrUnknownType)
}

// IsConflict returns true if a write lost a concurrency race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing challenge.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
