package issuance

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("issuance session not found")
	// ErrNotRetryable is returned by Retry for a session that has no issued
	// (hash, locator) pair; such a session must be started again.
	ErrNotRetryable = errors.New("session cannot be retried; start a new issuance")
	// ErrSessionBusy is returned when a session is being driven by another call.
	ErrSessionBusy = errors.New("session is in progress")
)

// Kind classifies a saga failure.
type Kind int

const (
	KindSubmissionFailure Kind = iota + 1
	KindUserDeclined
	KindTransactionFailed
)

func (k Kind) String() string {
	switch k {
	case KindSubmissionFailure:
		return "submission_failure"
	case KindUserDeclined:
		return "user_declined"
	case KindTransactionFailed:
		return "transaction_failed"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	switch s {
	case "submission_failure":
		return KindSubmissionFailure
	case "user_declined":
		return KindUserDeclined
	case "transaction_failed":
		return KindTransactionFailed
	default:
		return 0
	}
}

// Error is a saga failure.
type Error struct {
	Kind      Kind
	SessionID uuid.UUID
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("issuance %s: %s: %v", e.SessionID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of a saga failure anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// ReconciliationFailure is the non-fatal outcome of a failed reconciliation.
// Queued reports whether a retry job was scheduled.
type ReconciliationFailure struct {
	Err    error
	Queued bool
}

func (r *ReconciliationFailure) Error() string {
	return "reconciliation failed: " + r.Err.Error()
}

func (r *ReconciliationFailure) Unwrap() error { return r.Err }
