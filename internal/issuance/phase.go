package issuance

import "github.com/jmerrifield20/examcert/internal/scoring"

// Phase is the state of an issuance session. The concrete types form a
// closed set; each carries only the data valid in that phase.
type Phase interface {
	Name() string
	sealed()
}

// Idle is the phase of a session that has not been started.
type Idle struct{}

// Submitting: scores are being sent to the backend.
type Submitting struct{}

// Anchoring: the issued pair is being authorized and written to the ledger.
type Anchoring struct {
	Issued scoring.Issued
}

// Reconciling: the anchor is durable; the backend is being told.
type Reconciling struct {
	Issued scoring.Issued
}

// Succeeded is terminal. Warning is set when reconciliation failed; the
// certificate is valid regardless.
type Succeeded struct {
	Issued  scoring.Issued
	Warning *ReconciliationFailure
}

// Failed is the error phase. Issued is set when the failure happened after
// submission, which makes the session retryable.
type Failed struct {
	Kind   Kind
	Err    error
	Issued *scoring.Issued
}

func (Idle) Name() string        { return "idle" }
func (Submitting) Name() string  { return "submitting" }
func (Anchoring) Name() string   { return "anchoring" }
func (Reconciling) Name() string { return "reconciling" }
func (Succeeded) Name() string   { return "success" }
func (Failed) Name() string      { return "error" }

func (Idle) sealed()        {}
func (Submitting) sealed()  {}
func (Anchoring) sealed()   {}
func (Reconciling) sealed() {}
func (Succeeded) sealed()   {}
func (Failed) sealed()      {}

// Retryable reports whether Retry may resume from this phase.
func (f Failed) Retryable() bool { return f.Issued != nil }
