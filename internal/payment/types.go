package payment

import (
	"context"
	"errors"
	"time"
)

// Status is the verification state machine:
// pending -> verifying -> {verified | failed}. Terminal states never
// transition further for the same payment id; a failed id re-enters only
// through an explicit trigger.
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerifying Status = "verifying"
	StatusVerified  Status = "verified"
	StatusFailed    Status = "failed"
)

var (
	ErrNotFound           = errors.New("payment: verification not found")
	ErrAlreadyInProgress  = errors.New("payment: verification already in progress")
	ErrAlreadyVerified    = errors.New("payment: already verified")
	ErrPaymentNotFound    = errors.New("payment: unknown to gateway")
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
	// ErrAuditDegraded signals that the plan change committed but the audit
	// record did not. Operators must reconcile; it is never folded into a
	// clean success.
	ErrAuditDegraded = errors.New("payment: effect applied, audit degraded")
)

// Verification is one verification attempt record for an externally issued
// payment id.
type Verification struct {
	PaymentID     string    `json:"payment_id"`
	UserID        string    `json:"user_id,omitempty"`
	Status        Status    `json:"status"`
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// Store persists verification records. Claim is the concurrency token for
// the whole workflow: the conditional pending|failed -> verifying write is
// what keeps two concurrent triggers from both committing an upgrade, and it
// must be backed by an atomic row update when several instances run.
type Store interface {
	Get(ctx context.Context, paymentID string) (Verification, error)
	// Claim transitions pending|failed -> verifying, creating the record on
	// the first trigger, and increments the attempt count. A record already
	// verifying yields ErrAlreadyInProgress; a verified record yields
	// ErrAlreadyVerified.
	Claim(ctx context.Context, paymentID string) (Verification, error)
	// RecordAttempt bumps the attempt count of a verifying record (an extra
	// in-trigger gateway retry).
	RecordAttempt(ctx context.Context, paymentID string) (Verification, error)
	// Complete moves a verifying record to a terminal status. userID is
	// recorded when known (settled confirmations carry it).
	Complete(ctx context.Context, paymentID string, status Status, userID string) error
	// Release returns a verifying record to pending after a transient
	// gateway failure, so a later trigger remains meaningful.
	Release(ctx context.Context, paymentID string) error
	// ReleaseStale returns records stuck in verifying longer than maxAge to
	// pending, enabling caller-driven recovery of crashed attempts.
	ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error)
}

// Confirmation is the gateway's answer for one payment id.
type Confirmation struct {
	Settled bool   `json:"settled"`
	UserID  string `json:"user_id"`
	Tier    string `json:"tier"`
}

// Gateway is the opaque external payment service. Confirm blocks up to the
// caller's context deadline and reports ErrGatewayUnavailable on
// timeout/transport failure and ErrPaymentNotFound for unknown ids.
type Gateway interface {
	Confirm(ctx context.Context, paymentID string) (Confirmation, error)
}
