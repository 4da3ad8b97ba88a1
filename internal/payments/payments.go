// Package payments implements the payment-status reconciliation core.
//
// One canonical record exists per user. Three independent writers act on it:
//  1. Signed gateway webhooks (at-least-once, may arrive duplicated or late)
//  2. Pull verification against the gateway's verify-by-reference API
//  3. Administrative overrides, which outrank anything the gateway reports
//
// Both gateway paths funnel through Engine.ApplyGatewaySuccess; the override
// path writes a separate field that takes absolute precedence at read time.
package payments

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("payment record not found")
	ErrRecordExists       = errors.New("payment record already exists")
	ErrDuplicateReference = errors.New("reference already recorded")
	ErrInvalidInput       = errors.New("invalid reconciliation input")
	ErrInvalidOverride    = errors.New("invalid override status")
)

// AutomaticStatus is the gateway-driven payment status. It only ever moves
// unpaid -> paid; nothing on the automatic path reverts it.
type AutomaticStatus string

const (
	AutomaticUnpaid AutomaticStatus = "unpaid"
	AutomaticPaid   AutomaticStatus = "paid"
)

// OverrideStatus is the administrative layer. When set, it wins over the
// automatic status for every access decision.
type OverrideStatus string

const (
	OverrideNone         OverrideStatus = "none"
	OverrideForcedPaid   OverrideStatus = "forced_paid"
	OverrideForcedUnpaid OverrideStatus = "forced_unpaid"
)

// EffectiveStatus is the single value consumers may read.
type EffectiveStatus string

const (
	StatusPaid   EffectiveStatus = "paid"
	StatusUnpaid EffectiveStatus = "unpaid"
)

// Result is the terminal outcome of one ApplyGatewaySuccess call.
type Result string

const (
	Transitioned      Result = "transitioned"
	Duplicate         Result = "duplicate"
	InvalidAmount     Result = "invalid_amount"
	BlockedByOverride Result = "blocked_by_override"
	AlreadyOverridden Result = "already_overridden"
	NoOpAlreadyPaid   Result = "noop_already_paid"
)

// Record is the canonical payment state for one user.
type Record struct {
	UserID          string          `json:"userId"`
	AmountExpected  int64           `json:"amountExpected"` // minor units (kobo)
	AutomaticStatus AutomaticStatus `json:"automaticStatus"`
	OverrideStatus  OverrideStatus  `json:"overrideStatus"`
	// Reference is the gateway transaction that caused the paid transition.
	// Globally unique across all records once set.
	Reference string `json:"reference,omitempty"`
	// PendingReference is the most recent initialized-but-unconfirmed
	// transaction, kept so status polls can trigger pull verification.
	PendingReference string    `json:"pendingReference,omitempty"`
	PaidAt           time.Time `json:"paidAt,omitzero"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Effective collapses the override and automatic layers into the one status
// any consumer may act on.
func (r *Record) Effective() EffectiveStatus {
	switch r.OverrideStatus {
	case OverrideForcedPaid:
		return StatusPaid
	case OverrideForcedUnpaid:
		return StatusUnpaid
	}
	if r.AutomaticStatus == AutomaticPaid {
		return StatusPaid
	}
	return StatusUnpaid
}

// Store persists payment records and the reference idempotency index.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, userID string) (*Record, error)
	SetOverride(ctx context.Context, userID string, status OverrideStatus) error
	SetPendingReference(ctx context.Context, userID, reference string) error
	Delete(ctx context.Context, userID string) error

	// Reconcile runs the gateway-success transition for userID as a single
	// atomic unit: claim reference in the idempotency index, load the record
	// under the record lock, resolve the outcome, and persist any mutation.
	// A reference already present in the index yields Duplicate with no
	// further effect. The claim is retained for every other outcome except
	// ErrUserNotFound, where the whole unit rolls back.
	Reconcile(ctx context.Context, userID, reference string, amount int64, paidAt time.Time) (Result, error)
}

// resolve applies the precedence rules to a loaded record. Shared by every
// Store implementation so the webhook and pull paths cannot diverge.
// Order matters: the amount guard runs before any override short-circuit, so
// a tampered amount burns its reference instead of reporting override state.
func resolve(rec *Record, amount int64) Result {
	if amount != rec.AmountExpected {
		return InvalidAmount
	}
	if rec.OverrideStatus == OverrideForcedUnpaid {
		return BlockedByOverride
	}
	if rec.OverrideStatus == OverrideForcedPaid {
		return AlreadyOverridden
	}
	if rec.AutomaticStatus == AutomaticPaid {
		return NoOpAlreadyPaid
	}
	return Transitioned
}
