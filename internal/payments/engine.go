package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/widemind/coursepay/internal/metrics"
	"github.com/widemind/coursepay/internal/traces"
)

// Engine is the reconciliation core. Every automatic status change, from
// either the webhook path or the pull-verification path, goes through
// ApplyGatewaySuccess; overrides go through SetOverride/ClearOverride.
type Engine struct {
	store          Store
	amountExpected int64
	logger         *slog.Logger
}

// NewEngine creates the reconciliation engine. amountExpected is the course
// access price in minor units, fixed per deployment.
func NewEngine(store Store, amountExpected int64, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, amountExpected: amountExpected, logger: logger}
}

// AmountExpected returns the deployment-wide access price in minor units.
func (e *Engine) AmountExpected() int64 { return e.amountExpected }

// CreateRecord provisions the unpaid record for a newly registered user.
func (e *Engine) CreateRecord(ctx context.Context, userID string) error {
	now := time.Now()
	return e.store.Create(ctx, &Record{
		UserID:          userID,
		AmountExpected:  e.amountExpected,
		AutomaticStatus: AutomaticUnpaid,
		OverrideStatus:  OverrideNone,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

// ApplyGatewaySuccess reconciles one gateway-confirmed payment against the
// user's record. It is idempotent on reference: replaying a delivery yields
// Duplicate and changes nothing. All outcomes are terminal and are meant to
// be acknowledged to the gateway; only the error return signals a fault.
func (e *Engine) ApplyGatewaySuccess(ctx context.Context, reference string, amount int64, userID string) (Result, error) {
	if reference == "" || userID == "" || amount <= 0 {
		return "", ErrInvalidInput
	}

	ctx, span := traces.StartSpan(ctx, "payments.apply_gateway_success",
		attribute.String("payment.reference", reference),
	)
	defer span.End()

	result, err := e.store.Reconcile(ctx, userID, reference, amount, time.Now())
	if err != nil {
		return "", fmt.Errorf("reconcile %s: %w", reference, err)
	}

	metrics.ReconciliationsTotal.WithLabelValues(string(result)).Inc()

	log := e.logger.With("user", userID, "reference", reference, "outcome", string(result))
	switch result {
	case Transitioned:
		log.Info("payment reconciled, user marked paid")
	case Duplicate:
		// Replay of an already-spent reference. Acked upstream, audit here.
		log.Warn("duplicate gateway delivery ignored")
	case InvalidAmount:
		log.Warn("gateway amount mismatch, reference spent without transition",
			"amount", amount, "expected", e.amountExpected)
	default:
		log.Info("gateway success acknowledged without transition")
	}

	return result, nil
}

// EffectiveStatus is the only status read consumers may use. Pure read.
func (e *Engine) EffectiveStatus(ctx context.Context, userID string) (EffectiveStatus, error) {
	rec, err := e.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return rec.Effective(), nil
}

// Record returns the full canonical record for a user.
func (e *Engine) Record(ctx context.Context, userID string) (*Record, error) {
	return e.store.Get(ctx, userID)
}

// TrackPendingReference remembers an initialized-but-unconfirmed transaction
// so later status polls can trigger pull verification for it.
func (e *Engine) TrackPendingReference(ctx context.Context, userID, reference string) error {
	if reference == "" {
		return ErrInvalidInput
	}
	return e.store.SetPendingReference(ctx, userID, reference)
}

// SetOverride forces a user's status regardless of gateway history. It is an
// unconditional administrative write: no idempotency or precedence checks.
func (e *Engine) SetOverride(ctx context.Context, userID string, status OverrideStatus) error {
	if status != OverrideForcedPaid && status != OverrideForcedUnpaid {
		return ErrInvalidOverride
	}
	if err := e.store.SetOverride(ctx, userID, status); err != nil {
		return err
	}
	metrics.OverridesTotal.WithLabelValues(string(status)).Inc()
	e.logger.Info("override set", "user", userID, "status", string(status))
	return nil
}

// ClearOverride reverts to whatever the automatic status currently holds.
// A pure revert: nothing is recomputed from gateway history.
func (e *Engine) ClearOverride(ctx context.Context, userID string) error {
	if err := e.store.SetOverride(ctx, userID, OverrideNone); err != nil {
		return err
	}
	metrics.OverridesTotal.WithLabelValues("cleared").Inc()
	e.logger.Info("override cleared", "user", userID)
	return nil
}

// DeleteRecord removes a user's payment record (user deletion cascade).
func (e *Engine) DeleteRecord(ctx context.Context, userID string) error {
	return e.store.Delete(ctx, userID)
}
