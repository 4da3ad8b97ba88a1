package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/widemind/coursepay/internal/circuitbreaker"
	"github.com/widemind/coursepay/internal/metrics"
	"github.com/widemind/coursepay/internal/paystack"
)

// Gateway is the slice of the Paystack client the verifier needs.
type Gateway interface {
	Verify(ctx context.Context, reference string) (*paystack.VerifyResult, error)
}

// VerifyOutcome is the result of one pull verification attempt.
type VerifyOutcome struct {
	// Confirmed is true when the gateway reported a successful charge and
	// the result was fed through reconciliation.
	Confirmed bool
	// Result is the reconciliation outcome; only set when Confirmed.
	Result Result
	// Status is the user's effective status after the attempt. On fallback
	// it is the last known local value, untouched by this call.
	Status EffectiveStatus
	// Fallback is true when the gateway was unreachable or timed out.
	Fallback bool
}

// Verifier is the pull-verification path: it asks the gateway about a
// reference and funnels confirmed successes into the same engine entry point
// the webhook path uses. The gateway call runs outside any store transaction.
type Verifier struct {
	gateway Gateway
	engine  *Engine
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewVerifier creates a pull verifier. The breaker trips after repeated
// gateway faults so a hard outage degrades to cached status immediately
// instead of burning a timeout on every poll.
func NewVerifier(gateway Gateway, engine *Engine, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		gateway: gateway,
		engine:  engine,
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

// Confirm verifies reference with the gateway and reconciles the result for
// userID. Gateway unreachability degrades to the cached effective status:
// absence of confirmation is not evidence of failure, so nothing is ever
// marked paid or unpaid on a network fault.
func (v *Verifier) Confirm(ctx context.Context, userID, reference string) (*VerifyOutcome, error) {
	if userID == "" || reference == "" {
		return nil, ErrInvalidInput
	}

	if !v.breaker.Allow() {
		v.logger.Warn("gateway circuit open, serving cached status",
			"user", userID, "reference", reference)
		return v.fallback(ctx, userID)
	}

	timer := prometheus.NewTimer(metrics.GatewayVerifyDuration)
	result, err := v.gateway.Verify(ctx, reference)
	timer.ObserveDuration()

	if err != nil {
		if errors.Is(err, paystack.ErrGatewayUnreachable) {
			v.breaker.RecordFailure()
			metrics.GatewayVerifyErrorsTotal.Inc()
			v.logger.Warn("gateway unreachable during pull verification, serving cached status",
				"user", userID, "reference", reference, "error", err)
			return v.fallback(ctx, userID)
		}
		return nil, fmt.Errorf("verify %s: %w", reference, err)
	}
	v.breaker.RecordSuccess()

	if !result.Success {
		// The gateway answered and the charge did not succeed. Not a paid
		// signal, but also not grounds to revert anything.
		status, serr := v.engine.EffectiveStatus(ctx, userID)
		if serr != nil {
			return nil, serr
		}
		return &VerifyOutcome{Status: status}, nil
	}

	applied, err := v.engine.ApplyGatewaySuccess(ctx, result.Reference, result.Amount, userID)
	if err != nil {
		return nil, err
	}

	status, err := v.engine.EffectiveStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &VerifyOutcome{Confirmed: true, Result: applied, Status: status}, nil
}

// fallback serves the last known local status without touching it.
func (v *Verifier) fallback(ctx context.Context, userID string) (*VerifyOutcome, error) {
	status, err := v.engine.EffectiveStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &VerifyOutcome{Status: status, Fallback: true}, nil
}
