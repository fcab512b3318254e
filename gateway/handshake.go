package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/facilitator"
)

// State is a step of the payment handshake.
type State int

const (
	AwaitingProof State = iota
	Verifying
	Verified
	Unverified
	VerificationFailed
)

func (s State) String() string {
	switch s {
	case AwaitingProof:
		return "awaiting_proof"
	case Verifying:
		return "verifying"
	case Verified:
		return "verified"
	case Unverified:
		return "unverified"
	case VerificationFailed:
		return "verification_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Verified || s == Unverified || s == VerificationFailed
}

// Outcome is the terminal state of one handshake run.
type Outcome struct {
	State  State
	Result *x402.VerificationResult
	Err    error
}

// Controller runs the handshake for a single request. It keeps no state
// between runs.
type Controller struct {
	verifier facilitator.Verifier
	logger   *slog.Logger
}

// NewController creates a Controller around a verifier.
func NewController(verifier facilitator.Verifier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{verifier: verifier, logger: logger}
}

// Run moves from AwaitingProof to a terminal state. Without a proof no
// verifier call is made and the outcome is Unverified.
func (c *Controller) Run(ctx context.Context, proof *x402.PaymentProof, challenge x402.PaymentChallenge) Outcome {
	state := AwaitingProof

	if proof == nil {
		return c.finish(state, Outcome{
			State:  Unverified,
			Result: &x402.VerificationResult{Verified: false, Currency: challenge.Currency, Reason: "no payment proof"},
		})
	}

	state = c.transition(state, Verifying, "header", proof.Header)

	result, err := c.verifier.Verify(ctx, *proof, challenge)
	if err != nil {
		return c.finish(state, Outcome{State: VerificationFailed, Err: err})
	}
	if result == nil {
		return c.finish(state, Outcome{
			State: VerificationFailed,
			Err:   fmt.Errorf("%w: verifier returned no result", x402.ErrFacilitatorRejected),
		})
	}
	if !result.Verified {
		return c.finish(state, Outcome{State: Unverified, Result: result})
	}

	if result.Amount == "" {
		result.Amount = challenge.AmountUnits
	}
	if result.Currency == "" {
		result.Currency = challenge.Currency
	}
	return c.finish(state, Outcome{State: Verified, Result: result})
}

func (c *Controller) transition(from, to State, args ...any) State {
	c.logger.Debug("handshake transition", append([]any{"from", from.String(), "to", to.String()}, args...)...)
	return to
}

func (c *Controller) finish(from State, out Outcome) Outcome {
	args := []any{"from", from.String(), "to", out.State.String()}
	if out.Result != nil && out.Result.Reason != "" {
		args = append(args, "reason", out.Result.Reason)
	}
	if out.Err != nil {
		args = append(args, "error", out.Err)
		c.logger.Warn("handshake failed", args...)
		return out
	}
	c.logger.Debug("handshake transition", args...)
	return out
}
