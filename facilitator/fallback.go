package facilitator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/x402-paygate"
)

// WithFallback returns a Verifier that asks fallback when primary cannot be
// reached. Rejections and unverified results from primary are final.
func WithFallback(primary, fallback Verifier, logger *slog.Logger) Verifier {
	if fallback == nil {
		return primary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return VerifierFunc(func(ctx context.Context, proof x402.PaymentProof, challenge x402.PaymentChallenge) (*x402.VerificationResult, error) {
		result, err := primary.Verify(ctx, proof, challenge)
		if err == nil || !errors.Is(err, x402.ErrFacilitatorUnavailable) || ctx.Err() != nil {
			return result, err
		}
		logger.Warn("primary facilitator unreachable, trying fallback", "error", err)
		return fallback.Verify(ctx, proof, challenge)
	})
}
