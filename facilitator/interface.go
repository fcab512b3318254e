// Package facilitator defines how the gateway asks an external service
// whether a payment proof is good.
package facilitator

import (
	"context"
	"net/http"

	"github.com/mark3labs/x402-paygate"
)

// Verifier checks a payment proof against the challenge it answers.
//
// Implementations return a VerificationResult with Verified=false when the
// service says the payment is not acceptable (an HTTP 402 included). Errors
// are reserved for failures to get an answer and wrap
// x402.ErrFacilitatorUnavailable or x402.ErrFacilitatorRejected.
type Verifier interface {
	Verify(ctx context.Context, proof x402.PaymentProof, challenge x402.PaymentChallenge) (*x402.VerificationResult, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, proof x402.PaymentProof, challenge x402.PaymentChallenge) (*x402.VerificationResult, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, proof x402.PaymentProof, challenge x402.PaymentChallenge) (*x402.VerificationResult, error) {
	return f(ctx, proof, challenge)
}

// AuthorizationProvider returns the Authorization header value for an
// outgoing facilitator request. It is called once per attempt.
type AuthorizationProvider func(*http.Request) string

// VerifyResponse is the body of a facilitator /verify response.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer"`
}

// Request is the body sent to /verify and /settle.
type Request struct {
	X402Version         int                     `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}
