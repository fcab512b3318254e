package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/facilitator"
	x402http "github.com/mark3labs/x402-paygate/http"
	"github.com/mark3labs/x402-paygate/retry"
)

// DefaultVerifyPrompt is sent with a forwarded proof.
const DefaultVerifyPrompt = "Token presale payment confirmation"

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	URL         string
	FallbackURL string
	Model       string
	Prompt      string

	// Timeout bounds each attempt. Zero uses the default verify timeout.
	Timeout time.Duration

	// RetryDelay is the backoff before the single retry.
	RetryDelay time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Verifier checks a client's payment by forwarding it to the router. The
// router accepting the paid request is the proof of payment.
//
// It does not compare the proof's payTo or amount with the challenge: the
// router charges its own price, and acceptance is taken as payment to the
// seller. Use the facilitator verifier when the challenge's recipient and
// amount must be enforced.
type Verifier struct {
	client     *Client
	prompt     string
	timeout    time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

var _ facilitator.Verifier = (*Verifier)(nil)

// NewVerifier creates a Verifier. It never pays on its own behalf.
func NewVerifier(cfg VerifierConfig) *Verifier {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultVerifyPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = x402.DefaultTimeouts.VerifyTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = x402http.DefaultFacilitatorRetryDelay
	}
	return &Verifier{
		client: NewClient(Config{
			URL:         cfg.URL,
			FallbackURL: cfg.FallbackURL,
			Model:       cfg.Model,
			HTTPClient:  cfg.HTTPClient,
			Logger:      cfg.Logger,
		}),
		prompt:     cfg.Prompt,
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
	}
}

type routerVerdict struct {
	status     int
	settlement *x402.SettlementResponse
	body       string
}

// Verify implements facilitator.Verifier.
func (v *Verifier) Verify(ctx context.Context, proof x402.PaymentProof, challenge x402.PaymentChallenge) (*x402.VerificationResult, error) {
	header := http.Header{}
	header.Set("X-Payment", proof.Payment)
	if proof.Signature != "" {
		header.Set("X-402-Signature", proof.Signature)
	}

	verdict, err := retry.WithRetry(ctx, retry.Once(v.retryDelay), func(err error) bool {
		return errors.Is(err, x402.ErrFacilitatorUnavailable)
	}, func() (*routerVerdict, error) {
		return v.attempt(ctx, header)
	})
	if err != nil {
		return nil, err
	}

	switch {
	case verdict.status >= 200 && verdict.status <= 299:
		result := &x402.VerificationResult{
			Verified: true,
			Amount:   challenge.AmountUnits,
			Currency: challenge.Currency,
		}
		if s := verdict.settlement; s != nil && s.Success {
			result.TransactionHash = s.Transaction
			result.Payer = s.Payer
			result.Settlement = s
		}
		v.logger.Info("router accepted payment", "transaction", result.TransactionHash)
		return result, nil
	case verdict.status == http.StatusPaymentRequired:
		return &x402.VerificationResult{
			Verified: false,
			Amount:   challenge.AmountUnits,
			Currency: challenge.Currency,
			Reason:   "Payment not yet completed. Please complete payment and retry.",
		}, nil
	default:
		return nil, fmt.Errorf("%w: router API error: %d - %s", x402.ErrFacilitatorRejected, verdict.status, verdict.body)
	}
}

func (v *Verifier) attempt(ctx context.Context, header http.Header) (*routerVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.client.Post(ctx, v.prompt, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read router response: %v", x402.ErrFacilitatorUnavailable, err)
	}
	return &routerVerdict{
		status:     resp.StatusCode,
		settlement: x402http.GetSettlement(resp),
		body:       string(body),
	}, nil
}
