package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/encoding"
	"github.com/mark3labs/x402-paygate/facilitator"
	"github.com/mark3labs/x402-paygate/retry"
	"github.com/mark3labs/x402-paygate/validation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultFacilitatorRetryDelay is the wait before the single verify retry.
const DefaultFacilitatorRetryDelay = 250 * time.Millisecond

const maxFacilitatorBody = 1 << 20

// FacilitatorClient is a client for communicating with x402 facilitator services.
// It implements facilitator.Verifier.
type FacilitatorClient struct {
	BaseURL       string
	Client        *http.Client
	VerifyTimeout time.Duration // Timeout for each verify attempt
	SettleTimeout time.Duration // Timeout for settle (longer due to blockchain tx)

	// RetryDelay is the backoff before a verify attempt is retried after a
	// transport failure. Zero uses DefaultFacilitatorRetryDelay.
	RetryDelay time.Duration

	// Authorization is a static Authorization header value.
	Authorization string

	// AuthorizationProvider computes the Authorization header per request and
	// takes precedence over Authorization.
	AuthorizationProvider facilitator.AuthorizationProvider

	// VerifyOnly skips /settle.
	VerifyOnly bool

	Logger *slog.Logger
}

var _ facilitator.Verifier = (*FacilitatorClient)(nil)

// SupportedKind represents a supported payment type.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse is the response from the facilitator /supported endpoint.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// Verify implements facilitator.Verifier. The proof is decoded and checked
// against the challenge, then sent to /verify and, unless VerifyOnly is set,
// to /settle.
func (c *FacilitatorClient) Verify(ctx context.Context, proof x402.PaymentProof, challenge x402.PaymentChallenge) (*x402.VerificationResult, error) {
	logger := c.logger()

	payment, err := encoding.DecodePayment(proof.Payment)
	if err != nil {
		return unverified(challenge, "invalid payment header: "+err.Error()), nil
	}
	if err := validation.ValidatePaymentPayload(payment, challenge); err != nil {
		return unverified(challenge, err.Error()), nil
	}

	requirement := challenge.Requirement()

	delay := c.RetryDelay
	if delay <= 0 {
		delay = DefaultFacilitatorRetryDelay
	}
	verifyResp, err := retry.WithRetry(ctx, retry.Once(delay), isUnavailable, func() (*facilitator.VerifyResponse, error) {
		return c.verify(ctx, payment, requirement)
	})
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		logger.Info("facilitator rejected payment", "reason", verifyResp.InvalidReason, "payer", verifyResp.Payer)
		result := unverified(challenge, verifyResp.InvalidReason)
		result.Payer = verifyResp.Payer
		return result, nil
	}

	result := &x402.VerificationResult{
		Verified: true,
		Amount:   challenge.AmountUnits,
		Currency: challenge.Currency,
		Payer:    verifyResp.Payer,
	}
	if c.VerifyOnly {
		return result, nil
	}

	settlement, err := c.Settle(ctx, payment, requirement)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return unverified(challenge, "payment required"), nil
	}
	if !settlement.Success {
		logger.Info("settlement failed", "reason", settlement.ErrorReason)
		return unverified(challenge, settlement.ErrorReason), nil
	}

	result.TransactionHash = settlement.Transaction
	if settlement.Payer != "" {
		result.Payer = settlement.Payer
	}
	result.Settlement = settlement
	logger.Info("payment settled", "transaction", settlement.Transaction, "network", settlement.Network)
	return result, nil
}

func (c *FacilitatorClient) verify(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*facilitator.VerifyResponse, error) {
	status, data, err := c.post(ctx, "/verify", c.timeout(c.VerifyTimeout, x402.DefaultTimeouts.VerifyTimeout), payment, requirement)
	if err != nil {
		return nil, err
	}
	if status == http.StatusPaymentRequired {
		return &facilitator.VerifyResponse{IsValid: false, InvalidReason: "payment required"}, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: verify status %d: %s", x402.ErrFacilitatorRejected, status, snippet(data))
	}

	var verifyResp facilitator.VerifyResponse
	if err := json.Unmarshal(data, &verifyResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode verify response: %v", x402.ErrFacilitatorRejected, err)
	}
	return &verifyResp, nil
}

// Settle executes a verified payment on the blockchain. A 402 from the
// facilitator is returned as a nil settlement without error.
func (c *FacilitatorClient) Settle(ctx context.Context, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	status, data, err := c.post(ctx, "/settle", c.timeout(c.SettleTimeout, x402.DefaultTimeouts.SettleTimeout), payment, requirement)
	if err != nil {
		return nil, err
	}
	if status == http.StatusPaymentRequired {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: settle status %d: %s", x402.ErrFacilitatorRejected, status, snippet(data))
	}

	var settlementResp x402.SettlementResponse
	if err := json.Unmarshal(data, &settlementResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode settlement response: %v", x402.ErrFacilitatorRejected, err)
	}
	return &settlementResp, nil
}

// Supported queries the facilitator for supported payment types.
func (c *FacilitatorClient) Supported(ctx context.Context) (*SupportedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout(c.VerifyTimeout, x402.DefaultTimeouts.VerifyTimeout))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/supported", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(httpReq)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: supported status %d", x402.ErrFacilitatorRejected, resp.StatusCode)
	}

	var supportedResp SupportedResponse
	if err := json.NewDecoder(resp.Body).Decode(&supportedResp); err != nil {
		return nil, fmt.Errorf("failed to decode supported response: %w", err)
	}
	return &supportedResp, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, timeout time.Duration, payment x402.PaymentPayload, requirement x402.PaymentRequirement) (int, []byte, error) {
	data, err := json.Marshal(facilitator.Request{
		X402Version:         1,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	start := time.Now()
	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		c.logger().Warn("facilitator request failed", "path", path, "error", err, "duration", time.Since(start))
		return 0, nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFacilitatorBody))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: failed to read response: %v", x402.ErrFacilitatorUnavailable, err)
	}
	c.logger().Debug("facilitator response", "path", path, "status", resp.StatusCode, "duration", time.Since(start))
	return resp.StatusCode, body, nil
}

func (c *FacilitatorClient) authorize(req *http.Request) {
	if c.AuthorizationProvider != nil {
		if v := c.AuthorizationProvider(req); v != "" {
			req.Header.Set("Authorization", v)
		}
		return
	}
	if c.Authorization != "" {
		req.Header.Set("Authorization", c.Authorization)
	}
}

func (c *FacilitatorClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *FacilitatorClient) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *FacilitatorClient) timeout(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func isUnavailable(err error) bool {
	return errors.Is(err, x402.ErrFacilitatorUnavailable)
}

func unverified(challenge x402.PaymentChallenge, reason string) *x402.VerificationResult {
	return &x402.VerificationResult{
		Verified: false,
		Amount:   challenge.AmountUnits,
		Currency: challenge.Currency,
		Reason:   reason,
	}
}

func snippet(data []byte) string {
	const n = 120
	if len(data) > n {
		return string(data[:n])
	}
	return string(data)
}
