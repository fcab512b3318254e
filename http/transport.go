package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/encoding"
)

// X402Transport is a custom RoundTripper that handles x402 payment flows.
// It wraps an existing http.RoundTripper and answers a 402 Payment Required
// response by signing a payment and retrying the request once.
type X402Transport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// Signers is the list of available payment signers.
	Signers []x402.Signer

	// Selector is used to choose the appropriate signer and create payments.
	Selector x402.PaymentSelector

	// RetryDelay is waited between the 402 and the paid retry. Zero retries
	// immediately.
	RetryDelay time.Duration

	// OnPaymentAttempt is called when a payment attempt is made.
	OnPaymentAttempt x402.PaymentCallback

	// OnPaymentSuccess is called when a payment succeeds.
	OnPaymentSuccess x402.PaymentCallback

	// OnPaymentFailure is called when a payment fails.
	OnPaymentFailure x402.PaymentCallback
}

// RoundTrip implements http.RoundTripper.
func (t *X402Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	selector := t.Selector
	if selector == nil {
		selector = x402.NewDefaultPaymentSelector()
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := base.RoundTrip(withBody(req, body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	requirements, err := parsePaymentRequirements(resp)
	resp.Body.Close()
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeInvalidRequirements, "failed to parse payment requirements", err)
	}

	payment, selected, err := signFirst(selector, requirements, t.Signers)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	t.emit(t.OnPaymentAttempt, x402.PaymentEvent{
		Type:      x402.PaymentEventAttempt,
		Timestamp: startTime,
		Method:    "HTTP",
		URL:       req.URL.String(),
		Network:   selected.Network,
		Amount:    selected.MaxAmountRequired,
		Asset:     selected.Asset,
		Recipient: selected.PayTo,
	})

	paymentHeader, err := encoding.EncodePayment(*payment)
	if err != nil {
		t.fail(req, err, startTime)
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to build payment header", err)
	}

	if t.RetryDelay > 0 {
		timer := time.NewTimer(t.RetryDelay)
		select {
		case <-timer.C:
		case <-req.Context().Done():
			timer.Stop()
			t.fail(req, req.Context().Err(), startTime)
			return nil, req.Context().Err()
		}
	}

	reqRetry := withBody(req, body)
	reqRetry.Header.Set("X-PAYMENT", paymentHeader)

	respRetry, err := base.RoundTrip(reqRetry)
	if err != nil {
		t.fail(req, err, startTime)
		return nil, err
	}

	if respRetry.StatusCode == http.StatusPaymentRequired {
		t.fail(req, fmt.Errorf("%w: payment was not accepted", x402.ErrPaymentRequired), startTime)
		return respRetry, nil
	}

	event := x402.PaymentEvent{
		Type:      x402.PaymentEventSuccess,
		Timestamp: time.Now(),
		Method:    "HTTP",
		URL:       req.URL.String(),
		Network:   selected.Network,
		Amount:    selected.MaxAmountRequired,
		Asset:     selected.Asset,
		Recipient: selected.PayTo,
		Duration:  time.Since(startTime),
	}
	if settlement := GetSettlement(respRetry); settlement != nil {
		event.Transaction = settlement.Transaction
		event.Payer = settlement.Payer
	}
	t.emit(t.OnPaymentSuccess, event)

	return respRetry, nil
}

func (t *X402Transport) fail(req *http.Request, err error, start time.Time) {
	t.emit(t.OnPaymentFailure, x402.PaymentEvent{
		Type:      x402.PaymentEventFailure,
		Timestamp: time.Now(),
		Method:    "HTTP",
		URL:       req.URL.String(),
		Error:     err,
		Duration:  time.Since(start),
	})
}

func (t *X402Transport) emit(cb x402.PaymentCallback, event x402.PaymentEvent) {
	if cb != nil {
		cb(event)
	}
}

// signFirst signs the first requirement any signer can pay.
func signFirst(selector x402.PaymentSelector, requirements []x402.PaymentRequirement, signers []x402.Signer) (*x402.PaymentPayload, *x402.PaymentRequirement, error) {
	var lastErr error
	for i := range requirements {
		payment, err := selector.SelectAndSign(&requirements[i], signers)
		if err == nil {
			return payment, &requirements[i], nil
		}
		lastErr = err
	}
	return nil, nil, lastErr
}

// parsePaymentRequirements extracts payment requirements from a 402 response.
func parsePaymentRequirements(resp *http.Response) ([]x402.PaymentRequirement, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var paymentReqResp x402.PaymentRequirementsResponse
	if err := json.Unmarshal(body, &paymentReqResp); err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements JSON: %w", err)
	}
	if len(paymentReqResp.Accepts) == 0 {
		return nil, fmt.Errorf("no payment requirements in response")
	}
	return paymentReqResp.Accepts, nil
}

// bufferBody reads the request body once so it can be sent twice.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to get request body: %w", err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	defer req.Body.Close()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return data, nil
}

// withBody clones req with a fresh reader over body.
func withBody(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if body == nil {
		return clone
	}
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return clone
}
