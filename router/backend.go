package router

import (
	"net/http"
	"time"

	"github.com/mark3labs/x402-paygate"
	x402http "github.com/mark3labs/x402-paygate/http"
)

// Backend decides how router requests are paid for.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Transport wraps base with the backend's authentication.
	Transport(base http.RoundTripper) http.RoundTripper
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// APIKeyBackend authenticates with a router API key.
type APIKeyBackend struct {
	Key string
}

// Name implements Backend.
func (b APIKeyBackend) Name() string { return "api-key" }

// Transport implements Backend.
func (b APIKeyBackend) Transport(base http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		r = r.Clone(r.Context())
		r.Header.Set("Authorization", "Bearer "+b.Key)
		return base.RoundTrip(r)
	})
}

// PrivateKeyBackend pays the router's 402 responses with a local signer.
type PrivateKeyBackend struct {
	Signer x402.Signer

	// RetryDelay is waited before the paid retry.
	RetryDelay time.Duration

	OnEvent x402.PaymentCallback
}

// Name implements Backend.
func (b PrivateKeyBackend) Name() string { return "private-key" }

// Transport implements Backend.
func (b PrivateKeyBackend) Transport(base http.RoundTripper) http.RoundTripper {
	return &x402http.X402Transport{
		Base:             base,
		Signers:          []x402.Signer{b.Signer},
		Selector:         x402.NewDefaultPaymentSelector(),
		RetryDelay:       b.RetryDelay,
		OnPaymentAttempt: b.OnEvent,
		OnPaymentSuccess: b.OnEvent,
		OnPaymentFailure: b.OnEvent,
	}
}
