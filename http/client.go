package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/encoding"
)

// Client is an http.Client whose transport pays 402 responses.
type Client struct {
	*http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a new x402-enabled HTTP client.
func NewClient(opts ...ClientOption) (*Client, error) {
	client := &Client{
		Client: &http.Client{Transport: http.DefaultTransport},
	}
	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}
	return client, nil
}

// WithHTTPClient sets a custom underlying HTTP client. Apply it before any
// other option, since it replaces the transport they configure.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		if httpClient == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		c.Client = httpClient
		if c.Transport == nil {
			c.Transport = http.DefaultTransport
		}
		return nil
	}
}

// WithSigner adds a payment signer. Multiple signers can be added; the
// selector picks one per payment.
func WithSigner(signer x402.Signer) ClientOption {
	return func(c *Client) error {
		if signer == nil {
			return x402.ErrNoValidSigner
		}
		transport := transportOf(c)
		transport.Signers = append(transport.Signers, signer)
		return nil
	}
}

// WithSelector sets a custom payment selector.
func WithSelector(selector x402.PaymentSelector) ClientOption {
	return func(c *Client) error {
		transportOf(c).Selector = selector
		return nil
	}
}

// WithRetryDelay sets the wait between a 402 and the paid retry.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < 0 {
			return fmt.Errorf("retry delay cannot be negative")
		}
		transportOf(c).RetryDelay = d
		return nil
	}
}

// WithTimeout bounds the whole exchange, retry delay included.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.Timeout = d
		return nil
	}
}

// WithPaymentCallback sets a callback for a specific payment event type.
func WithPaymentCallback(eventType x402.PaymentEventType, callback x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		transport := transportOf(c)
		switch eventType {
		case x402.PaymentEventAttempt:
			transport.OnPaymentAttempt = callback
		case x402.PaymentEventSuccess:
			transport.OnPaymentSuccess = callback
		case x402.PaymentEventFailure:
			transport.OnPaymentFailure = callback
		default:
			return fmt.Errorf("unknown payment event type: %s", eventType)
		}
		return nil
	}
}

// WithPaymentCallbacks routes every payment event to one callback.
func WithPaymentCallbacks(callback x402.PaymentCallback) ClientOption {
	return func(c *Client) error {
		transport := transportOf(c)
		transport.OnPaymentAttempt = callback
		transport.OnPaymentSuccess = callback
		transport.OnPaymentFailure = callback
		return nil
	}
}

// transportOf returns the client's X402Transport, wrapping the current
// transport in one if needed.
func transportOf(c *Client) *X402Transport {
	transport, ok := c.Transport.(*X402Transport)
	if !ok {
		transport = &X402Transport{
			Base:     c.Transport,
			Selector: x402.NewDefaultPaymentSelector(),
		}
		c.Transport = transport
	}
	return transport
}

// GetSettlement extracts settlement information from an HTTP response.
// It returns nil if the header is absent or unreadable.
func GetSettlement(resp *http.Response) *x402.SettlementResponse {
	header := resp.Header.Get("X-PAYMENT-RESPONSE")
	if header == "" {
		return nil
	}
	settlement, err := encoding.DecodeSettlement(header)
	if err != nil {
		return nil
	}
	return &settlement
}
