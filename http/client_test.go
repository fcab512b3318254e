package http

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/x402-paygate"
)

func TestNewClient_Options(t *testing.T) {
	tests := []struct {
		name    string
		opts    []ClientOption
		wantErr error
		check   func(t *testing.T, c *Client)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, c *Client) {
				if c.Transport != http.DefaultTransport {
					t.Errorf("transport = %T", c.Transport)
				}
			},
		},
		{
			name: "signer wraps transport",
			opts: []ClientOption{WithSigner(testSigner(t)), WithRetryDelay(time.Second)},
			check: func(t *testing.T, c *Client) {
				tr, ok := c.Transport.(*X402Transport)
				if !ok {
					t.Fatalf("transport = %T", c.Transport)
				}
				if len(tr.Signers) != 1 || tr.RetryDelay != time.Second || tr.Selector == nil {
					t.Errorf("transport = %+v", tr)
				}
			},
		},
		{
			name:    "nil signer",
			opts:    []ClientOption{WithSigner(nil)},
			wantErr: x402.ErrNoValidSigner,
		},
		{
			name: "timeout",
			opts: []ClientOption{WithTimeout(3 * time.Second)},
			check: func(t *testing.T, c *Client) {
				if c.Timeout != 3*time.Second {
					t.Errorf("timeout = %v", c.Timeout)
				}
			},
		},
		{
			name: "callbacks",
			opts: []ClientOption{WithPaymentCallback(x402.PaymentEventFailure, func(x402.PaymentEvent) {})},
			check: func(t *testing.T, c *Client) {
				tr := c.Transport.(*X402Transport)
				if tr.OnPaymentFailure == nil || tr.OnPaymentSuccess != nil {
					t.Errorf("callbacks not routed by type")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.opts...)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}

	if _, err := NewClient(WithRetryDelay(-time.Second)); err == nil {
		t.Error("expected an error for a negative retry delay")
	}
	if _, err := NewClient(WithPaymentCallback("other", nil)); err == nil {
		t.Error("expected an error for an unknown event type")
	}
}

// TestClient_PaysGateway runs the whole handshake: the client is challenged
// by the gateway, signs, and the gateway verifies and settles the payment
// through a facilitator that checks the signature.
func TestClient_PaysGateway(t *testing.T) {
	f := newStubFacilitator(t, nil, nil)
	gw := httptest.NewServer(testMux(newTestHandler(t, &FacilitatorClient{BaseURL: f.URL})))
	defer gw.Close()

	var (
		mu     sync.Mutex
		events []x402.PaymentEvent
	)
	client, err := NewClient(
		WithSigner(testSigner(t)),
		WithRetryDelay(10*time.Millisecond),
		WithPaymentCallbacks(func(e x402.PaymentEvent) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, e)
		}),
	)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Post(gw.URL+"/pay", "application/json", strings.NewReader(`{"wallet":"`+testWallet+`","amount":"5000000"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"status":"success"`) {
		t.Errorf("body = %s", body)
	}

	settlement := GetSettlement(resp)
	if settlement == nil || settlement.Transaction != testTx {
		t.Fatalf("settlement = %+v", settlement)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Type != x402.PaymentEventAttempt || events[0].Amount != "5000000" || events[0].Recipient != testRecipient {
		t.Errorf("attempt = %+v", events[0])
	}
	if events[1].Type != x402.PaymentEventSuccess || events[1].Transaction != testTx || events[1].Payer != testPayer {
		t.Errorf("success = %+v", events[1])
	}
	if f.verifyHits.Load() != 1 || f.settleHits.Load() != 1 {
		t.Errorf("facilitator hits = %d/%d", f.verifyHits.Load(), f.settleHits.Load())
	}
}

func TestGetSettlement(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{name: "absent"},
		{name: "garbage", header: "%%%"},
		{name: "valid", header: "eyJzdWNjZXNzIjp0cnVlLCJ0cmFuc2FjdGlvbiI6IjB4MSIsIm5ldHdvcmsiOiJiYXNlIn0=", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("X-PAYMENT-RESPONSE", tt.header)
			}
			got := GetSettlement(resp)
			if (got != nil) != tt.want {
				t.Fatalf("GetSettlement() = %+v", got)
			}
			if got != nil && got.Transaction != "0x1" {
				t.Errorf("transaction = %q", got.Transaction)
			}
		})
	}
}
