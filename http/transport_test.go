package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/x402-paygate"
)

// challengeServer answers requests without X-PAYMENT with a 402 and passes
// paid ones to paid.
func challengeServer(t *testing.T, paid http.HandlerFunc) (*httptest.Server, *atomic.Int32, *[]string) {
	t.Helper()
	var hits atomic.Int32
	var bodies []string
	challenge := x402.NewChallenge("1000", x402.NetworkBase, testRecipient)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		if r.Header.Get("X-PAYMENT") == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(x402.PaymentRequirementsResponse{
				X402Version: 1,
				Error:       "Payment required",
				Accepts:     []x402.PaymentRequirement{challenge.Requirement()},
			})
			return
		}
		paid(w, r)
	}))
	t.Cleanup(server.Close)
	return server, &hits, &bodies
}

func TestX402Transport_ResendsBody(t *testing.T) {
	server, hits, bodies := challengeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	client := &http.Client{Transport: &X402Transport{Signers: []x402.Signer{testSigner(t)}}}

	resp, err := client.Post(server.URL, "application/json", strings.NewReader(`{"wallet":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2", hits.Load())
	}
	for i, b := range *bodies {
		if b != `{"wallet":"x"}` {
			t.Errorf("body %d = %q", i, b)
		}
	}
}

func TestX402Transport_PassThrough(t *testing.T) {
	var events atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	cb := func(x402.PaymentEvent) { events.Add(1) }
	client := &http.Client{Transport: &X402Transport{
		Signers:          []x402.Signer{testSigner(t)},
		OnPaymentAttempt: cb,
		OnPaymentFailure: cb,
	}}
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot || events.Load() != 0 {
		t.Errorf("status = %d, events = %d", resp.StatusCode, events.Load())
	}
}

func TestX402Transport_RetryDelay(t *testing.T) {
	server, _, _ := challengeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	delay := 100 * time.Millisecond
	client := &http.Client{Transport: &X402Transport{Signers: []x402.Signer{testSigner(t)}, RetryDelay: delay}}

	start := time.Now()
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if elapsed := time.Since(start); elapsed < delay {
		t.Errorf("retried after %v, want at least %v", elapsed, delay)
	}
}

func TestX402Transport_CancelDuringDelay(t *testing.T) {
	server, hits, _ := challengeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	var failures atomic.Int32
	client := &http.Client{Transport: &X402Transport{
		Signers:          []x402.Signer{testSigner(t)},
		RetryDelay:       5 * time.Second,
		OnPaymentFailure: func(x402.PaymentEvent) { failures.Add(1) },
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	_, err := client.Do(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
	if failures.Load() != 1 {
		t.Errorf("failure events = %d, want 1", failures.Load())
	}
}

func TestX402Transport_StillRequired(t *testing.T) {
	server, hits, _ := challengeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"error":"Payment required","reason":"invalid_signature"}`)
	})
	var got []x402.PaymentEventType
	cb := func(e x402.PaymentEvent) { got = append(got, e.Type) }
	client := &http.Client{Transport: &X402Transport{
		Signers:          []x402.Signer{testSigner(t)},
		OnPaymentAttempt: cb,
		OnPaymentSuccess: cb,
		OnPaymentFailure: cb,
	}}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusPaymentRequired || !strings.Contains(string(body), "invalid_signature") {
		t.Errorf("status = %d, body = %s", resp.StatusCode, body)
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2 (no second retry)", hits.Load())
	}
	if len(got) != 2 || got[0] != x402.PaymentEventAttempt || got[1] != x402.PaymentEventFailure {
		t.Errorf("events = %v", got)
	}
}

func TestX402Transport_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		signers  []x402.Signer
		wantCode x402.ErrorCode
	}{
		{
			name:     "unparseable 402",
			body:     `not json`,
			signers:  []x402.Signer{testSigner(t)},
			wantCode: x402.ErrCodeInvalidRequirements,
		},
		{
			name:     "empty accepts",
			body:     `{"x402Version":1,"accepts":[]}`,
			signers:  []x402.Signer{testSigner(t)},
			wantCode: x402.ErrCodeInvalidRequirements,
		},
		{
			name:     "no signer",
			body:     `{"x402Version":1,"accepts":[{"scheme":"exact","network":"base","maxAmountRequired":"1","asset":"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913","payTo":"` + testRecipient + `"}]}`,
			wantCode: x402.ErrCodeNoValidSigner,
		},
		{
			name:     "wrong network",
			body:     `{"x402Version":1,"accepts":[{"scheme":"exact","network":"solana","maxAmountRequired":"1","asset":"x","payTo":"y"}]}`,
			signers:  []x402.Signer{testSigner(t)},
			wantCode: x402.ErrCodeNoValidSigner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusPaymentRequired)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client := &http.Client{Transport: &X402Transport{Signers: tt.signers}}
			_, err := client.Get(server.URL)
			var pe *x402.PaymentError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %v, want *x402.PaymentError", err)
			}
			if pe.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", pe.Code, tt.wantCode)
			}
		})
	}
}
