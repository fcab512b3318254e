package pocketbase

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/facilitator"
	"github.com/mark3labs/x402-paygate/gateway"
	httpx402 "github.com/mark3labs/x402-paygate/http"
	"github.com/mark3labs/x402-paygate/validation"
)

const testWallet = "0xABCDEFabcdef0123456789abcDEF0123456789a0"

// newTestMux builds the router the way PocketBase's serve command does,
// without an app.
func newTestMux(t *testing.T, mcp http.Handler) http.Handler {
	t.Helper()
	svc, err := gateway.NewService(gateway.Config{
		Network:   x402.NetworkBase,
		Recipient: "0x6a40e304193d2BD3fa7479c35a45bA4CCDBb4683",
		Limits:    validation.Limits{Max: big.NewInt(1_000_000_000_000)},
		Verifier: facilitator.VerifierFunc(func(ctx context.Context, proof x402.PaymentProof, challenge x402.PaymentChallenge) (*x402.VerificationResult, error) {
			return &x402.VerificationResult{Verified: true, Amount: challenge.AmountUnits, Currency: "USDC"}, nil
		}),
		Executor: gateway.ExecutorFunc(func(ctx context.Context, req x402.PaymentRequest, result *x402.VerificationResult) (map[string]any, error) {
			return map[string]any{"framework": "pocketbase"}, nil
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	tiers, err := httpx402.NewPriceTiers("5", "10", "100")
	if err != nil {
		t.Fatal(err)
	}
	h, err := httpx402.NewHandler(httpx402.Config{Service: svc, Tiers: tiers})
	if err != nil {
		t.Fatal(err)
	}

	r := router.NewRouter(func(w http.ResponseWriter, req *http.Request) (*core.RequestEvent, router.EventCleanupFunc) {
		e := new(core.RequestEvent)
		e.Response = w
		e.Request = req
		return e, nil
	})
	Register(r, h, mcp)

	mux, err := r.BuildMux()
	if err != nil {
		t.Fatalf("BuildMux() error = %v", err)
	}
	return mux
}

func TestRegister(t *testing.T) {
	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux := newTestMux(t, mcp)
	payBody := `{"wallet":"` + testWallet + `"}`

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		payment    string
		wantStatus int
		wantBody   string
	}{
		{name: "health", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK, wantBody: `"network":"base"`},
		{name: "challenge", method: http.MethodPost, path: "/pay", body: payBody, wantStatus: http.StatusPaymentRequired, wantBody: `"accepts"`},
		{name: "paid", method: http.MethodPost, path: "/api/pay", body: payBody, payment: "proof", wantStatus: http.StatusOK, wantBody: `"framework":"pocketbase"`},
		{name: "tier", method: http.MethodPost, path: "/pay/5", body: payBody, wantStatus: http.StatusPaymentRequired, wantBody: `"amount":"5000000"`},
		{name: "unknown tier", method: http.MethodPost, path: "/pay/50", body: payBody, wantStatus: http.StatusBadRequest, wantBody: "Unsupported amount"},
		{name: "preflight", method: http.MethodOptions, path: "/api/pay", wantStatus: http.StatusOK},
		{name: "mcp", method: http.MethodPost, path: "/mcp", wantStatus: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.payment != "" {
				req.Header.Set("X-Payment", tt.payment)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want it to contain %s", rec.Body.String(), tt.wantBody)
			}
			if tt.path != "/mcp" && rec.Header().Get("Access-Control-Allow-Origin") != "*" {
				t.Errorf("missing CORS headers")
			}
		})
	}
}
