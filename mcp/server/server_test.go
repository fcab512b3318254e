package server

import (
	"context"
	"math/big"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	jsoniter "github.com/json-iterator/go"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/facilitator"
	"github.com/mark3labs/x402-paygate/gateway"
	"github.com/mark3labs/x402-paygate/mcp"
	"github.com/mark3labs/x402-paygate/validation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const testWallet = "0xABCDEFabcdef0123456789abcDEF0123456789a0"

func newTestServer(t *testing.T, verifyCalls *atomic.Int32) *Server {
	t.Helper()
	svc, err := gateway.NewService(gateway.Config{
		Network:   x402.NetworkBase,
		Recipient: "0x6a40e304193d2BD3fa7479c35a45bA4CCDBb4683",
		Limits:    validation.Limits{Max: big.NewInt(1_000_000_000_000)},
		Verifier: facilitator.VerifierFunc(func(ctx context.Context, proof x402.PaymentProof, challenge x402.PaymentChallenge) (*x402.VerificationResult, error) {
			if verifyCalls != nil {
				verifyCalls.Add(1)
			}
			if proof.Payment != "good" {
				return &x402.VerificationResult{Verified: false, Amount: challenge.AmountUnits, Reason: "invalid_signature"}, nil
			}
			return &x402.VerificationResult{
				Verified:        true,
				Amount:          challenge.AmountUnits,
				Currency:        "USDC",
				TransactionHash: "0xfeed",
				Settlement:      &x402.SettlementResponse{Success: true, Transaction: "0xfeed", Network: "base"},
			}, nil
		}),
		Executor: gateway.ExecutorFunc(func(ctx context.Context, req x402.PaymentRequest, result *x402.VerificationResult) (map[string]any, error) {
			return map[string]any{"echo": req.Prompt}, nil
		}),
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(Config{Service: svc})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func callPay(args map[string]any, meta map[string]any) mcpproto.CallToolRequest {
	req := mcpproto.CallToolRequest{}
	req.Params.Name = ToolName
	req.Params.Arguments = args
	if meta != nil {
		req.Params.Meta = &mcpproto.Meta{AdditionalFields: meta}
	}
	return req
}

func resultBody(t *testing.T, result *mcpproto.CallToolResult) map[string]any {
	t.Helper()
	if len(result.Content) != 1 {
		t.Fatalf("content = %+v", result.Content)
	}
	var text string
	switch c := result.Content[0].(type) {
	case mcpproto.TextContent:
		text = c.Text
	case *mcpproto.TextContent:
		text = c.Text
	default:
		t.Fatalf("content type %T", result.Content[0])
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(text), &body); err != nil {
		t.Fatalf("content %q is not JSON: %v", text, err)
	}
	return body
}

func TestHandlePay(t *testing.T) {
	tests := []struct {
		name        string
		args        map[string]any
		meta        map[string]any
		wantIsError bool
		wantField   string
		wantValue   any
		wantMetaKey string
	}{
		{
			name:        "no proof",
			args:        map[string]any{"wallet": testWallet},
			wantIsError: true,
			wantField:   "error",
			wantValue:   "Payment required",
			wantMetaKey: mcp.MetaKeyPaymentRequired,
		},
		{
			name:        "invalid wallet",
			args:        map[string]any{"wallet": "0x123"},
			meta:        map[string]any{mcp.MetaKeyPayment: "good"},
			wantIsError: true,
			wantField:   "code",
			wantValue:   "VALIDATION_ERROR",
		},
		{
			name:        "rejected proof",
			args:        map[string]any{"wallet": testWallet},
			meta:        map[string]any{mcp.MetaKeyPayment: "bad"},
			wantIsError: true,
			wantField:   "reason",
			wantValue:   "invalid_signature",
			wantMetaKey: mcp.MetaKeyPaymentRequired,
		},
		{
			name:        "paid",
			args:        map[string]any{"wallet": testWallet, "prompt": "hi"},
			meta:        map[string]any{mcp.MetaKeyPayment: "good"},
			wantField:   "echo",
			wantValue:   "hi",
			wantMetaKey: mcp.MetaKeyPaymentResponse,
		},
		{
			name:        "unreadable meta",
			args:        map[string]any{"wallet": testWallet},
			meta:        map[string]any{mcp.MetaKeyPayment: []any{1, 2}},
			wantIsError: true,
			wantField:   "error",
			wantValue:   "Invalid payment metadata",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			result, err := s.handlePay(context.Background(), callPay(tt.args, tt.meta))
			if err != nil {
				t.Fatalf("handlePay() error = %v", err)
			}
			if result.IsError != tt.wantIsError {
				t.Errorf("IsError = %v, want %v", result.IsError, tt.wantIsError)
			}
			body := resultBody(t, result)
			if body[tt.wantField] != tt.wantValue {
				t.Errorf("%s = %v, want %v (body %v)", tt.wantField, body[tt.wantField], tt.wantValue, body)
			}
			if tt.wantMetaKey != "" {
				if result.Meta == nil || result.Meta.AdditionalFields[tt.wantMetaKey] == nil {
					t.Errorf("result _meta lacks %s: %+v", tt.wantMetaKey, result.Meta)
				}
			}
		})
	}
}

func TestHandlePay_ChallengeUsesToolResource(t *testing.T) {
	s := newTestServer(t, nil)
	result, err := s.handlePay(context.Background(), callPay(map[string]any{"wallet": testWallet, "amount": "2500000"}, nil))
	if err != nil {
		t.Fatal(err)
	}
	required, ok := result.Meta.AdditionalFields[mcp.MetaKeyPaymentRequired].(x402.PaymentRequirementsResponse)
	if !ok || len(required.Accepts) != 1 {
		t.Fatalf("payment required meta = %+v", result.Meta.AdditionalFields)
	}
	if required.Accepts[0].Resource != "mcp://tools/pay" || required.Accepts[0].MaxAmountRequired != "2500000" {
		t.Errorf("requirement = %+v", required.Accepts[0])
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error without a service")
	}
}

func TestHandler_StreamableHTTP(t *testing.T) {
	var verifyCalls atomic.Int32
	s := newTestServer(t, &verifyCalls)
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	ctx := context.Background()
	client, err := mcpclient.NewStreamableHttpClient(server.URL + "/mcp")
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if err := client.Start(ctx); err != nil {
		t.Fatal(err)
	}

	init := mcpproto.InitializeRequest{}
	init.Params.ProtocolVersion = mcpproto.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcpproto.Implementation{Name: "paygate-test", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, init); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	tools, err := client.ListTools(ctx, mcpproto.ListToolsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != ToolName {
		t.Fatalf("tools = %+v", tools.Tools)
	}

	result, err := client.CallTool(ctx, callPay(map[string]any{"wallet": testWallet}, nil))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || !strings.Contains(resultBody(t, result)["error"].(string), "Payment required") {
		t.Fatalf("unpaid result = %+v", result)
	}

	result, err = client.CallTool(ctx, callPay(map[string]any{"wallet": testWallet, "prompt": "over http"}, map[string]any{mcp.MetaKeyPayment: "good"}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("paid result is an error: %+v", result)
	}
	if body := resultBody(t, result); body["echo"] != "over http" || body["transactionHash"] != "0xfeed" {
		t.Errorf("body = %v", body)
	}
	if verifyCalls.Load() != 1 {
		t.Errorf("verify calls = %d, want 1", verifyCalls.Load())
	}
}
