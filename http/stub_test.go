package http

import (
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/encoding"
	"github.com/mark3labs/x402-paygate/evm"
	"github.com/mark3labs/x402-paygate/facilitator"
)

const (
	testKey       = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testPayer     = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	testWallet    = "0xABCDEFabcdef0123456789abcDEF0123456789a0"
	testRecipient = "0x6a40e304193d2BD3fa7479c35a45bA4CCDBb4683"
	testTx        = "0x5e1f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f"
)

func testSigner(t *testing.T) *evm.Signer {
	t.Helper()
	signer, err := evm.NewSigner(evm.WithPrivateKey(testKey), evm.WithNetwork(x402.NetworkBase))
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return signer
}

// signedProof returns an X-Payment value paying challenge.
func signedProof(t *testing.T, challenge x402.PaymentChallenge) string {
	t.Helper()
	req := challenge.Requirement()
	payment, err := testSigner(t).Sign(&req)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	header, err := encoding.EncodePayment(*payment)
	if err != nil {
		t.Fatalf("EncodePayment() error = %v", err)
	}
	return header
}

// recoverPayer checks the EIP-3009 signature of a facilitator request the
// way a facilitator would, without a chain.
func recoverPayer(req facilitator.Request) (string, error) {
	payload, err := encoding.EVMPayload(req.PaymentPayload)
	if err != nil {
		return "", err
	}
	auth, err := evm.ParseAuthorization(payload.Authorization)
	if err != nil {
		return "", err
	}
	chain, err := x402.ChainByNetwork(req.PaymentRequirements.Network)
	if err != nil {
		return "", err
	}
	name, _ := req.PaymentRequirements.Extra["name"].(string)
	version, _ := req.PaymentRequirements.Extra["version"].(string)

	signer, err := evm.RecoverTransferAuthorizer(payload.Signature, common.HexToAddress(req.PaymentRequirements.Asset), chain.ChainIDBig(), auth, name, version)
	if err != nil {
		return "", err
	}
	if signer != auth.From {
		return "", fmt.Errorf("signature from %s, authorization from %s", signer.Hex(), auth.From.Hex())
	}
	if !strings.EqualFold(auth.To.Hex(), req.PaymentRequirements.PayTo) {
		return "", fmt.Errorf("payment to %s, want %s", auth.To.Hex(), req.PaymentRequirements.PayTo)
	}
	want, _ := new(big.Int).SetString(req.PaymentRequirements.MaxAmountRequired, 10)
	if want == nil || auth.Value.Cmp(want) < 0 {
		return "", fmt.Errorf("value %s below %s", auth.Value, req.PaymentRequirements.MaxAmountRequired)
	}
	return signer.Hex(), nil
}

type stubFacilitator struct {
	*httptest.Server
	verifyHits atomic.Int32
	settleHits atomic.Int32
}

// newStubFacilitator serves /verify and /settle. Nil handlers check the
// signature and settle with testTx.
func newStubFacilitator(t *testing.T, verify, settle http.HandlerFunc) *stubFacilitator {
	t.Helper()
	f := &stubFacilitator{}
	if verify == nil {
		verify = func(w http.ResponseWriter, r *http.Request) {
			var req facilitator.Request
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("failed to decode verify request: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			payer, err := recoverPayer(req)
			if err != nil {
				_ = json.NewEncoder(w).Encode(facilitator.VerifyResponse{IsValid: false, InvalidReason: err.Error()})
				return
			}
			_ = json.NewEncoder(w).Encode(facilitator.VerifyResponse{IsValid: true, Payer: payer})
		}
	}
	if settle == nil {
		settle = func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(x402.SettlementResponse{
				Success:     true,
				Transaction: testTx,
				Network:     "base",
				Payer:       testPayer,
			})
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /verify", func(w http.ResponseWriter, r *http.Request) {
		f.verifyHits.Add(1)
		verify(w, r)
	})
	mux.HandleFunc("POST /settle", func(w http.ResponseWriter, r *http.Request) {
		f.settleHits.Add(1)
		settle(w, r)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}
