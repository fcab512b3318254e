package x402

import "testing"

func TestChallengeRequirement(t *testing.T) {
	c := NewChallenge("5000000", NetworkBaseSepolia, "0x6a40e304193d2BD3fa7479c35a45bA4CCDBb4683")
	c.Resource = "http://localhost/pay"

	req := c.Requirement()
	if req.Scheme != "exact" {
		t.Errorf("expected scheme exact, got %s", req.Scheme)
	}
	if req.Network != "base-sepolia" {
		t.Errorf("expected network base-sepolia, got %s", req.Network)
	}
	if req.Asset != BaseSepolia.USDCAddress {
		t.Errorf("expected USDC asset, got %s", req.Asset)
	}
	if req.MaxAmountRequired != "5000000" {
		t.Errorf("expected amount 5000000, got %s", req.MaxAmountRequired)
	}
	if req.PayTo != c.Recipient {
		t.Errorf("expected payTo %s, got %s", c.Recipient, req.PayTo)
	}
	if req.Resource != "http://localhost/pay" {
		t.Errorf("expected resource to be carried, got %s", req.Resource)
	}
	if req.Extra["name"] != "USDC" || req.Extra["version"] != "2" {
		t.Errorf("unexpected EIP-3009 domain %v", req.Extra)
	}
	if c.Currency != "USDC" {
		t.Errorf("expected currency USDC, got %s", c.Currency)
	}
}

func TestProofDigest(t *testing.T) {
	a := PaymentProof{Header: "X-Payment", Payment: "abc"}
	b := PaymentProof{Header: "x-402-payment", Payment: "abc"}
	c := PaymentProof{Header: "x-402-payment", Payment: "abc", Signature: "sig"}

	if a.Digest() != b.Digest() {
		t.Error("digest should not depend on the header name")
	}
	if a.Digest() == c.Digest() {
		t.Error("digest should depend on the signature")
	}
	if len(a.Digest()) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a.Digest()))
	}
}
