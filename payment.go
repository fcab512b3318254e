package x402

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
)

// NetworkID selects the chain a payment is checked against.
type NetworkID string

const (
	NetworkBase        NetworkID = "base"
	NetworkBaseSepolia NetworkID = "base-sepolia"
)

// ParseNetwork maps a configured value to a NetworkID. Empty or unknown
// values fall back to NetworkBase.
func ParseNetwork(s string) NetworkID {
	switch NetworkID(strings.ToLower(strings.TrimSpace(s))) {
	case NetworkBase:
		return NetworkBase
	case NetworkBaseSepolia:
		return NetworkBaseSepolia
	case "":
		return NetworkBase
	default:
		slog.Default().Warn("unknown network, falling back to base", "network", s)
		return NetworkBase
	}
}

// Chain returns the USDC chain configuration for the network.
func (n NetworkID) Chain() ChainConfig {
	if n == NetworkBaseSepolia {
		return BaseSepolia
	}
	return BaseMainnet
}

func (n NetworkID) String() string {
	return string(n)
}

// PaymentRequest is the body of a pay call.
type PaymentRequest struct {
	Wallet          string `json:"wallet"`
	Amount          string `json:"amount,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Prompt          string `json:"prompt,omitempty"`
}

// PaymentChallenge is issued with a 402 when no acceptable proof was sent.
// It is rebuilt for every request.
type PaymentChallenge struct {
	AmountUnits string    `json:"amount"`
	Network     NetworkID `json:"network"`
	Recipient   string    `json:"recipient"`
	Currency    string    `json:"currency"`

	// Resource and Description end up in the x402 requirement only.
	Resource    string `json:"-"`
	Description string `json:"-"`
}

// NewChallenge builds a USDC challenge for amount units payable to recipient.
func NewChallenge(amountUnits string, network NetworkID, recipient string) PaymentChallenge {
	return PaymentChallenge{
		AmountUnits: amountUnits,
		Network:     network,
		Recipient:   recipient,
		Currency:    "USDC",
	}
}

// Requirement renders the challenge as the x402 requirement a signer or a
// facilitator understands.
func (c PaymentChallenge) Requirement() PaymentRequirement {
	chain := c.Network.Chain()
	req := PaymentRequirement{
		Scheme:            "exact",
		Network:           chain.NetworkID,
		MaxAmountRequired: c.AmountUnits,
		Asset:             chain.USDCAddress,
		PayTo:             c.Recipient,
		Resource:          c.Resource,
		Description:       c.Description,
		MimeType:          "application/json",
		MaxTimeoutSeconds: DefaultMaxTimeoutSeconds,
	}
	if chain.EIP3009Name != "" {
		req.Extra = map[string]interface{}{
			"name":    chain.EIP3009Name,
			"version": chain.EIP3009Version,
		}
	}
	return req
}

// PaymentProof is the payment evidence a client attached to a request. The
// service never interprets it beyond handing it to a facilitator.
type PaymentProof struct {
	// Header is the name of the header the proof came from.
	Header string

	// Payment is the raw header value, normally base64 JSON.
	Payment string

	// Signature is only set for the x-402-payment/x-402-signature pair.
	Signature string
}

// Digest returns a stable hex digest of the proof.
func (p PaymentProof) Digest() string {
	sum := sha256.Sum256([]byte(p.Payment + "\x00" + p.Signature))
	return hex.EncodeToString(sum[:])
}

// VerificationResult is produced by a facilitator. Nothing builds one from
// client input.
type VerificationResult struct {
	Verified        bool   `json:"verified"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Payer           string `json:"payer,omitempty"`

	// Reason explains an unverified result.
	Reason string `json:"reason,omitempty"`

	// Settlement is set when the facilitator settled the payment.
	Settlement *SettlementResponse `json:"-"`
}
