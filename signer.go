package x402

import "math/big"

// Signer produces signed payment payloads for one network.
type Signer interface {
	// Network returns the x402 network identifier the signer pays on.
	Network() string

	// Scheme returns the payment scheme, always "exact".
	Scheme() string

	// CanSign reports whether the signer holds the asset the requirement asks for.
	CanSign(requirements *PaymentRequirement) bool

	// Sign creates a signed payload for the requirement.
	Sign(requirements *PaymentRequirement) (*PaymentPayload, error)

	// GetPriority orders signers. Lower wins.
	GetPriority() int

	GetTokens() []TokenConfig

	// GetMaxAmount returns the per-call spending cap, or nil for none.
	GetMaxAmount() *big.Int
}
