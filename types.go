package x402

// PaymentRequirement is one accepted payment option inside a 402 response.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier. Only "exact" is issued.
	Scheme string `json:"scheme"`

	// Network is the chain identifier ("base" or "base-sepolia").
	Network string `json:"network"`

	// MaxAmountRequired is the amount in USDC smallest units.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Asset is the USDC contract address on Network.
	Asset string `json:"asset"`

	// PayTo is the seller wallet.
	PayTo string `json:"payTo"`

	// Resource is the absolute URL of the paid endpoint.
	Resource string `json:"resource"`

	Description string `json:"description"`
	MimeType    string `json:"mimeType"`

	// MaxTimeoutSeconds bounds the validity window of a signed authorization.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Extra carries the EIP-3009 domain ("name", "version") for EVM assets.
	Extra map[string]interface{} `json:"extra"`
}

// PaymentRequirementsResponse is the x402 portion of a 402 body.
type PaymentRequirementsResponse struct {
	X402Version int                  `json:"x402Version"`
	Error       string               `json:"error"`
	Accepts     []PaymentRequirement `json:"accepts"`
}

// PaymentPayload is the decoded content of an X-Payment header.
type PaymentPayload struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`

	// Payload holds the scheme-specific signed data, an EVMPayload for "exact" on EVM.
	Payload interface{} `json:"payload"`
}

// TokenConfig describes a token a signer is willing to pay with.
type TokenConfig struct {
	Address  string
	Symbol   string
	Decimals int

	// Priority orders tokens within a signer. Lower wins.
	Priority int
}

// EVMPayload is an EIP-3009 transferWithAuthorization plus its signature.
type EVMPayload struct {
	Signature     string           `json:"signature"`
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization mirrors the EIP-3009 message fields.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SettlementResponse is what a facilitator returns from /settle. It is also
// sent back to the client in the X-PAYMENT-RESPONSE header.
type SettlementResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}
