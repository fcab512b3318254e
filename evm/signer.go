// Package evm signs x402 "exact" payments on EVM chains with EIP-3009
// transferWithAuthorization.
package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mark3labs/x402-paygate"
)

// Signer implements x402.Signer for Base and Base Sepolia.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chain      x402.ChainConfig
	network    string
	tokens     []x402.TokenConfig
	priority   int
	maxAmount  *big.Int
}

var _ x402.Signer = (*Signer)(nil)

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// NewSigner creates a signer. A key and a network are required; when no
// token is configured the network's USDC is used.
func NewSigner(opts ...SignerOption) (*Signer, error) {
	s := &Signer{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.privateKey == nil {
		return nil, x402.ErrInvalidKey
	}
	if s.network == "" {
		return nil, x402.ErrInvalidNetwork
	}
	chain, err := x402.ChainByNetwork(s.network)
	if err != nil {
		return nil, err
	}
	s.chain = chain
	if len(s.tokens) == 0 {
		s.tokens = []x402.TokenConfig{x402.NewUSDCTokenConfig(chain, 0)}
	}

	s.address = crypto.PubkeyToAddress(s.privateKey.PublicKey)
	return s, nil
}

// WithPrivateKey sets the private key from a hex string, with or without 0x.
func WithPrivateKey(hexKey string) SignerOption {
	return func(s *Signer) error {
		key, err := ParsePrivateKey(hexKey)
		if err != nil {
			return err
		}
		s.privateKey = key
		return nil
	}
}

// ParsePrivateKey decodes a 32-byte hex secp256k1 key.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
	}
	return key, nil
}

// WithNetwork sets the network ("base" or "base-sepolia").
func WithNetwork(network x402.NetworkID) SignerOption {
	return func(s *Signer) error {
		s.network = network.String()
		return nil
	}
}

// WithToken adds a token the signer may pay with.
func WithToken(address, symbol string, decimals int) SignerOption {
	return WithTokenPriority(address, symbol, decimals, 0)
}

// WithTokenPriority adds a token with a priority. Lower wins.
func WithTokenPriority(address, symbol string, decimals, priority int) SignerOption {
	return func(s *Signer) error {
		if !common.IsHexAddress(address) {
			return fmt.Errorf("%w: invalid token address %q", x402.ErrNoTokens, address)
		}
		s.tokens = append(s.tokens, x402.TokenConfig{
			Address:  address,
			Symbol:   symbol,
			Decimals: decimals,
			Priority: priority,
		})
		return nil
	}
}

// WithPriority sets the signer priority.
func WithPriority(priority int) SignerOption {
	return func(s *Signer) error {
		s.priority = priority
		return nil
	}
}

// WithMaxAmountPerCall caps a single payment, in smallest units.
func WithMaxAmountPerCall(amount string) SignerOption {
	return func(s *Signer) error {
		maxAmount, err := x402.ParseUnits(amount)
		if err != nil {
			return err
		}
		s.maxAmount = maxAmount
		return nil
	}
}

// Network implements x402.Signer.
func (s *Signer) Network() string {
	return s.network
}

// Scheme implements x402.Signer.
func (s *Signer) Scheme() string {
	return "exact"
}

// CanSign implements x402.Signer.
func (s *Signer) CanSign(requirements *x402.PaymentRequirement) bool {
	if requirements == nil || requirements.Network != s.network || requirements.Scheme != "exact" {
		return false
	}
	_, ok := s.token(requirements.Asset)
	return ok
}

// Sign implements x402.Signer.
func (s *Signer) Sign(requirements *x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	if !s.CanSign(requirements) {
		return nil, x402.ErrNoValidSigner
	}

	amount, err := x402.ParseUnits(requirements.MaxAmountRequired)
	if err != nil {
		return nil, err
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, x402.ErrAmountExceeded
	}
	if !common.IsHexAddress(requirements.PayTo) {
		return nil, fmt.Errorf("%w: invalid payTo %q", x402.ErrInvalidRequirements, requirements.PayTo)
	}

	token, _ := s.token(requirements.Asset)
	name, version := s.domain(requirements)

	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds
	}
	auth, err := CreateEIP3009Authorization(s.address, common.HexToAddress(requirements.PayTo), amount, timeout)
	if err != nil {
		return nil, err
	}

	signature, err := SignTransferAuthorization(s.privateKey, common.HexToAddress(token.Address), s.chain.ChainIDBig(), auth, name, version)
	if err != nil {
		return nil, err
	}

	return &x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     s.network,
		Payload: x402.EVMPayload{
			Signature:     signature,
			Authorization: auth.Wire(),
		},
	}, nil
}

// GetPriority implements x402.Signer.
func (s *Signer) GetPriority() int {
	return s.priority
}

// GetTokens implements x402.Signer.
func (s *Signer) GetTokens() []x402.TokenConfig {
	return s.tokens
}

// GetMaxAmount implements x402.Signer.
func (s *Signer) GetMaxAmount() *big.Int {
	return s.maxAmount
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address {
	return s.address
}

func (s *Signer) token(asset string) (x402.TokenConfig, bool) {
	for _, t := range s.tokens {
		if strings.EqualFold(t.Address, asset) {
			return t, true
		}
	}
	return x402.TokenConfig{}, false
}

// domain returns the EIP-712 name and version: from the requirement's extra
// when present, else the chain's USDC domain.
func (s *Signer) domain(requirements *x402.PaymentRequirement) (string, string) {
	name, version := s.chain.EIP3009Name, s.chain.EIP3009Version
	if v, ok := requirements.Extra["name"].(string); ok && v != "" {
		name = v
	}
	if v, ok := requirements.Extra["version"].(string); ok && v != "" {
		version = v
	}
	return name, version
}
