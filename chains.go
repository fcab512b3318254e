// Package x402 holds the shared types of the payment gateway: requests,
// challenges, proofs, verification results, x402 wire types, chain constants
// and the error taxonomy used by every other package.
package x402

import (
	"fmt"
	"math/big"
)

// USDCDecimals is the number of decimal places of USDC on every supported chain.
const USDCDecimals = 6

// DefaultMaxTimeoutSeconds is the authorization validity window put in requirements.
const DefaultMaxTimeoutSeconds = 300

// ChainConfig contains the USDC details of one network.
type ChainConfig struct {
	// NetworkID is the x402 network identifier.
	NetworkID string

	// ChainID is the EVM chain id used in the EIP-712 domain.
	ChainID int64

	// USDCAddress is the Circle USDC contract address.
	USDCAddress string

	// EIP3009Name and EIP3009Version form the token's EIP-712 domain.
	EIP3009Name    string
	EIP3009Version string
}

var (
	// BaseMainnet is USDC on Base.
	BaseMainnet = ChainConfig{
		NetworkID:      "base",
		ChainID:        8453,
		USDCAddress:    "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		EIP3009Name:    "USD Coin",
		EIP3009Version: "2",
	}

	// BaseSepolia is USDC on the Base Sepolia testnet.
	BaseSepolia = ChainConfig{
		NetworkID:      "base-sepolia",
		ChainID:        84532,
		USDCAddress:    "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		EIP3009Name:    "USDC",
		EIP3009Version: "2",
	}
)

// ChainByNetwork looks up a chain by its x402 network identifier.
func ChainByNetwork(network string) (ChainConfig, error) {
	switch network {
	case BaseMainnet.NetworkID:
		return BaseMainnet, nil
	case BaseSepolia.NetworkID:
		return BaseSepolia, nil
	default:
		return ChainConfig{}, fmt.Errorf("%w: %q", ErrInvalidNetwork, network)
	}
}

// ChainIDBig returns the chain id as a *big.Int.
func (c ChainConfig) ChainIDBig() *big.Int {
	return big.NewInt(c.ChainID)
}

// NewUSDCTokenConfig returns the USDC TokenConfig of chain with the given priority.
func NewUSDCTokenConfig(chain ChainConfig, priority int) TokenConfig {
	return TokenConfig{
		Address:  chain.USDCAddress,
		Symbol:   "USDC",
		Decimals: USDCDecimals,
		Priority: priority,
	}
}
