package x402

import (
	"errors"
	"testing"
)

func TestChainByNetwork(t *testing.T) {
	tests := []struct {
		name      string
		network   string
		wantChain ChainConfig
		wantErr   bool
	}{
		{"base", "base", BaseMainnet, false},
		{"base sepolia", "base-sepolia", BaseSepolia, false},
		{"solana is not supported", "solana", ChainConfig{}, true},
		{"empty", "", ChainConfig{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChainByNetwork(tt.network)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidNetwork) {
					t.Fatalf("expected ErrInvalidNetwork, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.wantChain {
				t.Errorf("got %+v, want %+v", got, tt.wantChain)
			}
		})
	}
}

func TestParseNetwork(t *testing.T) {
	tests := []struct {
		in   string
		want NetworkID
	}{
		{"", NetworkBase},
		{"base", NetworkBase},
		{"BASE", NetworkBase},
		{"base-sepolia", NetworkBaseSepolia},
		{" base-sepolia ", NetworkBaseSepolia},
		{"ethereum", NetworkBase},
		{"garbage", NetworkBase},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseNetwork(tt.in); got != tt.want {
				t.Errorf("ParseNetwork(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNetworkChain(t *testing.T) {
	if NetworkBase.Chain().ChainID != 8453 {
		t.Errorf("expected base chain id 8453, got %d", NetworkBase.Chain().ChainID)
	}
	if NetworkBaseSepolia.Chain().ChainID != 84532 {
		t.Errorf("expected base-sepolia chain id 84532, got %d", NetworkBaseSepolia.Chain().ChainID)
	}
	if NetworkBaseSepolia.Chain().ChainIDBig().Int64() != 84532 {
		t.Error("ChainIDBig mismatch")
	}
}

func TestNewUSDCTokenConfig(t *testing.T) {
	tc := NewUSDCTokenConfig(BaseSepolia, 3)
	if tc.Address != BaseSepolia.USDCAddress {
		t.Errorf("Address = %s, want %s", tc.Address, BaseSepolia.USDCAddress)
	}
	if tc.Symbol != "USDC" || tc.Decimals != 6 || tc.Priority != 3 {
		t.Errorf("unexpected token config %+v", tc)
	}
}
