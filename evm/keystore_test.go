package evm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/mark3labs/x402-paygate"
)

// Hardhat's default phrase; account 0 is testAddress.
const testMnemonic = "test test test test test test test test test test test junk"

func TestDeriveKey(t *testing.T) {
	tests := []struct {
		name     string
		mnemonic string
		index    uint32
		want     string
		wantErr  error
	}{
		{name: "account 0", mnemonic: testMnemonic, want: testAddress},
		{name: "account 1", mnemonic: testMnemonic, index: 1, want: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"},
		{name: "extra whitespace", mnemonic: "  test test test test test test test test test test test   junk ", want: testAddress},
		{name: "invalid phrase", mnemonic: "invalid mnemonic phrase", wantErr: x402.ErrInvalidMnemonic},
		{name: "empty", wantErr: x402.ErrInvalidMnemonic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := DeriveKey(tt.mnemonic, tt.index)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := crypto.PubkeyToAddress(key.PublicKey); got != common.HexToAddress(tt.want) {
				t.Errorf("address = %s, want %s", got.Hex(), tt.want)
			}
		})
	}
}

func TestWithMnemonic(t *testing.T) {
	s, err := NewSigner(WithMnemonic(testMnemonic, 0), WithNetwork(x402.NetworkBase))
	if err != nil {
		t.Fatal(err)
	}
	if s.Address() != common.HexToAddress(testAddress) {
		t.Errorf("Address() = %s", s.Address().Hex())
	}
}

func writeKeystore(t *testing.T, password string) string {
	t.Helper()
	priv, err := crypto.HexToECDSA(testPrivateKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: priv,
	}
	data, err := keystore.EncryptKey(key, password, keystore.LightScryptN, keystore.LightScryptP)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWithKeystore(t *testing.T) {
	path := writeKeystore(t, "secret")
	garbage := filepath.Join(t.TempDir(), "garbage.json")
	if err := os.WriteFile(garbage, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		path     string
		password string
		wantErr  bool
	}{
		{name: "correct password", path: path, password: "secret"},
		{name: "wrong password", path: path, password: "nope", wantErr: true},
		{name: "missing file", path: filepath.Join(t.TempDir(), "none.json"), password: "secret", wantErr: true},
		{name: "invalid json", path: garbage, password: "secret", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSigner(WithKeystore(tt.path, tt.password), WithNetwork(x402.NetworkBase))
			if tt.wantErr {
				if !errors.Is(err, x402.ErrInvalidKeystore) {
					t.Fatalf("error = %v, want ErrInvalidKeystore", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if s.Address() != common.HexToAddress(testAddress) {
				t.Errorf("Address() = %s", s.Address().Hex())
			}
		})
	}
}
