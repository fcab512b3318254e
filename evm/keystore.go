package evm

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/mark3labs/x402-paygate"
)

// WithKeystore loads the key from an encrypted v3 keystore file.
func WithKeystore(path, password string) SignerOption {
	return func(s *Signer) error {
		key, err := LoadKeystore(path, password)
		if err != nil {
			return err
		}
		s.privateKey = key
		return nil
	}
}

// LoadKeystore decrypts a v3 keystore file.
func LoadKeystore(path, password string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKeystore, err)
	}
	key, err := keystore.DecryptKey(data, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKeystore, err)
	}
	return key.PrivateKey, nil
}

// WithMnemonic derives the key from a BIP-39 phrase at
// m/44'/60'/0'/0/{accountIndex}.
func WithMnemonic(mnemonic string, accountIndex uint32) SignerOption {
	return func(s *Signer) error {
		key, err := DeriveKey(mnemonic, accountIndex)
		if err != nil {
			return err
		}
		s.privateKey = key
		return nil
	}
}

// DeriveKey derives the Ethereum key of a BIP-39 phrase at
// m/44'/60'/0'/0/{index}.
func DeriveKey(mnemonic string, index uint32) (*ecdsa.PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, x402.ErrInvalidMnemonic
	}
	key, err := deriveEthereumKey(bip39.NewSeed(mnemonic, ""), index)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidMnemonic, err)
	}
	return key, nil
}

func deriveEthereumKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, err
	}

	path := []uint32{
		bip32.FirstHardenedChild + 44, // purpose
		bip32.FirstHardenedChild + 60, // coin type: ether
		bip32.FirstHardenedChild + 0,  // account
		0,                             // external chain
		index,
	}
	for _, child := range path {
		if key, err = key.NewChildKey(child); err != nil {
			return nil, err
		}
	}
	return crypto.ToECDSA(key.Key)
}
