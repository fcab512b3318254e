package evm

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/mark3labs/x402-paygate"
)

// clockSkew is subtracted from validAfter so a client clock slightly ahead
// of the chain does not produce a not-yet-valid authorization.
const clockSkew = 10

// EIP3009Authorization represents the parameters for EIP-3009 transferWithAuthorization.
type EIP3009Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       common.Hash
}

// CreateEIP3009Authorization creates an authorization valid from now (minus
// a small skew) for timeoutSeconds, with a random nonce.
func CreateEIP3009Authorization(from, to common.Address, value *big.Int, timeoutSeconds int) (*EIP3009Authorization, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now().Unix()
	return &EIP3009Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  big.NewInt(now - clockSkew),
		ValidBefore: big.NewInt(now + int64(timeoutSeconds)),
		Nonce:       nonce,
	}, nil
}

// Wire converts the authorization to its JSON form.
func (a *EIP3009Authorization) Wire() x402.EVMAuthorization {
	return x402.EVMAuthorization{
		From:        a.From.Hex(),
		To:          a.To.Hex(),
		Value:       a.Value.String(),
		ValidAfter:  a.ValidAfter.String(),
		ValidBefore: a.ValidBefore.String(),
		Nonce:       a.Nonce.Hex(),
	}
}

// ParseAuthorization converts the JSON form back into an authorization.
func ParseAuthorization(w x402.EVMAuthorization) (*EIP3009Authorization, error) {
	if !common.IsHexAddress(w.From) || !common.IsHexAddress(w.To) {
		return nil, fmt.Errorf("%w: invalid authorization address", x402.ErrMalformedHeader)
	}
	value, ok1 := new(big.Int).SetString(w.Value, 10)
	after, ok2 := new(big.Int).SetString(w.ValidAfter, 10)
	before, ok3 := new(big.Int).SetString(w.ValidBefore, 10)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("%w: invalid authorization integers", x402.ErrMalformedHeader)
	}
	nonce, err := hex.DecodeString(strings.TrimPrefix(w.Nonce, "0x"))
	if err != nil || len(nonce) != common.HashLength {
		return nil, fmt.Errorf("%w: invalid authorization nonce", x402.ErrMalformedHeader)
	}
	return &EIP3009Authorization{
		From:        common.HexToAddress(w.From),
		To:          common.HexToAddress(w.To),
		Value:       value,
		ValidAfter:  after,
		ValidBefore: before,
		Nonce:       common.BytesToHash(nonce),
	}, nil
}

// SignTransferAuthorization signs an EIP-3009 transferWithAuthorization using EIP-712.
// name and version are the token's EIP-712 domain.
func SignTransferAuthorization(privateKey *ecdsa.PrivateKey, tokenAddress common.Address, chainID *big.Int, auth *EIP3009Authorization, name, version string) (string, error) {
	digest, err := transferDigest(tokenAddress, chainID, auth, name, version)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to sign authorization", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// RecoverTransferAuthorizer returns the address that produced signature over
// auth. It lets a facilitator stub check a payload without a chain.
func RecoverTransferAuthorizer(signature string, tokenAddress common.Address, chainID *big.Int, auth *EIP3009Authorization, name, version string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: invalid signature encoding", x402.ErrMalformedHeader)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	digest, err := transferDigest(tokenAddress, chainID, auth, name, version)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func transferDigest(tokenAddress common.Address, chainID *big.Int, auth *EIP3009Authorization, name, version string) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: tokenAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       auth.Nonce.Hex(),
		},
	}

	// keccak256("\x19\x01" || domainSeparator || hashStruct(message))
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return digest, nil
}

func generateNonce() (common.Hash, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(nonce[:]), nil
}
