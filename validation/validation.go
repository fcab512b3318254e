// Package validation checks pay requests before any payment work is done.
// Every function here is pure.
package validation

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/mark3labs/x402-paygate"
)

var (
	// walletRegex matches 0x followed by 40 hex characters.
	walletRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

	// txHashRegex matches 0x followed by 64 hex characters.
	txHashRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

	// unitsRegex matches a base-10 integer without sign or separators.
	unitsRegex = regexp.MustCompile(`^[0-9]+$`)
)

// Limits bounds accepted amounts. A nil Max means no upper bound.
type Limits struct {
	Max *big.Int
}

// ValidateAddress reports whether address is a 20-byte hex address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("%w: wallet", x402.ErrMissingField)
	}
	if !walletRegex.MatchString(address) {
		return fmt.Errorf("%w: %q (expected 0x followed by 40 hex characters)", x402.ErrInvalidWalletFormat, address)
	}
	return nil
}

// ValidateAmount checks that amount is a positive integer of USDC smallest
// units, no larger than max when max is set.
func ValidateAmount(amount string, max *big.Int) error {
	if amount == "" {
		return fmt.Errorf("%w: amount", x402.ErrMissingField)
	}
	if !unitsRegex.MatchString(amount) {
		return fmt.Errorf("%w: %q is not an integer number of USDC smallest units", x402.ErrInvalidAmount, amount)
	}
	amt, err := x402.ParseUnits(amount)
	if err != nil {
		return err
	}
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: must be greater than 0, got %s", x402.ErrInvalidAmount, amount)
	}
	if max != nil && amt.Cmp(max) > 0 {
		return fmt.Errorf("%w: %s exceeds the maximum of %s", x402.ErrInvalidAmount, amount, max.String())
	}
	return nil
}

// ValidateTransactionHash reports whether hash is a 32-byte hex hash. An
// empty hash is valid: the field is optional.
func ValidateTransactionHash(hash string) error {
	if hash != "" && !txHashRegex.MatchString(hash) {
		return fmt.Errorf("%w: %q (expected 0x followed by 64 hex characters)", x402.ErrInvalidTransactionHash, hash)
	}
	return nil
}

// ValidatePaymentRequest validates wallet, amount and the optional
// transaction hash and returns the request
// with surrounding whitespace trimmed. Errors are *x402.PaymentError with
// code VALIDATION_ERROR.
func ValidatePaymentRequest(req x402.PaymentRequest, limits Limits) (x402.PaymentRequest, error) {
	req.Wallet = strings.TrimSpace(req.Wallet)
	req.Amount = strings.TrimSpace(req.Amount)
	req.TransactionHash = strings.TrimSpace(req.TransactionHash)

	if req.Wallet == "" || req.Amount == "" {
		missing := "wallet"
		if req.Wallet != "" {
			missing = "amount"
		}
		return req, x402.NewPaymentError(x402.ErrCodeValidation,
			fmt.Sprintf("Missing required field: %s", missing),
			fmt.Errorf("%w: %s", x402.ErrMissingField, missing)).
			WithDetails("field", missing)
	}

	if err := ValidateAddress(req.Wallet); err != nil {
		return req, x402.NewPaymentError(x402.ErrCodeValidation, "Invalid wallet address format", err).
			WithDetails("field", "wallet")
	}

	if err := ValidateAmount(req.Amount, limits.Max); err != nil {
		return req, x402.NewPaymentError(x402.ErrCodeValidation,
			"Invalid amount: must be a positive integer of USDC smallest units (6 decimals)", err).
			WithDetails("field", "amount")
	}

	if err := ValidateTransactionHash(req.TransactionHash); err != nil {
		return req, x402.NewPaymentError(x402.ErrCodeValidation, "Invalid transaction hash format", err).
			WithDetails("field", "transactionHash")
	}

	return req, nil
}

// ValidatePaymentPayload checks the structural fields of a decoded proof
// against the challenge it answers.
func ValidatePaymentPayload(payment x402.PaymentPayload, challenge x402.PaymentChallenge) error {
	if payment.X402Version != 1 {
		return fmt.Errorf("unsupported x402 version %d", payment.X402Version)
	}
	if payment.Scheme != "exact" {
		return fmt.Errorf("unsupported scheme %q", payment.Scheme)
	}
	if payment.Network != challenge.Network.String() {
		return fmt.Errorf("network mismatch: payment on %q, expected %q", payment.Network, challenge.Network)
	}
	if payment.Payload == nil {
		return fmt.Errorf("payload cannot be nil")
	}
	return nil
}
