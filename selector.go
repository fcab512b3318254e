package x402

import (
	"sort"
	"strings"
)

// PaymentSelector picks a signer for a requirement and signs with it.
type PaymentSelector interface {
	SelectAndSign(requirements *PaymentRequirement, signers []Signer) (*PaymentPayload, error)
}

// DefaultPaymentSelector keeps the signers that can pay the requirement
// within their spending cap, then orders them by signer priority, token
// priority and configuration order.
type DefaultPaymentSelector struct{}

// NewDefaultPaymentSelector creates a DefaultPaymentSelector.
func NewDefaultPaymentSelector() *DefaultPaymentSelector {
	return &DefaultPaymentSelector{}
}

type candidate struct {
	signer        Signer
	tokenPriority int
}

// SelectAndSign implements PaymentSelector.
func (s *DefaultPaymentSelector) SelectAndSign(requirements *PaymentRequirement, signers []Signer) (*PaymentPayload, error) {
	if len(signers) == 0 {
		return nil, NewPaymentError(ErrCodeNoValidSigner, "no signers configured", ErrNoValidSigner)
	}

	amount, err := ParseUnits(requirements.MaxAmountRequired)
	if err != nil {
		return nil, NewPaymentError(ErrCodeInvalidRequirements, "invalid amount in requirements", ErrInvalidRequirements)
	}

	var candidates []candidate
	for _, signer := range signers {
		if !signer.CanSign(requirements) {
			continue
		}
		if limit := signer.GetMaxAmount(); limit != nil && amount.Cmp(limit) > 0 {
			continue
		}
		c := candidate{signer: signer}
		for _, token := range signer.GetTokens() {
			if strings.EqualFold(token.Address, requirements.Asset) {
				c.tokenPriority = token.Priority
				break
			}
		}
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return nil, NewPaymentError(ErrCodeNoValidSigner, "no signer can satisfy requirements", ErrNoValidSigner).
			WithDetails("network", requirements.Network).
			WithDetails("asset", requirements.Asset).
			WithDetails("amount", requirements.MaxAmountRequired)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := candidates[i].signer.GetPriority(), candidates[j].signer.GetPriority()
		if pi != pj {
			return pi < pj
		}
		return candidates[i].tokenPriority < candidates[j].tokenPriority
	})

	payment, err := candidates[0].signer.Sign(requirements)
	if err != nil {
		return nil, NewPaymentError(ErrCodeSigningFailed, "failed to sign payment", err)
	}
	return payment, nil
}
