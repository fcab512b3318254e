// Package mcp carries x402 payments over the Model Context Protocol. A proof
// travels in the tool call's params._meta, and a settlement comes back in
// the result's _meta.
package mcp

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/encoding"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// MetaKeyPayment is the key for payment data in MCP request params._meta
	MetaKeyPayment = "x402/payment"

	// MetaKeyPaymentResponse is the key for the settlement in MCP result._meta
	MetaKeyPaymentResponse = "x402/payment-response"

	// MetaKeyPaymentRequired is the key for the challenge in an MCP error result's _meta
	MetaKeyPaymentRequired = "x402/payment-required"
)

// ErrInvalidPaymentMeta is returned for an x402/payment value that is
// neither a header string nor a payment object.
var ErrInvalidPaymentMeta = errors.New("x402: invalid x402/payment metadata")

// ProofFromMeta returns the payment proof carried in meta, or nil when there
// is none. The value may be the base64 X-Payment string or the decoded
// PaymentPayload object; objects are re-encoded so facilitators see the
// same form as over HTTP.
func ProofFromMeta(meta map[string]any) (*x402.PaymentProof, error) {
	raw, ok := meta[MetaKeyPayment]
	if !ok || raw == nil {
		return nil, nil
	}

	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		return &x402.PaymentProof{Header: MetaKeyPayment, Payment: strings.TrimSpace(v)}, nil
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPaymentMeta, err)
		}
		var payment x402.PaymentPayload
		if err := json.Unmarshal(data, &payment); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPaymentMeta, err)
		}
		header, err := encoding.EncodePayment(payment)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPaymentMeta, err)
		}
		return &x402.PaymentProof{Header: MetaKeyPayment, Payment: header}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected type %T", ErrInvalidPaymentMeta, raw)
	}
}
