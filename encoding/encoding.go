// Package encoding converts x402 wire values to and from the base64 JSON
// form carried in X-Payment and X-PAYMENT-RESPONSE headers.
package encoding

import (
	"encoding/base64"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/mark3labs/x402-paygate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func encode(v any, what string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func decode(encoded string, v any, what string) error {
	encoded = strings.TrimSpace(encoded)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Some clients strip padding.
		var rawErr error
		if data, rawErr = base64.RawStdEncoding.DecodeString(encoded); rawErr != nil {
			return fmt.Errorf("%w: failed to decode base64: %v", x402.ErrMalformedHeader, err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: failed to unmarshal %s: %v", x402.ErrMalformedHeader, what, err)
	}
	return nil
}

// EncodePayment converts a PaymentPayload to the X-Payment header value.
func EncodePayment(payment x402.PaymentPayload) (string, error) {
	return encode(payment, "payment")
}

// DecodePayment parses an X-Payment header value.
func DecodePayment(encoded string) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload
	err := decode(encoded, &payment, "payment")
	return payment, err
}

// EncodeSettlement converts a SettlementResponse to the X-PAYMENT-RESPONSE header value.
func EncodeSettlement(settlement x402.SettlementResponse) (string, error) {
	return encode(settlement, "settlement")
}

// DecodeSettlement parses an X-PAYMENT-RESPONSE header value.
func DecodeSettlement(encoded string) (x402.SettlementResponse, error) {
	var settlement x402.SettlementResponse
	err := decode(encoded, &settlement, "settlement")
	return settlement, err
}

// EncodeRequirements converts a PaymentRequirementsResponse to base64 JSON.
func EncodeRequirements(requirements x402.PaymentRequirementsResponse) (string, error) {
	return encode(requirements, "requirements")
}

// DecodeRequirements parses base64 JSON requirements.
func DecodeRequirements(encoded string) (x402.PaymentRequirementsResponse, error) {
	var requirements x402.PaymentRequirementsResponse
	err := decode(encoded, &requirements, "requirements")
	return requirements, err
}

// EVMPayload extracts the EIP-3009 payload of a decoded payment. After
// decoding, Payload is a generic map, so it is re-marshalled into the typed form.
func EVMPayload(payment x402.PaymentPayload) (x402.EVMPayload, error) {
	var out x402.EVMPayload
	switch p := payment.Payload.(type) {
	case x402.EVMPayload:
		return p, nil
	case *x402.EVMPayload:
		if p == nil {
			return out, fmt.Errorf("nil EVM payload")
		}
		return *p, nil
	case nil:
		return out, fmt.Errorf("missing payload")
	}
	data, err := json.Marshal(payment.Payload)
	if err != nil {
		return out, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to unmarshal EVM payload: %w", err)
	}
	return out, nil
}
