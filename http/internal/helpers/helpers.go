// Package helpers provides shared helper functions for the x402 HTTP front
// ends. They are used by the net/http, Gin and PocketBase adapters so every
// front end reads proofs and writes responses the same way.
package helpers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/encoding"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Header names a proof may arrive in.
const (
	HeaderPayment         = "X-Payment"
	HeaderAltPayment      = "X-402-Payment"
	HeaderAltSignature    = "X-402-Signature"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// MaxBodyBytes caps the size of a pay request body.
const MaxBodyBytes = 64 << 10

// ExtractProof returns the payment proof carried in h, or nil when there is
// none. X-Payment wins over the x-402-payment/x-402-signature pair. The
// values are not interpreted.
func ExtractProof(h http.Header) *x402.PaymentProof {
	if v := strings.TrimSpace(h.Get(HeaderPayment)); v != "" {
		return &x402.PaymentProof{Header: HeaderPayment, Payment: v}
	}
	if v := strings.TrimSpace(h.Get(HeaderAltPayment)); v != "" {
		return &x402.PaymentProof{
			Header:    HeaderAltPayment,
			Payment:   v,
			Signature: strings.TrimSpace(h.Get(HeaderAltSignature)),
		}
	}
	return nil
}

// DecodePaymentRequest reads a JSON pay request body. An empty body yields a
// zero request so validation reports the missing fields.
func DecodePaymentRequest(r *http.Request) (x402.PaymentRequest, error) {
	var req x402.PaymentRequest
	if r.Body == nil {
		return req, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return req, x402.NewPaymentError(x402.ErrCodeValidation, "Invalid request body", fmt.Errorf("failed to read body: %w", err))
	}
	if len(data) > MaxBodyBytes {
		return req, x402.NewPaymentError(x402.ErrCodeValidation, "Request body too large", errors.New("body exceeds limit"))
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, x402.NewPaymentError(x402.ErrCodeValidation, "Invalid JSON body", err)
	}
	return req, nil
}

// ResourceURL rebuilds the absolute URL of r for the x402 requirement.
func ResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// WriteJSON writes an already-encoded JSON body with status.
func WriteJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent, so a write error cannot be reported.
	_, _ = w.Write(body)
}

// WriteValue encodes v and writes it with status.
func WriteValue(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		WriteJSON(w, http.StatusInternalServerError, []byte(`{"error":"Internal server error"}`))
		return
	}
	WriteJSON(w, status, body)
}

// WriteError writes err as a JSON error body with the status of its class.
func WriteError(w http.ResponseWriter, err error) {
	pe := x402.Classify(err)
	body := map[string]any{"error": pe.Message, "code": string(pe.Code)}
	WriteValue(w, pe.HTTPStatus(), body)
}

// AddPaymentResponseHeader adds the X-PAYMENT-RESPONSE header with
// base64-encoded settlement information.
func AddPaymentResponseHeader(w http.ResponseWriter, settlement *x402.SettlementResponse) error {
	if settlement == nil {
		return nil
	}
	encoded, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		return err
	}
	w.Header().Set(HeaderPaymentResponse, encoded)
	return nil
}

// CORS holds the Access-Control-* values sent on pay routes.
type CORS struct {
	Origin  string
	Methods string
	Headers string
}

// DefaultCORS allows any origin and the payment headers.
var DefaultCORS = CORS{
	Origin:  "*",
	Methods: "GET, POST, OPTIONS",
	Headers: "Content-Type, X-Payment, x-402-payment, x-402-signature, Authorization",
}

// Apply sets the CORS headers on h.
func (c CORS) Apply(h http.Header) {
	origin := c.Origin
	if origin == "" {
		origin = DefaultCORS.Origin
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", c.Methods)
	h.Set("Access-Control-Allow-Headers", c.Headers)
	h.Set("Access-Control-Expose-Headers", HeaderPaymentResponse)
}
