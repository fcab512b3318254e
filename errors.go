package x402

import (
	"errors"
	"net/http"
)

// Sentinel errors. Callers classify with errors.Is.
var (
	// ErrMissingField indicates a required request field is absent.
	ErrMissingField = errors.New("x402: missing required field")

	// ErrInvalidWalletFormat indicates the wallet is not a 0x-prefixed 20-byte hex address.
	ErrInvalidWalletFormat = errors.New("x402: invalid wallet address format")

	// ErrInvalidAmount indicates an amount that is not a positive integer of smallest units.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidTransactionHash indicates a transactionHash that is not 0x plus 64 hex characters.
	ErrInvalidTransactionHash = errors.New("x402: invalid transaction hash")

	// ErrPaymentRequired is the expected protocol state when no acceptable proof was sent.
	ErrPaymentRequired = errors.New("x402: payment required")

	// ErrFacilitatorUnavailable indicates a transport failure talking to the facilitator.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrFacilitatorRejected indicates the facilitator answered with a non-402 failure status.
	ErrFacilitatorRejected = errors.New("x402: facilitator rejected the request")

	// ErrDownstreamService indicates the paid action failed after payment was accepted.
	ErrDownstreamService = errors.New("x402: downstream service error")

	// ErrConfiguration indicates missing or invalid configuration.
	ErrConfiguration = errors.New("x402: configuration error")

	// ErrPaymentInFlight indicates another request holds the same idempotency key.
	ErrPaymentInFlight = errors.New("x402: payment already being processed")

	// ErrPaymentUsed indicates the settled payment already bought an action
	// through a different proof.
	ErrPaymentUsed = errors.New("x402: payment already used")

	// ErrMalformedHeader indicates the payment header could not be decoded.
	ErrMalformedHeader = errors.New("x402: malformed payment header")

	// ErrNoValidSigner indicates no signer can satisfy the payment requirements.
	ErrNoValidSigner = errors.New("x402: no signer can satisfy payment requirements")

	// ErrAmountExceeded indicates the payment amount exceeds the per-call limit.
	ErrAmountExceeded = errors.New("x402: payment amount exceeds per-call limit")

	// ErrInvalidRequirements indicates the server sent unusable payment requirements.
	ErrInvalidRequirements = errors.New("x402: invalid payment requirements")

	// ErrSigningFailed indicates the signing operation failed.
	ErrSigningFailed = errors.New("x402: payment signing failed")

	ErrInvalidKey      = errors.New("x402: invalid private key")
	ErrInvalidNetwork  = errors.New("x402: invalid or unsupported network")
	ErrInvalidKeystore = errors.New("x402: invalid keystore file")
	ErrInvalidMnemonic = errors.New("x402: invalid mnemonic phrase")
	ErrNoTokens        = errors.New("x402: no tokens configured")
)

// ErrorCode is the stable, machine-readable class of a PaymentError.
type ErrorCode string

const (
	ErrCodeValidation             ErrorCode = "VALIDATION_ERROR"
	ErrCodePaymentRequired        ErrorCode = "PAYMENT_REQUIRED"
	ErrCodeFacilitatorUnreachable ErrorCode = "FACILITATOR_UNREACHABLE"
	ErrCodeFacilitatorRejected    ErrorCode = "FACILITATOR_REJECTED"
	ErrCodeDownstreamService      ErrorCode = "DOWNSTREAM_SERVICE_ERROR"
	ErrCodeConfiguration          ErrorCode = "CONFIGURATION_ERROR"
	ErrCodePaymentInFlight        ErrorCode = "PAYMENT_IN_FLIGHT"
	ErrCodePaymentUsed            ErrorCode = "PAYMENT_ALREADY_USED"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"

	// Client-side codes.
	ErrCodeNoValidSigner       ErrorCode = "NO_VALID_SIGNER"
	ErrCodeInvalidRequirements ErrorCode = "INVALID_REQUIREMENTS"
	ErrCodeSigningFailed       ErrorCode = "SIGNING_FAILED"
	ErrCodeNetworkError        ErrorCode = "NETWORK_ERROR"
)

// PaymentError provides structured error information.
type PaymentError struct {
	// Code is the error class.
	Code ErrorCode

	// Message is the human-readable message sent as the "error" field.
	Message string

	// Details contains additional context.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a PaymentError.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds context to the error.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatus maps the error class to the status code written at the boundary.
func (e *PaymentError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodePaymentRequired:
		return http.StatusPaymentRequired
	case ErrCodePaymentInFlight, ErrCodePaymentUsed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Classify wraps any error into a PaymentError, choosing the code from the
// sentinel it wraps.
func Classify(err error) *PaymentError {
	if err == nil {
		return nil
	}
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, ErrMissingField), errors.Is(err, ErrInvalidWalletFormat), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidTransactionHash):
		return NewPaymentError(ErrCodeValidation, err.Error(), err)
	case errors.Is(err, ErrPaymentRequired):
		return NewPaymentError(ErrCodePaymentRequired, "Payment required", err)
	case errors.Is(err, ErrFacilitatorUnavailable):
		return NewPaymentError(ErrCodeFacilitatorUnreachable, "Payment facilitator unreachable", err)
	case errors.Is(err, ErrFacilitatorRejected):
		return NewPaymentError(ErrCodeFacilitatorRejected, "Payment facilitator rejected the request", err)
	case errors.Is(err, ErrDownstreamService):
		return NewPaymentError(ErrCodeDownstreamService, "Payment accepted but the paid action failed", err)
	case errors.Is(err, ErrPaymentInFlight):
		return NewPaymentError(ErrCodePaymentInFlight, "Payment is already being processed", err)
	case errors.Is(err, ErrPaymentUsed):
		return NewPaymentError(ErrCodePaymentUsed, "Payment has already been used", err)
	case errors.Is(err, ErrConfiguration):
		return NewPaymentError(ErrCodeConfiguration, "Server misconfigured", err)
	default:
		return NewPaymentError(ErrCodeInternal, "Internal server error", err)
	}
}
