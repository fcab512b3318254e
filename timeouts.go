package x402

import (
	"fmt"
	"time"
)

// TimeoutConfig bounds every outbound call the gateway makes.
type TimeoutConfig struct {
	// VerifyTimeout bounds one facilitator /verify attempt.
	VerifyTimeout time.Duration

	// SettleTimeout bounds the facilitator /settle call.
	SettleTimeout time.Duration

	// ActionTimeout bounds the protected action, e.g. the router completion.
	ActionTimeout time.Duration

	// RequestTimeout is the overall budget of an inbound request.
	RequestTimeout time.Duration
}

// DefaultTimeouts are used when nothing else is configured.
var DefaultTimeouts = TimeoutConfig{
	VerifyTimeout:  10 * time.Second,
	SettleTimeout:  60 * time.Second,
	ActionTimeout:  30 * time.Second,
	RequestTimeout: 120 * time.Second,
}

// WithVerifyTimeout returns a copy with the verify timeout replaced.
func (tc TimeoutConfig) WithVerifyTimeout(d time.Duration) TimeoutConfig {
	tc.VerifyTimeout = d
	return tc
}

// WithSettleTimeout returns a copy with the settle timeout replaced.
func (tc TimeoutConfig) WithSettleTimeout(d time.Duration) TimeoutConfig {
	tc.SettleTimeout = d
	return tc
}

// WithActionTimeout returns a copy with the action timeout replaced.
func (tc TimeoutConfig) WithActionTimeout(d time.Duration) TimeoutConfig {
	tc.ActionTimeout = d
	return tc
}

// WithRequestTimeout returns a copy with the request timeout replaced.
func (tc TimeoutConfig) WithRequestTimeout(d time.Duration) TimeoutConfig {
	tc.RequestTimeout = d
	return tc
}

// Validate ensures timeout values are usable.
func (tc TimeoutConfig) Validate() error {
	if tc.VerifyTimeout <= 0 {
		return fmt.Errorf("verify timeout must be positive, got %v", tc.VerifyTimeout)
	}
	if tc.SettleTimeout <= 0 {
		return fmt.Errorf("settle timeout must be positive, got %v", tc.SettleTimeout)
	}
	if tc.ActionTimeout <= 0 {
		return fmt.Errorf("action timeout must be positive, got %v", tc.ActionTimeout)
	}
	if tc.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %v", tc.RequestTimeout)
	}
	if tc.SettleTimeout < tc.VerifyTimeout {
		return fmt.Errorf("settle timeout (%v) should be >= verify timeout (%v)",
			tc.SettleTimeout, tc.VerifyTimeout)
	}
	return nil
}
