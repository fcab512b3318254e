// Package action holds the paid actions a gateway service runs once a
// payment has been verified.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/gateway"
	"github.com/mark3labs/x402-paygate/router"
)

// Recorder acknowledges the accepted payment. It keeps no state of its own;
// the ledger stores the response under the transaction hash.
type Recorder struct {
	Logger *slog.Logger
}

var _ gateway.Executor = Recorder{}

// Execute implements gateway.Executor.
func (r Recorder) Execute(ctx context.Context, req x402.PaymentRequest, result *x402.VerificationResult) (map[string]any, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var tx string
	if result != nil {
		tx = result.TransactionHash
	}
	logger.Info("payment recorded", "wallet", req.Wallet, "amount", req.Amount, "transaction", tx)
	return map[string]any{
		"action":   "record",
		"recorded": true,
	}, nil
}

// Completer produces a chat completion. *router.Client implements it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (*router.ChatResponse, error)
}

// Completion asks the payment router for a completion of the caller's
// prompt.
type Completion struct {
	Completer Completer

	// DefaultPrompt is used when the request has no prompt.
	DefaultPrompt string

	// Model is reported when the router response does not name one.
	Model string

	Logger *slog.Logger
}

var _ gateway.Executor = (*Completion)(nil)

// Execute implements gateway.Executor. Failures wrap
// x402.ErrDownstreamService; the payment has been consumed by then.
func (c *Completion) Execute(ctx context.Context, req x402.PaymentRequest, result *x402.VerificationResult) (map[string]any, error) {
	if c.Completer == nil {
		return nil, fmt.Errorf("%w: no completion client configured", x402.ErrConfiguration)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = c.DefaultPrompt
	}
	if prompt == "" {
		prompt = router.DefaultVerifyPrompt
	}

	resp, err := c.Completer.Complete(ctx, prompt)
	if err != nil {
		c.logger().Error("completion failed", "wallet", req.Wallet, "error", err)
		if errors.Is(err, x402.ErrDownstreamService) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", x402.ErrDownstreamService, err)
	}

	model := resp.Model
	if model == "" {
		model = c.Model
	}
	c.logger().Info("completion served", "wallet", req.Wallet, "model", model)
	return map[string]any{
		"model":      model,
		"modelReply": resp.Text(),
	}, nil
}

func (c *Completion) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
