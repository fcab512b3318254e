// Package gateway turns a pay call into a response: it validates the request,
// runs the payment handshake, guards the paid action with the idempotency
// ledger and builds the JSON body every front end writes back.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/facilitator"
	"github.com/mark3labs/x402-paygate/ledger"
	"github.com/mark3labs/x402-paygate/validation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxDetailsLength = 200

// Executor is the paid action. It runs only after verification succeeded.
type Executor interface {
	Execute(ctx context.Context, req x402.PaymentRequest, result *x402.VerificationResult) (map[string]any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req x402.PaymentRequest, result *x402.VerificationResult) (map[string]any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, req x402.PaymentRequest, result *x402.VerificationResult) (map[string]any, error) {
	return f(ctx, req, result)
}

// Config holds everything a Service needs. It is built once at startup.
type Config struct {
	Network   x402.NetworkID
	Recipient string

	// DefaultAmount is used when a request carries no amount.
	DefaultAmount string

	Limits   validation.Limits
	Verifier facilitator.Verifier
	Executor Executor

	// Ledger defaults to an in-memory store.
	Ledger ledger.Store

	Timeouts x402.TimeoutConfig
	OnEvent  x402.PaymentCallback
	Logger   *slog.Logger
}

// Service processes pay calls. It is safe for concurrent use.
type Service struct {
	cfg        Config
	controller *Controller
	ledger     ledger.Store
	logger     *slog.Logger
	now        func() time.Time
}

// NewService checks cfg and builds a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("%w: a verifier is required", x402.ErrConfiguration)
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("%w: an executor is required", x402.ErrConfiguration)
	}
	if err := validation.ValidateAddress(cfg.Recipient); err != nil {
		return nil, fmt.Errorf("%w: recipient: %v", x402.ErrConfiguration, err)
	}
	if cfg.Network == "" {
		cfg.Network = x402.NetworkBase
	}
	if cfg.DefaultAmount == "" {
		cfg.DefaultAmount = "5000000"
	}
	if err := validation.ValidateAmount(cfg.DefaultAmount, cfg.Limits.Max); err != nil {
		return nil, fmt.Errorf("%w: default amount: %v", x402.ErrConfiguration, err)
	}
	if cfg.Timeouts == (x402.TimeoutConfig{}) {
		cfg.Timeouts = x402.DefaultTimeouts
	}
	if err := cfg.Timeouts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrConfiguration, err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	store := cfg.Ledger
	if store == nil {
		store = ledger.NewMemoryStore(ledger.DefaultTTL)
	}

	return &Service{
		cfg:        cfg,
		controller: NewController(cfg.Verifier, cfg.Logger),
		ledger:     store,
		logger:     cfg.Logger,
		now:        time.Now,
	}, nil
}

// Network returns the configured network.
func (s *Service) Network() x402.NetworkID {
	return s.cfg.Network
}

// Call is one inbound pay request, independent of its transport.
type Call struct {
	Request x402.PaymentRequest
	Proof   *x402.PaymentProof

	// Resource is the absolute URL or tool name being paid for.
	Resource string

	// Method is "HTTP" or "MCP", used in events.
	Method string
}

// Reply is the response to write back.
type Reply struct {
	Status int
	Body   []byte

	// Challenge is set on 402 replies.
	Challenge *x402.PaymentChallenge

	// Settlement is set when the facilitator settled the payment.
	Settlement *x402.SettlementResponse

	// Replayed is true when Body came from the ledger.
	Replayed bool
}

// Process runs one pay call to completion. It never returns an error: every
// failure is folded into a Reply with a JSON error body.
func (s *Service) Process(ctx context.Context, call Call) *Reply {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeouts.RequestTimeout)
	defer cancel()

	logger := s.logger.With("resource", call.Resource, "network", s.cfg.Network.String())

	req := call.Request
	if req.Amount == "" {
		req.Amount = s.cfg.DefaultAmount
	}
	req, err := validation.ValidatePaymentRequest(req, s.cfg.Limits)
	if err != nil {
		logger.Info("rejected invalid pay request", "error", err)
		return s.errorReply(err, nil)
	}

	challenge := x402.NewChallenge(req.Amount, s.cfg.Network, s.cfg.Recipient)
	challenge.Resource = call.Resource
	challenge.Description = "Payment of " + usd(req.Amount) + " USDC to " + s.cfg.Recipient

	if call.Proof == nil {
		outcome := s.controller.Run(ctx, nil, challenge)
		logger.Info("no payment proof, issuing challenge", "amount", req.Amount)
		return s.paymentRequired(challenge, outcome.Result.Reason)
	}

	key := IdempotencyKey(*call.Proof)
	logger = logger.With("key", key)

	existing, err := s.ledger.Begin(ctx, key)
	if err != nil {
		logger.Error("ledger unavailable", "error", err)
		return s.errorReply(err, nil)
	}
	if existing != nil {
		if existing.State == ledger.StateComplete {
			logger.Info("replaying stored response", "status", existing.StatusCode)
			return s.replay(existing)
		}
		logger.Warn("payment already in flight")
		return s.errorReply(x402.NewPaymentError(x402.ErrCodePaymentInFlight,
			"Payment is already being processed", x402.ErrPaymentInFlight), nil)
	}

	// The claim must be settled even if the caller went away.
	bg := context.WithoutCancel(ctx)

	start := s.now()
	s.emit(x402.PaymentEvent{Type: x402.PaymentEventAttempt, Method: call.Method, URL: call.Resource, Amount: req.Amount,
		Asset: challenge.Requirement().Asset, Network: s.cfg.Network.String(), Recipient: s.cfg.Recipient})

	outcome := s.controller.Run(ctx, call.Proof, challenge)
	switch outcome.State {
	case Unverified:
		s.release(bg, key, logger)
		s.emit(x402.PaymentEvent{Type: x402.PaymentEventFailure, Method: call.Method, URL: call.Resource,
			Amount: req.Amount, Network: s.cfg.Network.String(), Error: x402.ErrPaymentRequired, Duration: s.now().Sub(start)})
		logger.Info("payment not verified", "reason", outcome.Result.Reason)
		return s.paymentRequired(challenge, outcome.Result.Reason)

	case VerificationFailed:
		s.release(bg, key, logger)
		s.emit(x402.PaymentEvent{Type: x402.PaymentEventFailure, Method: call.Method, URL: call.Resource,
			Amount: req.Amount, Network: s.cfg.Network.String(), Error: outcome.Err, Duration: s.now().Sub(start)})
		logger.Error("payment verification failed", "error", outcome.Err)
		return s.errorReply(outcome.Err, nil)
	}

	result := outcome.Result
	if tx := result.TransactionHash; tx != "" {
		if reply := s.claimSettlement(bg, key, tx, logger); reply != nil {
			s.emit(x402.PaymentEvent{Type: x402.PaymentEventFailure, Method: call.Method, URL: call.Resource, Amount: req.Amount,
				Network: s.cfg.Network.String(), Transaction: tx, Error: x402.ErrPaymentUsed, Duration: s.now().Sub(start)})
			return reply
		}
	}
	s.emit(x402.PaymentEvent{Type: x402.PaymentEventSuccess, Method: call.Method, URL: call.Resource, Amount: result.Amount,
		Network: s.cfg.Network.String(), Recipient: s.cfg.Recipient, Payer: result.Payer,
		Transaction: result.TransactionHash, Duration: s.now().Sub(start)})
	logger.Info("payment verified", "payer", result.Payer, "transaction", result.TransactionHash)

	actionCtx, cancelAction := context.WithTimeout(ctx, s.cfg.Timeouts.ActionTimeout)
	actionResult, err := s.execute(actionCtx, req, result, logger)
	cancelAction()

	var reply *Reply
	if err != nil {
		if !errors.Is(err, x402.ErrDownstreamService) {
			err = fmt.Errorf("%w: %v", x402.ErrDownstreamService, err)
		}
		logger.Error("paid action failed after payment was accepted", "error", err)
		reply = s.errorReply(err, map[string]any{
			"paymentAccepted": true,
			"transactionHash": nullable(transactionHash(req, result)),
		})
	} else {
		reply = s.success(req, result, actionResult)
	}
	reply.Settlement = result.Settlement

	s.complete(bg, key, reply, logger)
	if tx := result.TransactionHash; tx != "" {
		s.completeSettlement(bg, tx, key, reply.Status, logger)
	}
	return reply
}

// IdempotencyKey is the ledger key of a proof. The transaction hash a client
// claims in its request is never used: only the proof itself is verified.
func IdempotencyKey(proof x402.PaymentProof) string {
	return "proof:" + proof.Digest()
}

// SettlementKey is the ledger key guarding a settled transaction.
func SettlementKey(tx string) string {
	return "tx:" + tx
}

// claimSettlement makes sure one settled transaction buys at most one action,
// whichever proof carried it. It returns nil when the caller may run the
// action; otherwise the proof claim is completed with the returned reply.
func (s *Service) claimSettlement(ctx context.Context, key, tx string, logger *slog.Logger) *Reply {
	existing, err := s.ledger.Begin(ctx, SettlementKey(tx))
	if err != nil {
		logger.Error("ledger unavailable", "error", err)
		s.release(ctx, key, logger)
		return s.errorReply(err, map[string]any{"paymentAccepted": true, "transactionHash": tx})
	}
	if existing == nil {
		return nil
	}
	logger.Warn("settled transaction already paid for an action", "transaction", tx, "state", existing.State)
	reply := s.errorReply(fmt.Errorf("%w: transaction %s", x402.ErrPaymentUsed, tx), nil)
	s.complete(ctx, key, reply, logger)
	return reply
}

func (s *Service) completeSettlement(ctx context.Context, tx, key string, status int, logger *slog.Logger) {
	marker, err := json.Marshal(map[string]any{"proof": key})
	if err != nil {
		logger.Error("failed to marshal settlement marker", "error", err)
		return
	}
	if err := s.ledger.Complete(ctx, SettlementKey(tx), status, marker); err != nil {
		logger.Error("failed to record settled transaction", "transaction", tx, "error", err)
	}
}

// execute runs the paid action. A panic is turned into a downstream error so
// the claim is still completed with a paymentAccepted reply.
func (s *Service) execute(ctx context.Context, req x402.PaymentRequest, result *x402.VerificationResult, logger *slog.Logger) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("paid action panicked", "panic", r, "stack", string(debug.Stack()))
			out, err = nil, fmt.Errorf("%w: paid action panicked: %v", x402.ErrDownstreamService, r)
		}
	}()
	return s.cfg.Executor.Execute(ctx, req, result)
}

func (s *Service) release(ctx context.Context, key string, logger *slog.Logger) {
	if err := s.ledger.Release(ctx, key); err != nil {
		logger.Warn("failed to release ledger claim", "error", err)
	}
}

func (s *Service) complete(ctx context.Context, key string, reply *Reply, logger *slog.Logger) {
	if err := s.ledger.Complete(ctx, key, reply.Status, reply.Body); err != nil {
		logger.Error("failed to record completed payment", "key", key, "error", err)
	}
}

func (s *Service) emit(event x402.PaymentEvent) {
	if s.cfg.OnEvent == nil {
		return
	}
	event.Timestamp = s.now()
	s.cfg.OnEvent(event)
}

func (s *Service) success(req x402.PaymentRequest, result *x402.VerificationResult, actionResult map[string]any) *Reply {
	body := map[string]any{
		"status":           "success",
		"message":          "Payment verified and processed successfully",
		"wallet":           req.Wallet,
		"paymentAmount":    req.Amount,
		"paymentAmountUSD": usd(req.Amount),
		"paymentRecipient": s.cfg.Recipient,
		"network":          s.cfg.Network.String(),
		"currency":         result.Currency,
		"transactionHash":  nullable(transactionHash(req, result)),
		"timestamp":        s.now().UTC().Format(time.RFC3339),
		"requestId":        uuid.NewString(),
		"x402Payment":      true,
	}
	if result.Payer != "" {
		body["payer"] = result.Payer
	}
	for k, v := range actionResult {
		body[k] = v
	}
	return s.reply(http.StatusOK, body)
}

func (s *Service) paymentRequired(challenge x402.PaymentChallenge, reason string) *Reply {
	body := map[string]any{
		"error":       "Payment required",
		"message":     "Please complete the x402 payment to continue",
		"amount":      challenge.AmountUnits,
		"network":     challenge.Network.String(),
		"recipient":   challenge.Recipient,
		"currency":    challenge.Currency,
		"x402Payment": true,
		"x402Version": 1,
		"accepts":     []x402.PaymentRequirement{challenge.Requirement()},
	}
	if reason != "" && reason != "no payment proof" {
		body["reason"] = reason
	}
	reply := s.reply(http.StatusPaymentRequired, body)
	reply.Challenge = &challenge
	return reply
}

func (s *Service) errorReply(err error, extra map[string]any) *Reply {
	pe := x402.Classify(err)
	body := map[string]any{
		"error": pe.Message,
		"code":  string(pe.Code),
	}
	if pe.Err != nil {
		body["details"] = truncate(pe.Err.Error(), maxDetailsLength)
	}
	for k, v := range extra {
		body[k] = v
	}
	return s.reply(pe.HTTPStatus(), body)
}

func (s *Service) replay(entry *ledger.Entry) *Reply {
	body := entry.Body
	var decoded map[string]any
	if err := json.Unmarshal(entry.Body, &decoded); err == nil {
		decoded["idempotentReplay"] = true
		if b, err := json.Marshal(decoded); err == nil {
			body = b
		}
	}
	return &Reply{Status: entry.StatusCode, Body: body, Replayed: true}
}

func (s *Service) reply(status int, body map[string]any) *Reply {
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("failed to marshal response body", "error", err)
		data = []byte(`{"error":"Internal server error"}`)
		status = http.StatusInternalServerError
	}
	return &Reply{Status: status, Body: data}
}

func transactionHash(req x402.PaymentRequest, result *x402.VerificationResult) string {
	if result != nil && result.TransactionHash != "" {
		return result.TransactionHash
	}
	return req.TransactionHash
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func usd(units string) string {
	v, err := x402.UnitsToUSD(units)
	if err != nil {
		return "0.00"
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
