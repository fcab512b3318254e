// Package http serves the payment gateway over net/http and provides the
// x402 client side: a facilitator client and a paying RoundTripper.
package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/gateway"
	"github.com/mark3labs/x402-paygate/http/internal/helpers"
)

// PriceTier is a fixed USD price reachable at /pay/{USD}.
type PriceTier struct {
	USD   string
	Units string
}

// NewPriceTiers converts whole or fractional USD prices to tiers.
func NewPriceTiers(usd ...string) ([]PriceTier, error) {
	tiers := make([]PriceTier, 0, len(usd))
	for _, p := range usd {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		units, err := x402.USDToUnits(p)
		if err != nil {
			return nil, fmt.Errorf("%w: price tier %q: %v", x402.ErrConfiguration, p, err)
		}
		tiers = append(tiers, PriceTier{USD: p, Units: units})
	}
	return tiers, nil
}

// Config configures a Handler.
type Config struct {
	Service *gateway.Service

	// Tiers are the prices served at /pay/{tier}.
	Tiers []PriceTier

	// CORSOrigin is the Access-Control-Allow-Origin value. Empty means "*".
	CORSOrigin string

	Logger *slog.Logger
}

// Handler holds the HTTP endpoints of the gateway. Framework adapters call
// its methods directly.
type Handler struct {
	service *gateway.Service
	tiers   []PriceTier
	cors    helpers.CORS
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("%w: handler needs a gateway service", x402.ErrConfiguration)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cors := helpers.DefaultCORS
	if cfg.CORSOrigin != "" {
		cors.Origin = cfg.CORSOrigin
	}
	return &Handler{
		service: cfg.Service,
		tiers:   cfg.Tiers,
		cors:    cors,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Health reports liveness and the configured network.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	helpers.WriteValue(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"network":   h.service.Network().String(),
	})
}

// Pay handles POST /pay and /api/pay.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	h.pay(w, r, "")
}

// PayTier handles POST /pay/{tier}. The tier price replaces any amount in
// the body.
func (h *Handler) PayTier(w http.ResponseWriter, r *http.Request, tier string) {
	for _, t := range h.tiers {
		if t.USD == tier {
			h.pay(w, r, t.Units)
			return
		}
	}
	h.logger.Info("unsupported price tier", "tier", tier)
	helpers.WriteValue(w, http.StatusBadRequest, map[string]any{
		"error": "Unsupported amount. Use " + h.tierList() + ".",
		"code":  string(x402.ErrCodeValidation),
	})
}

// Preflight answers OPTIONS with the CORS headers and an empty 200.
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	h.cors.Apply(w.Header())
	w.WriteHeader(http.StatusOK)
}

// MethodNotAllowed answers pay routes hit with the wrong method.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "POST, OPTIONS")
	helpers.WriteValue(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed. Use POST."})
}

// CORS sets the Access-Control headers on every response.
func (h *Handler) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.cors.Apply(w.Header())
		next.ServeHTTP(w, r)
	})
}

// ApplyCORS sets the Access-Control headers on hdr. Adapters whose
// frameworks own the middleware chain use it.
func (h *Handler) ApplyCORS(hdr http.Header) {
	h.cors.Apply(hdr)
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request, amount string) {
	req, err := helpers.DecodePaymentRequest(r)
	if err != nil {
		h.logger.Info("unreadable pay request", "path", r.URL.Path, "error", err)
		helpers.WriteError(w, err)
		return
	}
	if amount != "" {
		req.Amount = amount
	}

	reply := h.service.Process(r.Context(), gateway.Call{
		Request:  req,
		Proof:    helpers.ExtractProof(r.Header),
		Resource: helpers.ResourceURL(r),
		Method:   "HTTP",
	})

	if err := helpers.AddPaymentResponseHeader(w, reply.Settlement); err != nil {
		h.logger.Warn("failed to encode settlement header", "error", err)
	}
	h.logger.Debug("pay request served", "path", r.URL.Path, "status", reply.Status, "replayed", reply.Replayed)
	helpers.WriteJSON(w, reply.Status, reply.Body)
}

func (h *Handler) tierList() string {
	names := make([]string, len(h.tiers))
	for i, t := range h.tiers {
		names[i] = t.USD
	}
	switch len(names) {
	case 0:
		return "a configured price tier"
	case 1:
		return names[0]
	case 2:
		return names[0] + " or " + names[1]
	default:
		return strings.Join(names[:len(names)-1], ", ") + ", or " + names[len(names)-1]
	}
}
