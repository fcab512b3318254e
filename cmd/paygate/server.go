package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/action"
	"github.com/mark3labs/x402-paygate/config"
	"github.com/mark3labs/x402-paygate/facilitator"
	"github.com/mark3labs/x402-paygate/gateway"
	httpx402 "github.com/mark3labs/x402-paygate/http"
	chix402 "github.com/mark3labs/x402-paygate/http/chi"
	ginx402 "github.com/mark3labs/x402-paygate/http/gin"
	pbx402 "github.com/mark3labs/x402-paygate/http/pocketbase"
	"github.com/mark3labs/x402-paygate/ledger"
	mcpserver "github.com/mark3labs/x402-paygate/mcp/server"
	"github.com/mark3labs/x402-paygate/router"
	"github.com/mark3labs/x402-paygate/validation"
)

const shutdownTimeout = 10 * time.Second

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	envFile := fs.String("env", ".env", "Optional .env file to load")
	port := fs.Int("port", 0, "Listen port (overrides PORT)")
	network := fs.String("network", "", "Network to accept payments on: base or base-sepolia (overrides NETWORK)")
	framework := fs.String("framework", "", "HTTP front end: chi, gin or pocketbase (overrides FRAMEWORK)")
	fs.Parse(args)

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *network != "" {
		cfg.Network = x402.ParseNetwork(*network)
	}
	if *framework != "" {
		cfg.Framework = *framework
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	h, mcp, err := newHandler(cfg, store, logger)
	if err != nil {
		return err
	}

	logger.Info("starting payment gateway",
		"addr", cfg.Addr(),
		"network", cfg.Network,
		"recipient", cfg.SellerWallet,
		"verifier", cfg.Verifier,
		"action", cfg.Action,
		"framework", cfg.Framework,
		"mcp", cfg.MCPEnabled,
	)

	switch cfg.Framework {
	case config.FrameworkPocketBase:
		return servePocketBase(cfg, h, mcp)
	case config.FrameworkGin:
		return serve(ctx, cfg, ginx402.NewEngine(h, ginx402.Options{MCP: mcp, Logger: logger}), logger)
	default:
		return serve(ctx, cfg, chix402.NewRouter(h, chix402.Options{MCP: mcp, Logger: logger}), logger)
	}
}

// newHandler wires the gateway service and returns its HTTP handler and,
// when enabled, the MCP endpoint.
func newHandler(cfg *config.Config, store ledger.Store, logger *slog.Logger) (*httpx402.Handler, http.Handler, error) {
	onEvent := eventLogger(logger)

	verifier, err := newVerifier(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	executor, err := newExecutor(cfg, onEvent, logger)
	if err != nil {
		return nil, nil, err
	}
	maxAmount, err := cfg.MaxAmount()
	if err != nil {
		return nil, nil, err
	}

	service, err := gateway.NewService(gateway.Config{
		Network:       cfg.Network,
		Recipient:     cfg.SellerWallet,
		DefaultAmount: cfg.PaymentAmount,
		Limits:        validation.Limits{Max: maxAmount},
		Verifier:      verifier,
		Executor:      executor,
		Ledger:        store,
		Timeouts:      cfg.Timeouts,
		OnEvent:       onEvent,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, err
	}

	tiers, err := httpx402.NewPriceTiers(cfg.PriceTiers...)
	if err != nil {
		return nil, nil, err
	}
	h, err := httpx402.NewHandler(httpx402.Config{
		Service:    service,
		Tiers:      tiers,
		CORSOrigin: cfg.CORSOrigin,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}

	if !cfg.MCPEnabled {
		return h, nil, nil
	}
	srv, err := mcpserver.New(mcpserver.Config{Service: service, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return h, srv.Handler(), nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newLedger returns the redis store when REDIS_ADDR is set, else an
// in-memory one. The returned func releases the redis pool.
func newLedger(ctx context.Context, cfg *config.Config) (ledger.Store, func(), error) {
	if cfg.RedisAddr == "" {
		return ledger.NewMemoryStore(cfg.LedgerTTL), func() {}, nil
	}
	client, err := ledger.NewRedisClient(ctx, ledger.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", x402.ErrConfiguration, err)
	}
	return ledger.NewRedisStore(client, "paygate:", cfg.LedgerTTL), func() { _ = client.Close() }, nil
}

func newVerifier(cfg *config.Config, logger *slog.Logger) (facilitator.Verifier, error) {
	if cfg.Verifier == config.VerifierRouter {
		return router.NewVerifier(router.VerifierConfig{
			URL:         cfg.RouterURL,
			FallbackURL: cfg.RouterFallbackURL,
			Model:       cfg.RouterModel,
			Prompt:      cfg.DefaultPrompt,
			Timeout:     cfg.Timeouts.VerifyTimeout,
			Logger:      logger,
		}), nil
	}

	var provider facilitator.AuthorizationProvider
	if cfg.CDPAPIKeyName != "" {
		auth, err := facilitator.NewCDPAuth(cfg.CDPAPIKeyName, cfg.CDPAPIKeySecret)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", x402.ErrConfiguration, err)
		}
		provider = auth.Provider()
	}

	client := func(url string) *httpx402.FacilitatorClient {
		return &httpx402.FacilitatorClient{
			BaseURL:               url,
			VerifyTimeout:         cfg.Timeouts.VerifyTimeout,
			SettleTimeout:         cfg.Timeouts.SettleTimeout,
			Authorization:         cfg.FacilitatorAuthorization,
			AuthorizationProvider: provider,
			VerifyOnly:            cfg.VerifyOnly,
			Logger:                logger,
		}
	}

	var primary facilitator.Verifier = client(cfg.FacilitatorURL)
	if cfg.FacilitatorFallbackURL == "" {
		return primary, nil
	}
	return facilitator.WithFallback(primary, client(cfg.FacilitatorFallbackURL), logger), nil
}

func newExecutor(cfg *config.Config, onEvent x402.PaymentCallback, logger *slog.Logger) (gateway.Executor, error) {
	if cfg.Action != config.ActionCompletion {
		return action.Recorder{Logger: logger}, nil
	}
	backend, err := cfg.Backend(onEvent)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("%w: Missing DREAMSROUTER_API_KEY or SELLER_PRIVATE_KEY", x402.ErrConfiguration)
	}
	logger.Info("router backend selected", "backend", backend.Name())

	client := router.NewClient(router.Config{
		URL:         cfg.RouterURL,
		FallbackURL: cfg.RouterFallbackURL,
		Model:       cfg.RouterModel,
		Backend:     backend,
		Logger:      logger,
	})
	return &action.Completion{
		Completer:     client,
		DefaultPrompt: cfg.DefaultPrompt,
		Model:         client.Model(),
		Logger:        logger,
	}, nil
}

func eventLogger(logger *slog.Logger) x402.PaymentCallback {
	return func(ev x402.PaymentEvent) {
		attrs := []any{
			"type", ev.Type,
			"method", ev.Method,
			"url", ev.URL,
			"amount", ev.Amount,
			"network", ev.Network,
		}
		if ev.Payer != "" {
			attrs = append(attrs, "payer", ev.Payer)
		}
		if ev.Transaction != "" {
			attrs = append(attrs, "transaction", ev.Transaction)
		}
		if ev.Duration > 0 {
			attrs = append(attrs, "duration", ev.Duration)
		}
		if ev.Error != nil {
			logger.Warn("payment event", append(attrs, "error", ev.Error)...)
			return
		}
		logger.Info("payment event", attrs...)
	}
}

func serve(ctx context.Context, cfg *config.Config, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// servePocketBase runs the routes inside a PocketBase app. PocketBase owns
// the listener and the signal handling.
func servePocketBase(cfg *config.Config, h *httpx402.Handler, mcp http.Handler) error {
	app := pocketbase.New()
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		pbx402.Register(se.Router, h, mcp)
		return se.Next()
	})
	app.RootCmd.SetArgs([]string{"serve", "--http", "0.0.0.0:" + strconv.Itoa(cfg.Port)})
	return app.Start()
}
