// Package config loads the gateway settings from the environment, with an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/evm"
	"github.com/mark3labs/x402-paygate/ledger"
	"github.com/mark3labs/x402-paygate/router"
	"github.com/mark3labs/x402-paygate/validation"
)

// Verifier kinds.
const (
	VerifierFacilitator = "facilitator"
	VerifierRouter      = "router"
)

// Action kinds.
const (
	ActionRecord     = "record"
	ActionCompletion = "completion"
)

// Framework kinds.
const (
	FrameworkChi        = "chi"
	FrameworkGin        = "gin"
	FrameworkPocketBase = "pocketbase"
)

const (
	DefaultSellerWallet   = "0x6a40e304193d2BD3fa7479c35a45bA4CCDBb4683"
	DefaultPaymentAmount  = "5000000"
	DefaultMaxAmount      = "1000000000000"
	DefaultFacilitatorURL = "https://x402.org/facilitator"
	DefaultPort           = 3000
)

// Config is the gateway configuration.
type Config struct {
	Network          x402.NetworkID
	PaymentAmount    string
	MaxPaymentAmount string
	SellerWallet     string
	PriceTiers       []string

	Verifier string
	Action   string

	FacilitatorURL           string
	FacilitatorFallbackURL   string
	FacilitatorAuthorization string
	CDPAPIKeyName            string
	CDPAPIKeySecret          string
	VerifyOnly               bool

	RouterURL         string
	RouterFallbackURL string
	RouterModel       string
	DefaultPrompt     string

	// Router credentials. The API key wins when several are set.
	RouterAPIKey           string
	SellerPrivateKey       string
	SellerMnemonic         string
	SellerAccountIndex     uint32
	SellerKeystore         string
	SellerKeystorePassword string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LedgerTTL     time.Duration

	Framework  string
	MCPEnabled bool
	CORSOrigin string
	Port       int

	LogLevel  slog.Level
	LogFormat string

	Timeouts x402.TimeoutConfig
}

// Load reads the given .env files (".env" when none are named) and then the
// environment. Missing files are not an error.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: load %s: %v", x402.ErrConfiguration, f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv and validates it.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{getenv: getenv}
	cfg := &Config{
		Network:                  x402.ParseNetwork(e.str("NETWORK", "base")),
		PaymentAmount:            e.str("PAYMENT_AMOUNT", DefaultPaymentAmount),
		MaxPaymentAmount:         e.str("MAX_PAYMENT_AMOUNT", DefaultMaxAmount),
		SellerWallet:             e.str("SELLER_WALLET", DefaultSellerWallet),
		PriceTiers:               e.list("PRICE_TIERS", "5,10,100"),
		Verifier:                 strings.ToLower(e.str("VERIFIER", VerifierFacilitator)),
		Action:                   strings.ToLower(e.str("ACTION", ActionRecord)),
		FacilitatorURL:           strings.TrimRight(e.str("FACILITATOR_URL", DefaultFacilitatorURL), "/"),
		FacilitatorFallbackURL:   strings.TrimRight(e.str("FACILITATOR_FALLBACK_URL", ""), "/"),
		FacilitatorAuthorization: e.str("FACILITATOR_AUTHORIZATION", ""),
		CDPAPIKeyName:            e.str("CDP_API_KEY_NAME", ""),
		CDPAPIKeySecret:          e.str("CDP_API_KEY_SECRET", ""),
		RouterURL:                e.str("ROUTER_API_URL", router.DefaultURL),
		RouterFallbackURL:        e.str("ROUTER_FALLBACK_URL", router.DefaultFallbackURL),
		RouterModel:              e.str("ROUTER_MODEL", router.DefaultModel),
		DefaultPrompt:            e.str("DEFAULT_PROMPT", router.DefaultVerifyPrompt),
		RouterAPIKey:             e.str("DREAMSROUTER_API_KEY", ""),
		SellerPrivateKey:         e.str("SELLER_PRIVATE_KEY", ""),
		SellerMnemonic:           e.str("SELLER_MNEMONIC", ""),
		SellerKeystore:           e.str("SELLER_KEYSTORE", ""),
		SellerKeystorePassword:   getenv("SELLER_KEYSTORE_PASSWORD"),
		RedisAddr:                e.str("REDIS_ADDR", ""),
		RedisPassword:            getenv("REDIS_PASSWORD"),
		Framework:                strings.ToLower(e.str("FRAMEWORK", FrameworkChi)),
		CORSOrigin:               e.str("CORS_ORIGIN", "*"),
		LogFormat:                strings.ToLower(e.str("LOG_FORMAT", "text")),
	}

	cfg.VerifyOnly = e.bool("VERIFY_ONLY", false)
	cfg.MCPEnabled = e.bool("MCP_ENABLED", false)
	cfg.Port = e.int("PORT", DefaultPort)
	cfg.RedisDB = e.int("REDIS_DB", 0)
	cfg.SellerAccountIndex = uint32(e.int("SELLER_ACCOUNT_INDEX", 0))
	cfg.LedgerTTL = e.duration("LEDGER_TTL", ledger.DefaultTTL)
	cfg.LogLevel = e.level("LOG_LEVEL", slog.LevelInfo)
	cfg.Timeouts = x402.TimeoutConfig{
		VerifyTimeout:  e.duration("VERIFY_TIMEOUT", x402.DefaultTimeouts.VerifyTimeout),
		SettleTimeout:  e.duration("SETTLE_TIMEOUT", x402.DefaultTimeouts.SettleTimeout),
		ActionTimeout:  e.duration("ACTION_TIMEOUT", x402.DefaultTimeouts.ActionTimeout),
		RequestTimeout: e.duration("REQUEST_TIMEOUT", x402.DefaultTimeouts.RequestTimeout),
	}

	if err := e.err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first setting the gateway cannot start with.
func (c *Config) Validate() error {
	if err := validation.ValidateAddress(c.SellerWallet); err != nil {
		return fmt.Errorf("%w: SELLER_WALLET: %v", x402.ErrConfiguration, err)
	}
	maxAmount, err := c.MaxAmount()
	if err != nil {
		return err
	}
	if err := validation.ValidateAmount(c.PaymentAmount, maxAmount); err != nil {
		return fmt.Errorf("%w: PAYMENT_AMOUNT: %v", x402.ErrConfiguration, err)
	}
	for _, tier := range c.PriceTiers {
		if _, err := x402.USDToUnits(tier); err != nil {
			return fmt.Errorf("%w: PRICE_TIERS: %q: %v", x402.ErrConfiguration, tier, err)
		}
	}

	switch c.Verifier {
	case VerifierFacilitator:
		if c.FacilitatorURL == "" {
			return fmt.Errorf("%w: FACILITATOR_URL is empty", x402.ErrConfiguration)
		}
		if (c.CDPAPIKeyName == "") != (c.CDPAPIKeySecret == "") {
			return fmt.Errorf("%w: CDP_API_KEY_NAME and CDP_API_KEY_SECRET must be set together", x402.ErrConfiguration)
		}
	case VerifierRouter:
	default:
		return fmt.Errorf("%w: unknown VERIFIER %q", x402.ErrConfiguration, c.Verifier)
	}

	if c.SellerPrivateKey != "" {
		if _, err := evm.ParsePrivateKey(c.SellerPrivateKey); err != nil {
			return fmt.Errorf("%w: SELLER_PRIVATE_KEY: %v", x402.ErrConfiguration, err)
		}
	}

	switch c.Action {
	case ActionRecord:
	case ActionCompletion:
		if !c.HasRouterCredential() {
			return fmt.Errorf("%w: ACTION=completion needs DREAMSROUTER_API_KEY or a seller key", x402.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown ACTION %q", x402.ErrConfiguration, c.Action)
	}

	switch c.Framework {
	case FrameworkChi, FrameworkGin, FrameworkPocketBase:
	default:
		return fmt.Errorf("%w: unknown FRAMEWORK %q", x402.ErrConfiguration, c.Framework)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown LOG_FORMAT %q", x402.ErrConfiguration, c.LogFormat)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: PORT %d out of range", x402.ErrConfiguration, c.Port)
	}
	if err := c.Timeouts.Validate(); err != nil {
		return fmt.Errorf("%w: %v", x402.ErrConfiguration, err)
	}
	return nil
}

// MaxAmount parses MAX_PAYMENT_AMOUNT.
func (c *Config) MaxAmount() (*big.Int, error) {
	v, err := x402.ParseUnits(c.MaxPaymentAmount)
	if err != nil || v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: MAX_PAYMENT_AMOUNT %q must be a positive integer", x402.ErrConfiguration, c.MaxPaymentAmount)
	}
	return v, nil
}

// HasRouterCredential reports whether any router credential is set.
func (c *Config) HasRouterCredential() bool {
	return c.RouterAPIKey != "" || c.SellerPrivateKey != "" || c.SellerMnemonic != "" || c.SellerKeystore != ""
}

// Backend returns how router requests are paid for: the API key when set,
// else a signer built from the seller key material. It returns nil when no
// credential is configured.
func (c *Config) Backend(onEvent x402.PaymentCallback) (router.Backend, error) {
	if c.RouterAPIKey != "" {
		return router.APIKeyBackend{Key: c.RouterAPIKey}, nil
	}
	signer, err := c.SellerSigner()
	if err != nil || signer == nil {
		return nil, err
	}
	return router.PrivateKeyBackend{Signer: signer, OnEvent: onEvent}, nil
}

// SellerSigner builds an EVM signer from the seller key material. The raw
// key wins over the mnemonic, which wins over the keystore. It returns nil
// when none is set.
func (c *Config) SellerSigner() (*evm.Signer, error) {
	var key evm.SignerOption
	switch {
	case c.SellerPrivateKey != "":
		key = evm.WithPrivateKey(c.SellerPrivateKey)
	case c.SellerMnemonic != "":
		key = evm.WithMnemonic(c.SellerMnemonic, c.SellerAccountIndex)
	case c.SellerKeystore != "":
		key = evm.WithKeystore(c.SellerKeystore, c.SellerKeystorePassword)
	default:
		return nil, nil
	}
	signer, err := evm.NewSigner(key, evm.WithNetwork(c.Network))
	if err != nil {
		return nil, fmt.Errorf("%w: seller signer: %v", x402.ErrConfiguration, err)
	}
	return signer, nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// env reads typed values and collects parse errors.
type env struct {
	getenv func(string) string
	errs   []error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *env) list(key, def string) []string {
	var out []string
	for _, p := range strings.Split(e.str(key, def), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e *env) bool(key string, def bool) bool {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

func (e *env) int(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a non-negative integer", key, v))
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a positive duration", key, v))
		return def
	}
	return d
}

func (e *env) level(key string, def slog.Level) slog.Level {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %q is not a log level", key, v))
		return def
	}
	return l
}

func (e *env) err() error {
	if len(e.errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %v", x402.ErrConfiguration, errors.Join(e.errs...))
}
