package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/evm"
	httpx402 "github.com/mark3labs/x402-paygate/http"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// clientResult is what runClient prints.
type clientResult struct {
	Status     int                      `json:"status"`
	Payer      string                   `json:"payer"`
	Settlement *x402.SettlementResponse `json:"settlement,omitempty"`
	Body       any                      `json:"body"`
}

func runClient(args []string) error {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("client", flag.ExitOnError)
	url := fs.String("url", "http://localhost:3000/pay", "Gateway pay endpoint")
	wallet := fs.String("wallet", "", "Wallet recorded with the payment (required)")
	amount := fs.String("amount", "", "Amount in USDC smallest units (optional)")
	prompt := fs.String("prompt", "", "Prompt for the completion action (optional)")
	network := fs.String("network", "base", "Network to pay on (base, base-sepolia)")
	key := fs.String("key", os.Getenv("SELLER_PRIVATE_KEY"), "Private key, hex (defaults to SELLER_PRIVATE_KEY)")
	maxAmount := fs.String("max", "", "Refuse to pay more than this many smallest units (optional)")
	delay := fs.Duration("delay", 5*time.Second, "Wait between the 402 and the paid retry")
	timeout := fs.Duration("timeout", 2*time.Minute, "Overall request timeout")
	verbose := fs.Bool("verbose", false, "Log payment events")
	fs.Parse(args)

	if *wallet == "" {
		fs.PrintDefaults()
		return fmt.Errorf("-wallet is required")
	}
	if *key == "" {
		return fmt.Errorf("-key or SELLER_PRIVATE_KEY is required")
	}

	opts := []evm.SignerOption{
		evm.WithPrivateKey(*key),
		evm.WithNetwork(x402.ParseNetwork(*network)),
	}
	if *maxAmount != "" {
		opts = append(opts, evm.WithMaxAmountPerCall(*maxAmount))
	}
	signer, err := evm.NewSigner(opts...)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	clientOpts := []httpx402.ClientOption{
		httpx402.WithSigner(signer),
		httpx402.WithRetryDelay(*delay),
		httpx402.WithTimeout(*timeout),
	}
	if *verbose {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		clientOpts = append(clientOpts, httpx402.WithPaymentCallbacks(eventLogger(logger)))
	}
	client, err := httpx402.NewClient(clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	result, err := pay(context.Background(), client, *url, x402.PaymentRequest{
		Wallet: *wallet,
		Amount: *amount,
		Prompt: *prompt,
	})
	if err != nil {
		return err
	}
	result.Payer = signer.Address().Hex()

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if result.Status != http.StatusOK {
		return fmt.Errorf("gateway answered %d", result.Status)
	}
	return nil
}

// pay POSTs req to url. The client's transport answers the 402 challenge.
func pay(ctx context.Context, client *httpx402.Client, url string, req x402.PaymentRequest) (*clientResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	result := &clientResult{
		Status:     resp.StatusCode,
		Settlement: httpx402.GetSettlement(resp),
	}
	if err := json.Unmarshal(body, &result.Body); err != nil {
		result.Body = string(body)
	}
	return result, nil
}
