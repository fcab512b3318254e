// Package router talks to the paid AI completion router. Requests are paid
// either with an API key or by answering the router's 402 with a signed
// x402 payment.
package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/mark3labs/x402-paygate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultURL         = "https://router.daydreams.systems/v1/chat/completions"
	DefaultFallbackURL = "https://api-beta.daydreams.systems/v1/chat/completions"
	DefaultModel       = "google-vertex/gemini-2.5-flash"
)

const maxResponseBody = 1 << 20

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is an OpenAI-style chat completion request.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Choice is one completion candidate.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// ChatResponse is an OpenAI-style chat completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Text returns the content of the first choice.
func (r *ChatResponse) Text() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Config configures a Client.
type Config struct {
	URL         string
	FallbackURL string
	Model       string

	// Backend pays for requests. Nil sends them unauthenticated.
	Backend Backend

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client posts chat completions to the router.
type Client struct {
	url         string
	fallbackURL string
	model       string
	http        *http.Client
	logger      *slog.Logger
}

// NewClient builds a Client. The backend wraps the HTTP client's transport.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		*hc = *cfg.HTTPClient
	}
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	hc.Transport = base
	if cfg.Backend != nil {
		hc.Transport = cfg.Backend.Transport(base)
	}

	return &Client{
		url:         cfg.URL,
		fallbackURL: cfg.FallbackURL,
		model:       cfg.Model,
		http:        hc,
		logger:      cfg.Logger,
	}
}

// Model returns the model requested by Complete.
func (c *Client) Model() string {
	return c.model
}

// Complete sends prompt as a single user message. Any failure wraps
// x402.ErrDownstreamService.
func (c *Client) Complete(ctx context.Context, prompt string) (*ChatResponse, error) {
	resp, err := c.Post(ctx, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrDownstreamService, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read router response: %v", x402.ErrDownstreamService, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: router API error: %d - %s", x402.ErrDownstreamService, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chat ChatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, fmt.Errorf("%w: failed to decode router response: %v", x402.ErrDownstreamService, err)
	}
	if chat.Model == "" {
		chat.Model = c.model
	}
	return &chat, nil
}

// Post sends a completion request with extra headers and returns the raw
// response. A 404 from the primary URL is retried once against the fallback.
func (c *Client) Post(ctx context.Context, prompt string, header http.Header) (*http.Response, error) {
	payload, err := json.Marshal(ChatRequest{
		Model:    c.model,
		Messages: []Message{{Role: "user", Content: prompt}},
		Stream:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	resp, err := c.do(ctx, c.url, payload, header)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusNotFound || c.fallbackURL == "" || c.fallbackURL == c.url {
		return resp, nil
	}

	resp.Body.Close()
	c.logger.Warn("router returned 404, trying fallback", "url", c.url, "fallback", c.fallbackURL)
	return c.do(ctx, c.fallbackURL, payload, header)
}

func (c *Client) do(ctx context.Context, url string, payload []byte, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}
