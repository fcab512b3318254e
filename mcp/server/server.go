// Package server exposes the gateway as an MCP tool. The "pay" tool runs the
// same handshake as POST /pay, with the proof read from params._meta.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mark3labs/x402-paygate"
	"github.com/mark3labs/x402-paygate/gateway"
	"github.com/mark3labs/x402-paygate/mcp"
)

// ToolName is the name of the paid tool.
const ToolName = "pay"

// Config configures a Server.
type Config struct {
	Service *gateway.Service

	// Name and Version identify the server in the MCP handshake.
	Name    string
	Version string

	Logger *slog.Logger
}

// Server is an MCP server with the paid "pay" tool.
type Server struct {
	mcpServer *mcpserver.MCPServer
	service   *gateway.Service
	logger    *slog.Logger
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("%w: mcp server needs a gateway service", x402.ErrConfiguration)
	}
	if cfg.Name == "" {
		cfg.Name = "x402-paygate"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version, mcpserver.WithToolCapabilities(false)),
		service:   cfg.Service,
		logger:    cfg.Logger,
	}
	s.mcpServer.AddTool(PayTool(), s.handlePay)
	return s, nil
}

// PayTool describes the "pay" tool.
func PayTool() mcpproto.Tool {
	return mcpproto.NewTool(ToolName,
		mcpproto.WithDescription("Pay in USDC over x402 and run the paid action. "+
			"Call without _meta[\"x402/payment\"] to receive the payment requirements."),
		mcpproto.WithString("wallet",
			mcpproto.Required(),
			mcpproto.Description("Payer wallet address (0x followed by 40 hex characters)"),
		),
		mcpproto.WithString("amount",
			mcpproto.Description("Amount in USDC smallest units (6 decimals). Defaults to the configured price."),
		),
		mcpproto.WithString("prompt",
			mcpproto.Description("Prompt for the completion action"),
		),
		mcpproto.WithString("transactionHash",
			mcpproto.Description("Settlement transaction of an earlier payment, for idempotent retries"),
		),
	)
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler serves the MCP server over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer, mcpserver.WithEndpointPath("/mcp"))
}

func (s *Server) handlePay(ctx context.Context, request mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	req := x402.PaymentRequest{
		Wallet:          request.GetString("wallet", ""),
		Amount:          request.GetString("amount", ""),
		Prompt:          request.GetString("prompt", ""),
		TransactionHash: request.GetString("transactionHash", ""),
	}

	var meta map[string]any
	if request.Params.Meta != nil {
		meta = request.Params.Meta.AdditionalFields
	}
	proof, err := mcp.ProofFromMeta(meta)
	if err != nil {
		s.logger.Info("unreadable payment metadata", "error", err)
		return mcpproto.NewToolResultError(fmt.Sprintf(`{"error":"Invalid payment metadata","code":%q}`, x402.ErrCodeValidation)), nil
	}

	reply := s.service.Process(ctx, gateway.Call{
		Request:  req,
		Proof:    proof,
		Resource: "mcp://tools/" + ToolName,
		Method:   "MCP",
	})
	s.logger.Debug("mcp pay served", "status", reply.Status, "replayed", reply.Replayed)

	return toResult(reply), nil
}

// toResult renders a gateway reply as a tool result. The JSON body is the
// text content; anything but 200 is an error result.
func toResult(reply *gateway.Reply) *mcpproto.CallToolResult {
	var result *mcpproto.CallToolResult
	if reply.Status == http.StatusOK {
		result = mcpproto.NewToolResultText(string(reply.Body))
	} else {
		result = mcpproto.NewToolResultError(string(reply.Body))
	}

	fields := map[string]any{}
	if reply.Settlement != nil {
		fields[mcp.MetaKeyPaymentResponse] = reply.Settlement
	}
	if reply.Challenge != nil {
		fields[mcp.MetaKeyPaymentRequired] = x402.PaymentRequirementsResponse{
			X402Version: 1,
			Error:       "Payment required",
			Accepts:     []x402.PaymentRequirement{reply.Challenge.Requirement()},
		}
	}
	if len(fields) > 0 {
		result.Meta = &mcpproto.Meta{AdditionalFields: fields}
	}
	return result
}
