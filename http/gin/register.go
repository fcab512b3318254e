// Package gin mounts the gateway handler on a Gin engine. It is a thin
// adapter: requests are handed to the http package unchanged.
package gin

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	httpx402 "github.com/mark3labs/x402-paygate/http"
)

// Options configures NewEngine.
type Options struct {
	// MCP is mounted at /mcp when set.
	MCP http.Handler

	Logger *slog.Logger
}

// NewEngine returns a Gin engine with recovery, request logging and the
// gateway routes.
func NewEngine(h *httpx402.Handler, opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), requestLogger(logger))
	r.NoMethod(func(c *gin.Context) {
		h.ApplyCORS(c.Writer.Header())
		h.MethodNotAllowed(c.Writer, c.Request)
	})
	Register(r, h, opts.MCP)
	return r
}

// Register adds the gateway routes to r:
//
//	GET     /health
//	POST    /pay, /api/pay, /pay/:tier
//	OPTIONS on each pay route
//	ANY     /mcp (when mcp is not nil)
func Register(r gin.IRouter, h *httpx402.Handler, mcp http.Handler) {
	g := r.Group("/", func(c *gin.Context) {
		h.ApplyCORS(c.Writer.Header())
		c.Next()
	})

	g.GET("/health", gin.WrapF(h.Health))

	for _, path := range []string{"/pay", "/api/pay"} {
		g.POST(path, gin.WrapF(h.Pay))
		g.OPTIONS(path, gin.WrapF(h.Preflight))
	}
	g.POST("/pay/:tier", func(c *gin.Context) {
		h.PayTier(c.Writer, c.Request, c.Param("tier"))
	})
	g.OPTIONS("/pay/:tier", gin.WrapF(h.Preflight))

	if mcp != nil {
		g.Any("/mcp", gin.WrapH(mcp))
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
