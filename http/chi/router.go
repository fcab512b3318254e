// Package chi mounts the gateway handler on a Chi router. This is the
// default front end.
package chi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpx402 "github.com/mark3labs/x402-paygate/http"
)

// Options configures NewRouter.
type Options struct {
	// MCP is mounted at /mcp when set.
	MCP http.Handler

	Logger *slog.Logger
}

// NewRouter builds the gateway routes:
//
//	GET     /health
//	POST    /pay, /api/pay, /pay/{tier}
//	OPTIONS on each pay route
//	*       /mcp (when Options.MCP is set)
func NewRouter(h *httpx402.Handler, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(h.CORS)

	r.Get("/health", h.Health)

	for _, path := range []string{"/pay", "/api/pay"} {
		r.Post(path, h.Pay)
		r.Options(path, h.Preflight)
	}
	r.Post("/pay/{tier}", func(w http.ResponseWriter, req *http.Request) {
		h.PayTier(w, req, chi.URLParam(req, "tier"))
	})
	r.Options("/pay/{tier}", h.Preflight)

	if opts.MCP != nil {
		r.Handle("/mcp", opts.MCP)
	}

	r.MethodNotAllowed(h.MethodNotAllowed)
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
