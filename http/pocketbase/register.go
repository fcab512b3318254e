// Package pocketbase mounts the gateway handler on a PocketBase router. It
// translates core.RequestEvent to net/http and delegates everything else to
// the http package.
//
//	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
//	    pocketbase.Register(se.Router, handler, nil)
//	    return se.Next()
//	})
package pocketbase

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"

	httpx402 "github.com/mark3labs/x402-paygate/http"
)

// Register adds the gateway routes to r:
//
//	GET     /health
//	POST    /pay, /api/pay, /pay/{tier}
//	OPTIONS on each pay route
//	ANY     /mcp (when mcp is not nil)
func Register(r *router.Router[*core.RequestEvent], h *httpx402.Handler, mcp http.Handler) {
	r.GET("/health", wrap(h, h.Health))

	for _, path := range []string{"/pay", "/api/pay"} {
		r.POST(path, wrap(h, h.Pay))
		r.OPTIONS(path, wrap(h, h.Preflight))
	}
	r.POST("/pay/{tier}", func(e *core.RequestEvent) error {
		h.ApplyCORS(e.Response.Header())
		h.PayTier(e.Response, e.Request, e.Request.PathValue("tier"))
		return nil
	})
	r.OPTIONS("/pay/{tier}", wrap(h, h.Preflight))

	if mcp != nil {
		r.Any("/mcp", func(e *core.RequestEvent) error {
			mcp.ServeHTTP(e.Response, e.Request)
			return nil
		})
	}
}

func wrap(h *httpx402.Handler, fn http.HandlerFunc) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		h.ApplyCORS(e.Response.Header())
		fn(e.Response, e.Request)
		return nil
	}
}
