package server

import (
	"net/http"
	"time"

	"github.com/karteio/geosearch/internal/analytics"
	"github.com/karteio/geosearch/internal/auth/apikey"
	"github.com/karteio/geosearch/internal/auth/ratelimit"
	srvmw "github.com/karteio/geosearch/internal/server/middleware"
	"github.com/karteio/geosearch/pkg/health"
	pkgmw "github.com/karteio/geosearch/pkg/middleware"
)

// RouterOptions carries the optional collaborators of the HTTP surface.
type RouterOptions struct {
	// Validator enables API key auth when non-nil.
	Validator *apikey.Validator
	// Limiter enforces per-key rate limits; ignored without a Validator.
	Limiter *ratelimit.Limiter
	// Health serves /health/live and /health/ready when non-nil.
	Health *health.Checker
	// Analytics serves query traffic stats when non-nil.
	Analytics *analytics.Handler
	// RequestTimeout bounds each request; zero disables the timeout.
	RequestTimeout time.Duration
}

// NewRouter wires all routes and the middleware chain.
//
// Route table:
//
//	GET    /api/v1/search              → forward geocoding (GeoJSON)
//	GET    /api/v1/reverse             → reverse geocoding (GeoJSON)
//	POST   /api/v1/documents           → accept documents for indexing
//	GET    /api/v1/documents/{id}      → fetch one document
//	DELETE /api/v1/documents/{id}      → remove a document from the index
//	GET    /api/v1/cache/stats         → result cache counters
//	POST   /api/v1/cache/invalidate    → drop all cached results
//	GET    /api/v1/analytics           → query traffic stats
//	POST   /api/v1/admin/keys          → create API key
//	GET    /api/v1/admin/keys          → list API keys
//	GET    /health/live, /health/ready → health probes (unauthenticated)
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → Auth → RateLimit → Timeout → handler
func NewRouter(h *Handler, admin *AdminHandler, opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	if opts.Health != nil {
		mux.HandleFunc("GET /health/live", opts.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", opts.Health.ReadyHandler())
	}

	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/reverse", h.Reverse)

	mux.HandleFunc("POST /api/v1/documents", h.IngestDocuments)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.GetDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.DeleteDocument)

	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)

	if opts.Analytics != nil {
		mux.HandleFunc("GET /api/v1/analytics", opts.Analytics.Stats)
	}

	if admin != nil {
		mux.HandleFunc("POST /api/v1/admin/keys", admin.CreateKey)
		mux.HandleFunc("GET /api/v1/admin/keys", admin.ListKeys)
	}

	var chain http.Handler = mux
	if opts.RequestTimeout > 0 {
		chain = pkgmw.Timeout(opts.RequestTimeout)(chain)
	}
	if opts.Validator != nil {
		if opts.Limiter != nil {
			chain = srvmw.RateLimit(opts.Limiter)(chain)
		}
		chain = srvmw.Auth(opts.Validator)(chain)
	}
	chain = pkgmw.Metrics()(chain)
	chain = srvmw.CORS(srvmw.DefaultCORSConfig())(chain)
	chain = pkgmw.RequestID()(chain)

	return chain
}
