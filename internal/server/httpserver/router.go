package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/klauspost/compress/gzhttp"

	"github.com/yndnr/rowcache/internal/server/httpserver/handler"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Query     handler.Reader
	Refresher handler.Refresher
	Tasks     handler.TaskGetter
	Store     handler.SnapshotInfo

	Logger *slog.Logger

	// APIKey guards every route except /health. Empty serves anonymously.
	APIKey string

	// CORSAllowedOrigins lists browser origins allowed to call the API.
	// Empty disables CORS headers.
	CORSAllowedOrigins []string

	// RateLimiter limits requests per client. Nil disables limiting.
	RateLimiter *RateLimiter

	// Metrics records per-route request metrics. When set, /metrics serves
	// MetricsHandler.
	Metrics        RequestObserver
	MetricsHandler http.Handler

	// EnableAudit logs one line per request.
	EnableAudit bool

	// DisableCompression turns off gzip responses.
	DisableCompression bool
}

// apiRoutes are served behind authentication.
var apiRoutes = []string{
	"GET /data",
	"GET /fetch-data",
	"POST /refresh",
	"GET /task/{id}",
	"GET /status",
}

// NewRouter builds the HTTP handler with every route and its middleware.
//
// Middleware order: RequestID, Recover, Audit, Instrument, CORS, Auth,
// RateLimit. Auth runs before the rate limiter so rejected credentials
// never consume a client's budget.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	h := handler.New(handler.Deps{
		Query:     cfg.Query,
		Refresher: cfg.Refresher,
		Tasks:     cfg.Tasks,
		Store:     cfg.Store,
		Logger:    cfg.Logger,
	})

	common := func(route string) []Middleware {
		mws := []Middleware{RequestID(cfg.Logger), Recover()}
		if cfg.EnableAudit {
			mws = append(mws, Audit())
		}
		mws = append(mws, Instrument(route, cfg.Metrics))
		if len(cfg.CORSAllowedOrigins) > 0 {
			mws = append(mws, CORS(cfg.CORSAllowedOrigins))
		}
		return mws
	}
	protected := func(route string) []Middleware {
		mws := append(common(route), Auth(cfg.APIKey))
		if cfg.RateLimiter != nil {
			mws = append(mws, cfg.RateLimiter.Middleware())
		}
		return mws
	}

	mux := http.NewServeMux()

	// Liveness probes never need credentials.
	mux.Handle("GET /health", Chain(h, common("GET /health")...))

	for _, route := range apiRoutes {
		mux.Handle(route, Chain(h, protected(route)...))
	}

	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", Chain(cfg.MetricsHandler, protected("GET /metrics")...))
	}

	if len(cfg.CORSAllowedOrigins) > 0 {
		mux.Handle("OPTIONS /", Chain(http.NotFoundHandler(), common("OPTIONS")...))
	}

	// Anything unmatched is authenticated before it learns whether the
	// path or method exists.
	mux.Handle("/", Chain(unmatched(h, cfg.MetricsHandler), protected("unmatched")...))

	if cfg.DisableCompression {
		return mux
	}
	return gzhttp.GzipHandler(mux)
}

// unmatched answers requests no route pattern accepted with the mux's own
// 404 or 405.
func unmatched(h http.Handler, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", h)
	for _, route := range apiRoutes {
		mux.Handle(route, h)
	}
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}
