package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/metastore-go/internal/server/httpserver/handler"
	"github.com/yndnr/metastore-go/internal/telemetry/metric"
	"github.com/yndnr/metastore-go/pkg/token"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	Handler *handler.Handler
	Logger  *slog.Logger

	// Metrics enables request metrics and the /metrics route.
	Metrics     *metric.Registry
	MetricsPath string

	// AdminToken is the bearer token of /admin routes. AdminTokenHash is
	// its hex SHA-256 and is used when AdminToken is empty. Both empty
	// disables the check.
	AdminToken     string
	AdminTokenHash string

	// AdminAllowList restricts /admin routes by CIDR. Empty allows all.
	AdminAllowList []string

	// AdminRateLimit is the per-client admin request rate per second.
	AdminRateLimit float64
	AdminRateBurst int

	// EnableAudit logs every request.
	EnableAudit bool
}

// NewRouter builds the route table with per-group middleware.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := cfg.Handler

	common := func(route string) []Middleware {
		mws := []Middleware{RequestID(log), Recover(), Trace(route), Metrics(cfg.Metrics, route)}
		if cfg.EnableAudit {
			mws = append(mws, Audit())
		}
		return mws
	}

	mux := http.NewServeMux()

	probe := Chain(h, RequestID(log), Recover())
	mux.Handle("GET /health", probe)
	mux.Handle("GET /ready", probe)

	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, Chain(cfg.Metrics.Handler(), Recover()))
	}

	kv := func(pattern, route string) {
		mux.Handle(pattern, Chain(h, common(route)...))
	}
	kv("GET /v1/kv/{store}/{key...}", "/v1/kv")
	kv("PUT /v1/kv/{store}/{key...}", "/v1/kv")
	kv("DELETE /v1/kv/{store}/{key...}", "/v1/kv")

	adminHash := cfg.AdminTokenHash
	if cfg.AdminToken != "" {
		adminHash = token.Hash(cfg.AdminToken)
	}
	admin := func(pattern, route string) {
		mws := append(common(route),
			NetworkACL(cfg.AdminAllowList, log),
			RateLimit(cfg.AdminRateLimit, cfg.AdminRateBurst, cfg.Metrics, route),
			AdminAuth(adminHash),
		)
		mux.Handle(pattern, Chain(h, mws...))
	}
	admin("GET /admin/v1/status", "/admin/v1/status")
	admin("GET /admin/v1/snapshots", "/admin/v1/snapshots")
	admin("POST /admin/v1/checkpoint", "/admin/v1/checkpoint")
	admin("POST /admin/v1/snapshots/sweep", "/admin/v1/snapshots/sweep")

	return mux
}
