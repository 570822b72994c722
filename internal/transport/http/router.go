package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remitgate/internal/platform/metrics"
	platformmw "remitgate/internal/platform/middleware"
	"remitgate/pkg/platform/httputil"
	"remitgate/pkg/platform/middleware/admin"
	"remitgate/pkg/platform/middleware/metadata"
	"remitgate/pkg/platform/middleware/requesttime"
)

// PublicRoutes is implemented by handlers that serve unauthenticated routes.
type PublicRoutes interface {
	Register(r chi.Router)
}

// AdminRoutes is implemented by handlers mounted behind the admin token.
type AdminRoutes interface {
	RegisterAdmin(r chi.Router)
}

// HealthCheck reports the health of one backing dependency.
type HealthCheck func(ctx context.Context) error

// Deps carries everything the router mounts. Nil handlers are skipped and a
// nil RateLimit leaves the public routes unlimited.
type Deps struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	AdminToken string
	RateLimit  func(http.Handler) http.Handler
	Public     []PublicRoutes
	Admin      []AdminRoutes
	Health     map[string]HealthCheck
}

// healthTimeout bounds each dependency probe.
const healthTimeout = 2 * time.Second

// NewRouter wires middleware, probes, and every handler onto one chi router.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(platformmw.RequestLogger(d.Logger, d.Metrics))
	r.Use(platformmw.Recover(d.Logger))

	r.Get("/healthz", healthHandler(d.Health))

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if d.RateLimit != nil {
			r.Use(d.RateLimit)
		}
		for _, h := range d.Public {
			if h != nil {
				h.Register(r)
			}
		}
	})

	if len(d.Admin) > 0 {
		r.Group(func(r chi.Router) {
			r.Use(admin.RequireAdminToken(d.AdminToken, d.Logger))
			for _, h := range d.Admin {
				if h != nil {
					h.RegisterAdmin(r)
				}
			}
		})
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
