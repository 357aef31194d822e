package transporthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"protokoll/internal/platform/middleware"
	"protokoll/pkg/platform/httputil"
)

// requestTimeout bounds every handler through the request context.
const requestTimeout = 30 * time.Second

// HealthChecker reports backing-store reachability for /healthz.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewRouter assembles the full middleware chain and mounts the protocol
// handler plus the operational endpoints.
func NewRouter(h *Handler, logger *slog.Logger, health HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(requestTimeout))

	h.Register(r)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if health != nil {
			if err := health.Health(req.Context()); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
