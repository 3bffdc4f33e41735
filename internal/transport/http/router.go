// Package httptransport is the thin HTTP layer: routing, authentication, and
// JSON translation. Handlers delegate to the domain services and never hold
// business rules.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/pkg/platform/httputil"
)

// Services collects the domain surfaces the API exposes.
type Services struct {
	Containers ContainerService
	Custody    CustodyService
	Retention  RetentionService
	Approvals  ApprovalService
	Requests   RequestService
	Audit      AuditService
}

// NewRouter assembles the full API. /healthz and /metrics are unauthenticated;
// everything under /v1 requires a bearer token.
func NewRouter(services Services, verifier TokenVerifier, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireAuth(verifier, logger))

		newContainerHandler(services.Containers, services.Custody, logger).Register(r)
		newRetentionHandler(services.Retention, logger).Register(r)
		newApprovalHandler(services.Approvals, logger).Register(r)
		newRequestHandler(services.Requests, logger).Register(r)
		newAuditHandler(services.Audit, logger).Register(r)
	})

	return r
}
