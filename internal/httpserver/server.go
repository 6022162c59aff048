package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tenantfabric/core/pkg/tenantcore"
	tenantmw "github.com/tenantfabric/core/pkg/tenantcore/middleware"
)

// ServerConfig holds the parameters NewServer needs, decoupled from the
// demo's top-level configuration struct.
type ServerConfig struct {
	CORSAllowedOrigins []string
}

// Server holds the demo HTTP server's dependencies.
type Server struct {
	Router    *chi.Mux
	APIRouter chi.Router // authenticated, tenant-scoped /api/v1 sub-router
	Logger    *slog.Logger
	Core      *tenantcore.Core
	Metrics   *prometheus.Registry
	startedAt time.Time
}

// NewServer creates an HTTP server exercising the tenant fabric: global
// middleware, health/metrics endpoints, and an authenticated /api/v1
// sub-router mounted with the fabric's own request middleware.
func NewServer(cfg ServerConfig, logger *slog.Logger, core *tenantcore.Core, metricsReg *prometheus.Registry) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		Core:      core,
		Metrics:   metricsReg,
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/healthz", s.handleHealthz)
	s.Router.Get("/readyz", s.handleReadyz)
	s.Router.Get("/stats", s.handleStats)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(core.Middleware().Handler())

		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			data := tenantmw.FromContext(r.Context())
			Respond(w, http.StatusOK, map[string]string{
				"tenant_id":   data.TenantID.String(),
				"tenant_name": data.TenantName,
			})
		})

		s.APIRouter = r
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.Core.HealthCheck(r.Context()); err != nil {
		s.Logger.Error("readiness check failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	Respond(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	Respond(w, http.StatusOK, s.Core.Stats())
}
