// internal/server/server.go
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"libraryhub/internal/catalog"
	"libraryhub/internal/circulation"
	"libraryhub/internal/clock"
	"libraryhub/internal/config"
	"libraryhub/internal/events"
	"libraryhub/internal/eventstore"
	"libraryhub/internal/membership"
	"libraryhub/pkg/web"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 15 * time.Second
	healthTimeout     = 2 * time.Second
)

// Deps are the process-wide resources the server is built from.
type Deps struct {
	DB        *sqlx.DB
	Config    *config.Config
	Clock     clock.Clock
	Publisher events.Publisher
	Registry  *prometheus.Registry
	Log       *zap.Logger
}

// Server wires the domain services behind one chi router.
type Server struct {
	Catalog     catalog.Service
	Membership  membership.Service
	Circulation circulation.Service

	db        *sqlx.DB
	publisher events.Publisher
	log       *zap.Logger
	router    chi.Router
}

// CirculationOptions maps configuration onto the lending rules.
func CirculationOptions(cfg *config.Config) circulation.Options {
	return circulation.Options{
		LoanPeriodDays: cfg.LoanPeriodDays,
		MaxActiveLoans: cfg.MaxActiveLoans,
		AdminPolicy:    circulation.AdminPolicy(cfg.AdminLoanPolicy),
	}
}

// NewCirculation builds the circulation service alone, for the sweep-overdue command.
func NewCirculation(deps Deps) circulation.Service {
	es := eventstore.NewEventStore(deps.DB)
	return circulation.NewService(deps.DB, es, deps.Publisher, deps.Clock,
		circulation.NewMetrics(deps.Registry), deps.Log, CirculationOptions(deps.Config))
}

func New(deps Deps) *Server {
	es := eventstore.NewEventStore(deps.DB)
	tokens := membership.NewTokenIssuer(deps.Config.JWTSecret, deps.Clock)

	s := &Server{
		Catalog:    catalog.NewService(deps.DB, es, deps.Clock, deps.Log),
		Membership: membership.NewService(deps.DB, es, tokens, deps.Clock, deps.Log),
		Circulation: circulation.NewService(deps.DB, es, deps.Publisher, deps.Clock,
			circulation.NewMetrics(deps.Registry), deps.Log, CirculationOptions(deps.Config)),
		db:        deps.DB,
		publisher: deps.Publisher,
		log:       deps.Log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Log))
	r.Use(newHTTPMetrics(deps.Registry).middleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	loans := circulation.NewHandler(s.Circulation)
	catalog.NewHandler(s.Catalog).Routes(r)
	membership.NewHandler(s.Membership).Routes(r)
	loans.Routes(r)
	r.With(tokens.RequireMember).Get("/members/me/loans", loans.HandleMyLoans)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth fails when the database is unreachable. A lost broker only
// degrades the service: loans still commit and their events are logged.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Warn("Health check failed", zap.Error(err))
		web.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": "down"})
		return
	}
	if hc, ok := s.publisher.(events.HealthChecker); ok && !hc.IsHealthy() {
		web.JSON(w, http.StatusOK, map[string]string{"status": "degraded", "database": "up", "broker": "down"})
		return
	}
	web.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
