package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"market_cache/internal/domain"
	"market_cache/internal/engine"
	"market_cache/internal/infra"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunReader lists recorded refresh runs.
type RunReader interface {
	Recent(dataset string, n int) ([]domain.RefreshRun, error)
	LastSuccess(dataset string) (*domain.RefreshRun, error)
}

// LogoStore resolves pool logos to local files.
type LogoStore interface {
	Fetch(ctx context.Context, id, src string) (string, error)
}

// Server is the read-only query layer over the orchestrator's caches.
type Server struct {
	orch    *engine.Orchestrator
	metrics *infra.Metrics
	runs    RunReader
	logos   LogoStore
	hub     *Hub
	limiter *RateLimiter
	logger  *slog.Logger

	router     *mux.Router
	httpServer *http.Server
}

// NewServer builds the routes. runs and logos may be nil.
func NewServer(cfg *infra.Config, orch *engine.Orchestrator, metrics *infra.Metrics, runs RunReader, logos LogoStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orch:    orch,
		metrics: metrics,
		runs:    runs,
		logos:   logos,
		hub:     NewHub(cfg.Server.StreamBufferLen, logger),
		limiter: NewRateLimiter(cfg.Server.RequestsPerSec, cfg.Server.Burst),
		logger:  logger.With("module", "api"),
	}
	orch.Prices.OnUpdate(s.hub.Broadcast)

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware(s.metrics))

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.limiter.Handler)
	v1.HandleFunc("/getPrice", s.handleGetPrice).Methods(http.MethodGet)
	v1.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/pools", s.handlePools).Methods(http.MethodGet)
	v1.HandleFunc("/pools/{id}/logo", s.handlePoolLogo).Methods(http.MethodGet)
	v1.HandleFunc("/collections", s.handleCollections).Methods(http.MethodGet)
	v1.HandleFunc("/collections/{policyId}", s.handleCollection).Methods(http.MethodGet)
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/stream/prices", s.handleStream).Methods(http.MethodGet)
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until Shutdown. It also sweeps idle rate limiter
// entries.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.limiter.Cleanup(10 * time.Minute)
			}
		}
	}()

	s.logger.Info("🌐 HTTP server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes stream clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
