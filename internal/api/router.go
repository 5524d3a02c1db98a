// ABOUTME: HTTP JSON API for dashboards built on the KPI engine.
// ABOUTME: Routes with gorilla/mux and wraps them with gorilla/handlers middleware.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/harperreed/kpi/internal/engine"
	"github.com/harperreed/kpi/internal/logger"
	"github.com/harperreed/kpi/internal/storage"
)

// Server serves the KPI API over HTTP.
type Server struct {
	repo   storage.Repository
	engine *engine.Service
	log    *logger.Logger
	now    func() time.Time
}

// NewServer creates an API server over repo.
func NewServer(repo storage.Repository, log *logger.Logger, opts ...engine.Option) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		repo:   repo,
		engine: engine.NewService(repo, log, opts...),
		log:    log.With("component", "api"),
		now:    time.Now,
	}
}

// NewRouter registers every route.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", healthHandler).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/categories", s.listCategories).Methods("GET")
	api.HandleFunc("/categories/{id}/overview", s.categoryOverview).Methods("GET")
	api.HandleFunc("/metrics", s.listMetrics).Methods("GET")
	api.HandleFunc("/metrics/{id}/series", s.metricSeries).Methods("GET")
	api.HandleFunc("/metrics/{id}/values/{period}", s.putValue).Methods("PUT")
	api.HandleFunc("/metrics/{id}/values/{period}", s.deleteValue).Methods("DELETE")
	api.HandleFunc("/preview", s.preview).Methods("POST")

	return r
}

// Handler returns the router wrapped with access logging, panic recovery,
// and permissive CORS for local dashboards.
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	var h http.Handler = s.NewRouter()
	h = handlers.CORS(
		handlers.AllowedMethods([]string{"GET", "PUT", "DELETE", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.RecoveryHandler()(h)
	if accessLog != nil {
		h = handlers.LoggingHandler(accessLog, h)
	}
	return h
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string, accessLog io.Writer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(accessLog),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("api shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
