package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/quake-detector-service/internal/domain"
)

// EventLister exposes the detector state currently held in memory.
type EventLister interface {
	OpenEvents() []domain.Event
	Stations() int
}

// Server exposes health, readiness, open-event and metrics endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /events and
// /metrics routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, events EventLister, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.HandleFunc("GET /events", handleEvents(events))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains connections within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type eventsResponse struct {
	Stations   int            `json:"stations"`
	OpenEvents []domain.Event `json:"open_events"`
}

func handleEvents(lister EventLister) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		events := lister.OpenEvents()
		if events == nil {
			events = []domain.Event{}
		}
		sharedobs.WriteJSON(w, http.StatusOK, eventsResponse{
			Stations:   lister.Stations(),
			OpenEvents: events,
		})
	}
}
