// Package dashboard serves the read-only status API and the Prometheus
// metrics endpoint. It observes the engine through storage only and can
// never mutate a position.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/zerodte_strangler/internal/models"
	"github.com/eddiefleurent/zerodte_strangler/internal/storage"
)

// Server is the HTTP status server.
type Server struct {
	router  *chi.Mux
	server  *http.Server
	storage storage.Interface
	logger  *logrus.Logger
	port    int
}

// StatusView is the /api/status payload.
type StatusView struct {
	State       models.PositionState `json:"state"`
	Description string               `json:"description"`
	HasPosition bool                 `json:"has_position"`
	Statistics  storage.Statistics   `json:"statistics"`
	ServerTime  time.Time            `json:"server_time"`
}

// NewServer creates a status server on the given port.
func NewServer(port int, store storage.Interface, logger *logrus.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		storage: store,
		logger:  logger,
		port:    port,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/position", s.handlePosition)
	s.router.Get("/api/history", s.handleHistory)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Start runs the server until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("port", s.port).Info("dashboard listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state := s.storage.GetState()
	sm := models.NewStateMachineFromState(state)
	s.writeJSON(w, StatusView{
		State:       state,
		Description: sm.Description(),
		HasPosition: s.storage.GetCurrentPosition() != nil,
		Statistics:  s.storage.GetStatistics(),
		ServerTime:  time.Now().UTC(),
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	pos := s.storage.GetCurrentPosition()
	if pos == nil {
		http.Error(w, "no open position", http.StatusNotFound)
		return
	}
	s.writeJSON(w, pos)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.storage.GetHistory())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encoding response")
	}
}
