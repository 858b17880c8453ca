package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/logger"
	"github.com/zeroinbox/mailscrub/internal/rotation"
)

// Server exposes coverage reports and rotation control over HTTP, plus
// a WebSocket feed of rotation lifecycle events for the dashboard.
type Server struct {
	config    config.StatusConfig
	logger    *logger.Logger
	scheduler *rotation.Scheduler
	router    *mux.Router
	server    *http.Server
	hub       *Hub
	version   string
	startedAt time.Time
}

// NewServer creates a status server around a scheduler.
func NewServer(cfg config.StatusConfig, scheduler *rotation.Scheduler, version string, log *logger.Logger) *Server {
	hub := NewHub(cfg, log.WithComponent("status").Logger)

	server := &Server{
		config:    cfg,
		logger:    log.WithComponent("status"),
		scheduler: scheduler,
		router:    mux.NewRouter(),
		hub:       hub,
		version:   version,
		startedAt: time.Now(),
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Info endpoint
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// Dashboard endpoint
	s.router.HandleFunc("/", ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", ServeDashboard).Methods("GET")

	// WebSocket endpoint for the dashboard event feed
	s.router.HandleFunc("/ws", s.hub.HandleWebSocket).Methods("GET")

	// Coverage and control API
	apiRouter := s.router.PathPrefix("/api").Subrouter()
	apiRouter.Use(s.loggingMiddleware)
	apiRouter.HandleFunc("/coverage", s.handleCoverage).Methods("GET")
	apiRouter.HandleFunc("/sources", s.handleSources).Methods("GET")
	apiRouter.HandleFunc("/history", s.handleHistory).Methods("GET")
	apiRouter.HandleFunc("/status", s.handleStatus).Methods("GET")
	apiRouter.HandleFunc("/rotate", s.handleRotate).Methods("POST")
}

// Start starts the HTTP server and the event hub.
func (s *Server) Start() error {
	s.logger.Info("Starting status server",
		zap.String("addr", s.server.Addr),
		zap.String("version", s.version),
	)

	go s.hub.Run()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping status server")
	return s.server.Shutdown(ctx)
}

// Hub returns the event hub so the scheduler can be wired to it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"name":"mailscrub","version":"%s","rotation":%d}`,
		s.version, s.scheduler.Rotation())
}

// handleCoverage returns the full coverage report
func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.Report())
}

// handleSources returns per-source offsets and coverage
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.Report().Sources)
}

// handleHistory returns the rotation run history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.Report().History)
}

// handleStatus returns a system status snapshot
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := s.scheduler.Report()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.writeJSON(w, http.StatusOK, SystemStatusEvent{
		Status:           "running",
		Uptime:           time.Since(s.startedAt).Round(time.Second).String(),
		Rotation:         report.Rotation,
		UniqueProcessed:  report.UniqueProcessed,
		TotalProcessed:   report.TotalProcessed,
		CoveragePercent:  report.CoveragePercent,
		ConnectedClients: int(s.hub.GetStats().ActiveConnections),
		MemoryUsage:      fmt.Sprintf("%d MB", mem.Alloc/1024/1024),
	})
}

// handleRotate triggers a rotation unless one is already in flight.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	result, err := s.scheduler.TryRunRotation(r.Context())
	if errors.Is(err, rotation.ErrRotationInProgress) {
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"error": "rotation already in progress",
		})
		return
	}
	if err != nil {
		s.logger.Error("Rotation failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// writeJSON writes a JSON response body
func (s *Server) writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// loggingMiddleware logs API requests and responses
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.logger.Info("API request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", getClientIP(r)),
			zap.Int("status_code", rw.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.Int("response_size", rw.size),
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture response data
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}
