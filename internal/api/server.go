package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/visora/visora/internal/bus"
	"github.com/visora/visora/internal/capture"
	"github.com/visora/visora/internal/config"
	"github.com/visora/visora/internal/recording"
)

// Server hosts the HTTP API and WebSocket event relay.
type Server struct {
	cfg        *config.Config
	cameras    *capture.Registry
	recorders  *recording.Registry
	store      *recording.Store
	monitor    *recording.Monitor
	bus        *bus.Bus
	hub        *Hub
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer wires the API against the running services.
func NewServer(cfg *config.Config, cameras *capture.Registry, recorders *recording.Registry,
	store *recording.Store, monitor *recording.Monitor, b *bus.Bus) *Server {
	return &Server{
		cfg:       cfg,
		cameras:   cameras,
		recorders: recorders,
		store:     store,
		monitor:   monitor,
		bus:       b,
		hub:       NewHub(),
		logger:    slog.Default().With("component", "api"),
	}
}

// Router builds the route tree.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cameras", func(r chi.Router) {
			r.Get("/", s.handleListCameras)
			r.Post("/", s.handleAddCamera)
			r.Get("/{id}", s.handleGetCamera)
			r.Put("/{id}", s.handleUpdateCamera)
			r.Delete("/{id}", s.handleRemoveCamera)
			r.Post("/{id}/pause", s.handlePauseCamera)
			r.Post("/{id}/resume", s.handleResumeCamera)
			r.Post("/{id}/record/start", s.handleStartRecording)
			r.Post("/{id}/record/stop", s.handleStopRecording)
		})

		r.Route("/recordings", func(r chi.Router) {
			r.Get("/", s.handleListRecordings)
			r.Get("/{id}", s.handleGetRecording)
			r.Get("/{id}/events", s.handleRecordingEvents)
			r.Get("/status", s.handleRecordingStatus)
		})

		r.Route("/storage", func(r chi.Router) {
			r.Get("/", s.handleStorageStats)
			r.Post("/cleanup", s.handleRunCleanup)
		})
	})

	return r
}

// Start begins serving and relaying bus events to WebSocket clients.
func (s *Server) Start(ctx context.Context) error {
	if err := s.relayBusEvents(); err != nil {
		return err
	}
	go s.hub.Run(ctx)

	s.httpServer = &http.Server{
		Addr:         s.cfg.API.Addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "addr", s.cfg.API.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"cameras": len(s.cameras.Status()),
	})
}
