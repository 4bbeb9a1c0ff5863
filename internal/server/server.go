package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	httpServer *http.Server
	handler    *Handler
	logger     *slog.Logger
}

// NewRouter wires the API routes and exposes the handler's ledger
// occupancy on /metrics through registry.
func NewRouter(handler *Handler, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(OTelHTTP(handler.serviceName))
	r.Use(RecoveryMiddleware(handler.logger))
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(handler.logger))
	r.Use(CORSMiddleware)

	r.Get("/health", handler.HealthCheck)
	r.Get("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Post("/slots", handler.RegisterSlot)
		r.Get("/slots", handler.ListSlots)
		r.Get("/slots/{id}", handler.GetSlot)
		r.Post("/park", handler.ParkVehicle)
		r.Post("/leave", handler.LeaveSlot)
		r.Get("/find/{registration}", handler.FindByRegistration)
		r.Post("/sweep", handler.Sweep)
		r.Post("/reset", handler.Reset)
		r.Post("/bill", handler.Bill)
	})

	return r
}

// NewRegistry returns a registry with the runtime collectors and the slot
// occupancy collector for the handler's ledger.
func NewRegistry(handler *Handler) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		NewOccupancyCollector(handler.lot.Ledger(), handler.logger),
	)
	return registry
}

func NewServer(port string, handler *Handler) *Server {
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      NewRouter(handler, NewRegistry(handler)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		handler:    handler,
		logger:     handler.logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) GetAddress() string {
	return fmt.Sprintf("http://localhost%s", s.httpServer.Addr)
}
