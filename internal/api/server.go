// Package api exposes the command gateway over REST and mounts the event bus
// and metrics endpoints on the same listener.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"smarthome/internal/device"
	"smarthome/internal/gateway"
	"smarthome/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// IgnoredFieldsHeader lists, comma separated, the update fields that were
// supplied but not applied.
const IgnoredFieldsHeader = "X-Ignored-Fields"

// Server provides the HTTP surface of the smart home service
type Server struct {
	gateway *gateway.Gateway
	logger  *zap.Logger
	router  chi.Router
	server  *http.Server
}

// NewServer creates a new API server. bus serves the websocket event bus at
// /ws and may be nil.
func NewServer(gw *gateway.Gateway, bus http.Handler, logger *zap.Logger, port int) *Server {
	s := &Server{
		gateway: gw,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{IgnoredFieldsHeader},
		MaxAge:         300,
	}))

	r.Get("/", s.handleSitemap)
	r.Route("/api", s.deviceRoutes)
	s.deviceRoutes(r)
	r.Handle("/metrics", metrics.Handler())
	if bus != nil {
		r.Handle("/ws", bus)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "Method not allowed"})
	})
	s.router = r

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) deviceRoutes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/devices", s.handleListDevices)
	r.Get("/devices/{id}", s.handleGetDevice)
	r.Post("/devices/{id}/toggle", s.handleToggle)
	r.Post("/devices/{id}/update", s.handleUpdate)
}

type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of the health endpoints
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Message: "Smart Home Server is running!",
	})
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.List())
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(r)
	if !ok {
		s.writeError(w, device.ErrNotFound)
		return
	}

	d, err := s.gateway.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(r)
	if !ok {
		s.writeError(w, device.ErrNotFound)
		return
	}

	d, err := s.gateway.Toggle(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := deviceID(r)
	if !ok {
		s.writeError(w, device.ErrNotFound)
		return
	}
	// An unknown id is reported before anything about the body.
	if _, err := s.gateway.Get(id); err != nil {
		s.writeError(w, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, fmt.Errorf("read body: %w", device.ErrInvalidInput))
		return
	}

	patch, decodeIgnored, err := device.DecodePatch(body)
	if err != nil {
		s.writeError(w, err)
		return
	}

	d, ignored, err := s.gateway.Update(id, patch)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if all := append(decodeIgnored, ignored...); len(all) > 0 {
		w.Header().Set(IgnoredFieldsHeader, strings.Join(all, ","))
	}
	writeJSON(w, http.StatusOK, d)
}

// writeError maps domain errors onto HTTP status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Device not found"})
	case errors.Is(err, device.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// deviceID parses the {id} path parameter. Anything that is not an integer
// names no device.
func deviceID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP API server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
