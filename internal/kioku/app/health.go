package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bdobrica/kioku/common/version"
)

// HealthServer exposes /health, /status and any additionally registered
// routes (the embedding hook) on one mux.
type HealthServer struct {
	addr      string
	status    StatusSource
	logger    *slog.Logger
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
	stopOnce  sync.Once
}

// StatusSource reports runtime statistics for GET /status.
type StatusSource interface {
	Status(ctx context.Context) (Status, error)
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Status     string            `json:"status"`
	Build      map[string]string `json:"build"`
	StartedAt  time.Time         `json:"started_at"`
	UptimeSecs float64           `json:"uptime_seconds"`
	Memory     *Status           `json:"memory,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// NewHealthServer creates and configures the HTTP server (does not start it).
func NewHealthServer(addr string, src StatusSource, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	hs := &HealthServer{
		addr:      addr,
		status:    src,
		logger:    logger,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.HandleFunc("GET /health", hs.handleHealth)
	mux.HandleFunc("GET /status", hs.handleStatus)
	return hs
}

// ServeHTTP implements http.Handler.
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Handle registers an extra route. Call before Start.
func (h *HealthServer) Handle(pattern string, handler http.Handler) {
	h.mux.Handle(pattern, handler)
}

// Start begins listening in the background. It returns once the listener
// is bound, and shuts the server down when ctx is cancelled.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("http server: listen %s: %w", h.addr, err)
	}

	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		h.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("http server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		h.Stop()
	}()

	return nil
}

// Stop shuts down the HTTP server. Only the first call has any effect.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	h.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			h.logger.Warn("http server shutdown error", "err", err)
		}
	})
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	}, h.logger)
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:     "ok",
		Build:      version.Fields(),
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
	}
	code := http.StatusOK
	if h.status != nil {
		st, err := h.status.Status(r.Context())
		if err != nil {
			h.logger.Warn("status: failed to collect", "err", err)
			resp.Status = "degraded"
			resp.Error = "storage unavailable"
			code = http.StatusServiceUnavailable
		} else {
			resp.Memory = &st
		}
	}
	writeJSON(w, code, resp, h.logger)
}

func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("http: failed to encode JSON response", "err", err)
	}
}
