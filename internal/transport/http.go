// Package transport provides the HTTP side channel of a load test run.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/rpc"
	"github.com/jeongkyun-oh/arbitrum-load-test/internal/storage"
)

// History pagination limits.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

const readyTimeout = 5 * time.Second

// HealthChecker reports whether the node under test is reachable.
type HealthChecker interface {
	CheckRPC(ctx context.Context) error
}

// RPCHealth checks the node by asking for the latest block number.
type RPCHealth struct {
	Client rpc.Client
}

// CheckRPC implements HealthChecker.
func (h RPCHealth) CheckRPC(ctx context.Context) error {
	_, err := h.Client.GetBlockNumber(ctx)
	return err
}

// ServerConfig holds the dependencies of a Server. All fields are optional.
type ServerConfig struct {
	Store    storage.Storage
	Health   HealthChecker
	Gatherer prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Logger   *slog.Logger

	// CORSAllowedOrigins is a comma-separated list, or "*" / "" for all.
	CORSAllowedOrigins string
}

// Server exposes metrics, health, run history and the live progress feed.
type Server struct {
	store     storage.Storage
	health    HealthChecker
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	startTime time.Time
	hub       *Hub

	corsAllowedOrigins []string
	corsAllowAll       bool
}

// NewServer creates a new HTTP server. The returned server's hub is running;
// call Close to stop it.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	hub := NewHub(logger)
	hub.Start()

	s := &Server{
		store:     cfg.Store,
		health:    cfg.Health,
		gatherer:  gatherer,
		logger:    logger,
		startTime: time.Now(),
		hub:       hub,
	}

	origins := strings.TrimSpace(cfg.CORSAllowedOrigins)
	if origins == "" || origins == "*" {
		s.corsAllowAll = true
	} else {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				s.corsAllowedOrigins = append(s.corsAllowedOrigins, o)
			}
		}
	}

	return s
}

// Hub returns the progress broadcaster backing /ws.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Close stops the hub and disconnects all WebSocket clients.
func (s *Server) Close() {
	s.hub.Stop()
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/history", s.corsMiddleware(s.handleHistory))
	mux.HandleFunc("/history/", s.corsMiddleware(s.handleHistoryDetail))
	mux.HandleFunc("/ws", s.hub.Handler())

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return mux
}

func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if s.corsAllowAll {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.corsAllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", slog.String("error", err.Error()))
	}
}

// writeJSONError writes a JSON error response
func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, map[string]string{"error": message})
}

// handleHistory returns run history with optional pagination.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		s.writeJSONError(w, "History is disabled", http.StatusNotFound)
		return
	}

	limit := defaultHistoryLimit
	offset := 0
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= maxHistoryLimit {
		limit = l
	}
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	result, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, "Failed to get history: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleHistoryDetail handles GET, PATCH and DELETE on /history/{id}.
func (s *Server) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSONError(w, "History is disabled", http.StatusNotFound)
		return
	}

	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/history/"), "/")
	if id == "" || strings.Contains(id, "/") {
		s.writeJSONError(w, "Missing run ID", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := s.store.DeleteRun(r.Context(), id); err != nil {
			s.writeStoreError(w, "Failed to delete run", err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	case http.MethodPatch:
		var update storage.RunMetadataUpdate
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.store.UpdateRunMetadata(r.Context(), id, &update); err != nil {
			s.writeStoreError(w, "Failed to update run", err)
			return
		}
		s.getRun(w, r, id)

	case http.MethodGet:
		s.getRun(w, r, id)

	default:
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request, id string) {
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeJSONError(w, "Failed to get run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		s.writeJSONError(w, "Run not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) writeStoreError(w http.ResponseWriter, prefix string, err error) {
	if errors.Is(err, storage.ErrRunNotFound) {
		s.writeJSONError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSONError(w, prefix+": "+err.Error(), http.StatusInternalServerError)
}

// handleHealth handles liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"ws_clients":     s.hub.ClientCount(),
	})
}

// ReadinessCheck represents a single readiness check result.
type ReadinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"` // "ok" or "failed"
	LatencyMs int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleReady reports whether the node under test answers RPC.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := []ReadinessCheck{}
	ready := true

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		start := time.Now()
		err := s.health.CheckRPC(ctx)
		check := ReadinessCheck{
			Name:      "rpc",
			Status:    "ok",
			LatencyMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			check.Status = "failed"
			check.Error = err.Error()
			ready = false
		}
		checks = append(checks, check)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}
