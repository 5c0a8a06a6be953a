// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jeranaias/chatrelay/internal/cloud"
	"github.com/jeranaias/chatrelay/internal/tools"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 8787

	// DefaultHost is the default listen address.
	DefaultHost = "127.0.0.1"

	// DefaultMaxSteps bounds the model steps in one turn.
	DefaultMaxSteps = 5

	// MaxMessageCount is the maximum number of messages in a request.
	MaxMessageCount = 200

	// MaxRequestBodySize is the maximum size for request body to prevent DoS (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// PreflightMaxAge is the Access-Control-Max-Age sent on OPTIONS, in seconds.
	PreflightMaxAge = 86400
)

// Version is the server version. Set at build time by main.
var Version = "dev"

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP server exposing the completion endpoint.
type Server struct {
	host   string
	port   int
	router *http.ServeMux
	server *http.Server

	provider     cloud.Provider
	registry     *tools.Registry
	executor     *tools.Executor
	instructions func() string
	maxSteps     int
	metrics      *Metrics

	mu sync.RWMutex
}

// NewServer creates a new Server with the specified port.
// If port is 0, the default port (8787) is used.
//
// The server starts with the built-in tools and the default system prompt.
// A provider must be set with WithProvider before completions can succeed.
func NewServer(port int) *Server {
	if port == 0 {
		port = DefaultPort
	}

	registry := tools.DefaultRegistry()
	s := &Server{
		host:         DefaultHost,
		port:         port,
		router:       http.NewServeMux(),
		registry:     registry,
		executor:     tools.NewExecutor(registry),
		instructions: func() string { return tools.DefaultSystemPrompt },
		maxSteps:     DefaultMaxSteps,
		metrics:      NewMetrics(),
	}

	s.setupRoutes()
	return s
}

// WithProvider sets the model provider.
func (s *Server) WithProvider(p cloud.Provider) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provider = p
	return s
}

// WithHost sets the listen host.
func (s *Server) WithHost(host string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if host != "" {
		s.host = host
	}
	return s
}

// WithRegistry replaces the tool registry. A nil registry disables tools.
func (s *Server) WithRegistry(registry *tools.Registry) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if registry == nil {
		registry = tools.NewRegistry()
	}
	s.registry = registry
	s.executor = tools.NewExecutor(registry)
	return s
}

// WithToolTimeout sets the timeout for server-side tool execution.
func (s *Server) WithToolTimeout(timeout time.Duration) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executor.WithTimeout(timeout)
	return s
}

// WithSystemPrompt sets a fixed system instruction. An empty prompt sends none.
func (s *Server) WithSystemPrompt(prompt string) *Server {
	return s.WithInstructions(func() string { return prompt })
}

// WithInstructions sets a function consulted on every request for the
// system instruction, so a watcher can swap it without a restart.
func (s *Server) WithInstructions(fn func() string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructions = fn
	return s
}

// WithMaxSteps sets the maximum number of model steps per turn.
func (s *Server) WithMaxSteps(n int) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxSteps = n
	}
	return s
}

// Port returns the server port.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Metrics returns the server's metrics collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Executor returns the tool executor, mostly for stats.
func (s *Server) Executor() *tools.Executor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executor
}

// snapshot returns the per-request configuration under the read lock.
func (s *Server) snapshot() turnConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := turnConfig{
		provider: s.provider,
		registry: s.registry,
		executor: s.executor,
		maxSteps: s.maxSteps,
	}
	if s.instructions != nil {
		cfg.system = s.instructions()
	}
	return cfg
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("OPTIONS /completion", s.handlePreflight)
	s.router.HandleFunc("POST /completion", s.handleCompletion)

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.Handle("GET /metrics", s.metrics.Handler())
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(slog.Default()),
		MetricsMiddleware(s.metrics),
	)(s.router)
}

// handlePreflight handles OPTIONS /completion. It always answers 204 with
// the permissive CORS headers, whatever the request carries.
func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Max-Age", strconv.Itoa(PreflightMaxAge))
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status             string   `json:"status"`
	Version            string   `json:"version"`
	Model              string   `json:"model,omitempty"`
	ProviderConfigured bool     `json:"provider_configured"`
	Tools              []string `json:"tools"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.snapshot()

	health := HealthResponse{
		Status:  "ok",
		Version: Version,
		Tools:   []string{},
	}
	if cfg.provider != nil {
		health.Model = cfg.provider.Model()
		health.ProviderConfigured = cfg.provider.IsConfigured()
	}
	if !health.ProviderConfigured {
		health.Status = "degraded"
	}
	for _, t := range cfg.registry.All() {
		health.Tools = append(health.Tools, t.Name)
	}

	s.writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.Addr()

	s.mu.Lock()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: completions stream for as long as the model talks
		// and end with the request context.
		IdleTimeout: 120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	slog.Info("SERVER_START", "addr", addr, "version", Version)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	executor := s.executor
	s.mu.RUnlock()

	if srv == nil {
		return nil
	}

	slog.Info("SERVER_SHUTDOWN", "phase", "starting graceful shutdown")

	stats := executor.Stats()
	slog.Info("TOOL_STATS",
		"executions", stats.TotalExecutions,
		"failed", stats.Failed,
		"invalid", stats.Invalid,
		"avg_duration", stats.AvgDuration,
	)

	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "invalid_request_error",
			"code":    status,
		},
	})
}

// truncateString truncates a string to the specified length.
// Uses rune-based truncation to handle Unicode correctly.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
