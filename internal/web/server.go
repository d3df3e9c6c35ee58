package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"comfy-studio/internal/analyzer"
	"comfy-studio/internal/batch"
	"comfy-studio/internal/promptgen"
	"comfy-studio/internal/store"
	"comfy-studio/internal/trends"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the application version string reported by the API.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// WithCollector enables the trend collection endpoint.
func WithCollector(c *trends.Collector) ServerOption {
	return func(s *Server) {
		s.collector = c
	}
}

// WithEventSink adds an extra destination for batch events alongside the
// WebSocket broadcast, typically an MQTT notifier.
func WithEventSink(sink func(any)) ServerOption {
	return func(s *Server) {
		s.eventSink = sink
	}
}

// WithGenerator enables the trend-to-prompt generation endpoint.
func WithGenerator(g *promptgen.Generator) ServerOption {
	return func(s *Server) {
		s.generator = g
	}
}

// Server is the HTTP API for script analysis and batch generation.
type Server struct {
	scriptsDir     string
	analyzer       *analyzer.Analyzer
	runner         *batch.Runner
	store          store.Store
	collector      *trends.Collector
	generator      *promptgen.Generator
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	version        string
	eventSink      func(any)
	hubWg          sync.WaitGroup // WebSocket hub goroutine
	batchWg        sync.WaitGroup // background batch goroutine
}

// NewServer creates the API server.
func NewServer(scriptsDir string, a *analyzer.Analyzer, runner *batch.Runner, st store.Store, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		scriptsDir: scriptsDir,
		analyzer:   a,
		runner:     runner,
		store:      st,
		logger:     logger.With("component", "web"),
		mux:        http.NewServeMux(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(logger)
	s.hubWg.Add(1)
	go func() {
		defer s.hubWg.Done()
		s.wsHub.Run()
	}()

	s.routes()
	return s
}

// Stop asks any running batch to finish, then shuts down the WebSocket hub.
// The stop signal is cooperative, so this may wait out one last invocation.
func (s *Server) Stop() {
	if s.runner != nil {
		s.runner.RequestStop()
	}
	s.batchWg.Wait()
	s.wsHub.Stop()
	s.hubWg.Wait()
}

func (s *Server) routes() {
	// Scripts
	s.mux.HandleFunc("GET /api/scripts", s.handleAPIListScripts)
	s.mux.HandleFunc("POST /api/scripts/{name}/analyze", s.handleAPIAnalyzeScript)
	s.mux.HandleFunc("POST /api/scripts/{name}/validate", s.handleAPIValidateScript)
	s.mux.HandleFunc("GET /api/scripts/{name}/mapping", s.handleAPIGetMapping)
	s.mux.HandleFunc("PUT /api/scripts/{name}/mapping", s.handleAPISaveMapping)

	// Batch generation
	s.mux.HandleFunc("POST /api/batch", s.handleAPIStartBatch)
	s.mux.HandleFunc("POST /api/batch/stop", s.handleAPIStopBatch)
	s.mux.HandleFunc("GET /api/batch/status", s.handleAPIBatchStatus)
	s.mux.HandleFunc("GET /api/runs", s.handleAPIListRuns)

	// Trends
	s.mux.HandleFunc("GET /api/trends", s.handleAPIListTrends)
	s.mux.HandleFunc("DELETE /api/trends/{id}", s.handleAPIDeleteTrend)
	s.mux.HandleFunc("POST /api/trends/collect", s.handleAPICollectTrends)
	s.mux.HandleFunc("POST /api/trends/{id}/prompt", s.handleAPIGeneratePrompt)

	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// WebSocket
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				// Preflight request.
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = r.URL.Query().Get("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// emit fans a batch event out to WebSocket clients and the extra sink.
func (s *Server) emit(event any) {
	s.wsHub.Broadcast(event)
	if s.eventSink != nil {
		s.eventSink(event)
	}
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
