package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/bridge"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/config"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/metrics"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/session"
)

const (
	serviceName    = "hrbr-decoder"
	serviceVersion = "1.0.0"
)

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	manager  *bridge.Manager
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int
	Address string
	Enabled bool
}

// NewHTTPServer creates a new monitoring server. A nil gatherer serves the
// default Prometheus registry.
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger, appConfig *config.Config,
	manager *bridge.Manager, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		manager:   manager,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session monitoring endpoints
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{handle}", h.handleSessionDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// Handler returns the routed handler
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.metrics == nil {
			handler(w, r)
			return
		}

		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// writeJSON encodes v as the response body
func (h *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError reports a bridge error with its code
func (h *HTTPServer) writeError(w http.ResponseWriter, err error) {
	code := bridge.Code(err)

	status := http.StatusInternalServerError
	switch code {
	case bridge.CodeInvalidArgument, bridge.CodeUnsupportedSensorType:
		status = http.StatusBadRequest
	case bridge.CodeNotInitialized:
		status = http.StatusNotFound
	}

	h.writeJSON(w, status, map[string]any{
		"code":  code,
		"error": err.Error(),
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]any{
			"session_manager": map[string]any{
				"status":          "running",
				"active_sessions": h.manager.ActiveSessionCount(),
			},
		},
	}

	h.writeJSON(w, http.StatusOK, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.manager.Sessions()
	response := map[string]any{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	}

	h.writeJSON(w, http.StatusOK, response)
}

// handleSessionDetail implements the /sessions/{handle} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	handle := strings.TrimPrefix(r.URL.Path, "/sessions/")
	reading, err := h.manager.Detail(bridge.ReadRequest{Handle: handle})
	if err != nil {
		h.writeError(w, err)
		return
	}

	var info session.Info
	if s, ok := h.manager.Session(handle); ok {
		info = s.Info()
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"handle":  handle,
		"info":    info,
		"reading": reading,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.config == nil {
		http.Error(w, "Configuration unavailable", http.StatusNotFound)
		return
	}

	cfg := map[string]any{
		"sensor": map[string]any{
			"type":             h.config.Sensor.Type,
			"br_threshold":     h.config.Sensor.BRThreshold,
			"backlog_packages": h.config.Sensor.BacklogPackages,
			"report_interval":  h.config.Sensor.ReportInterval,
		},
		"source": map[string]any{
			"kind":           h.config.Source.Kind,
			"path":           h.config.Source.Path,
			"chunk_size":     h.config.Source.ChunkSize,
			"chunk_interval": h.config.Source.ChunkInterval,
			"udp_port":       h.config.Source.UDPPort,
			"serial": map[string]any{
				"baud_rate":    h.config.Source.Serial.BaudRate,
				"data_bits":    h.config.Source.Serial.DataBits,
				"stop_bits":    h.config.Source.Serial.StopBits,
				"parity":       h.config.Source.Serial.Parity,
				"read_timeout": h.config.Source.Serial.ReadTimeout,
			},
		},
		"sessions": map[string]any{
			"idle_timeout":     h.config.Sessions.IdleTimeout,
			"cleanup_interval": h.config.Sessions.CleanupInterval,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	h.writeJSON(w, http.StatusOK, cfg)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := h.manager.Sessions()
	var total session.Diagnostics
	bySensor := make(map[string]int)
	for _, s := range sessions {
		total.Add(s.Diagnostics)
		bySensor[s.SensorType]++
	}

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]any{
			"active_count":   len(sessions),
			"by_sensor_type": bySensor,
		},
		"diagnostics": total,
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]any{
		"service": "HR/BR Telemetry Decoder",
		"version": serviceVersion,
		"endpoints": map[string]any{
			"GET /":                  "API documentation",
			"GET /health":            "Service health check",
			"GET /sessions":          "List all live sessions",
			"GET /sessions/{handle}": "Get the extended reading of a session",
			"GET /config":            "Get service configuration",
			"GET /stats":             "Get aggregated decoding statistics",
			"GET /metrics":           "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	h.writeJSON(w, http.StatusOK, apiDoc)
}
