package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/bridge"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/config"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/metrics"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/server"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/session"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/source"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "hrbr-decoder"
	serviceVersion    = "1.0.0"
)

// pumpResult is the outcome of the source pump goroutine
type pumpResult struct {
	stats source.PumpStats
	err   error
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("sensor_type", cfg.Sensor.Type),
		slog.Float64("br_threshold", cfg.Sensor.BRThreshold),
		slog.String("source_kind", cfg.Source.Kind),
		slog.String("source_path", cfg.Source.Path),
		slog.Int("chunk_size", cfg.Source.ChunkSize),
		slog.Duration("idle_timeout", cfg.Sessions.GetIdleTimeout()),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(nil)
	logger.Info("Prometheus metrics initialized")

	// Initialize session manager
	manager := bridge.NewManager(logger, bridge.ManagerConfig{
		IdleTimeout:     cfg.Sessions.GetIdleTimeout(),
		CleanupInterval: cfg.Sessions.GetCleanupInterval(),
		Session: session.Options{
			BacklogPackages: cfg.Sensor.BacklogPackages,
			BRThreshold:     cfg.Sensor.BRThreshold,
			Observer:        appMetrics,
		},
		Lifecycle: appMetrics,
	})

	resp, err := manager.Initialize(bridge.InitializeRequest{Type: cfg.Sensor.Type, Pinned: true})
	if err != nil {
		logger.Error("Failed to initialize session",
			slog.String("code", bridge.Code(err)),
			slog.String("error", err.Error()))
		manager.Stop()
		os.Exit(1)
	}
	handle := resp.Handle

	// Open the byte source
	src, err := source.Open(cfg.Source.Kind, cfg.Source.Path, source.Options{
		Serial: source.PortOptions{
			BaudRate: cfg.Source.Serial.BaudRate,
			DataBits: cfg.Source.Serial.DataBits,
			StopBits: cfg.Source.Serial.StopBits,
			Parity:   cfg.Source.Serial.Parity,
		},
		ReadTimeout: cfg.Source.Serial.GetReadTimeout(),
		UDPPort:     cfg.Source.UDPPort,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to open source", slog.String("error", err.Error()))
		manager.Stop()
		os.Exit(1)
	}
	logger.Info("Source opened", slog.String("source", src.Name()))

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpConfig := server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
			Enabled: cfg.HTTP.Enabled,
		}
		httpServer = server.NewHTTPServer(httpConfig, logger, cfg, manager, appMetrics, nil)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Pump source bytes into the session
	pumpDone := make(chan pumpResult, 1)
	go func() {
		stats, err := source.Pump(ctx, src, source.PumpConfig{
			ChunkSize: cfg.Source.ChunkSize,
			Interval:  cfg.Source.GetChunkInterval(),
			Recorder:  appMetrics,
			Logger:    logger,
		}, func(chunk []byte) error {
			_, err := manager.Feed(bridge.FeedRequest{Handle: handle, Data: chunk})
			return err
		})
		pumpDone <- pumpResult{stats: stats, err: err}
	}()

	// Periodic reading reports
	var reportTick <-chan time.Time
	if interval := cfg.Sensor.GetReportInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		reportTick = ticker.C
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("handle", handle))

	exitCode := 0
loop:
	for {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			break loop
		case result := <-pumpDone:
			if result.err != nil && !errors.Is(result.err, context.Canceled) {
				logger.Error("Source pump failed",
					slog.String("code", bridge.Code(result.err)),
					slog.String("error", result.err.Error()))
				exitCode = 1
			} else {
				logger.Info("Source pump finished",
					slog.Uint64("reads", result.stats.Reads),
					slog.Uint64("bytes", result.stats.Bytes))
			}
			break loop
		case <-reportTick:
			logReading(logger, manager, handle)
		}
	}

	logger.Info("Starting graceful shutdown...")
	cancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := src.Close(); err != nil {
		logger.Error("Error closing source", slog.String("error", err.Error()))
	}

	logReading(logger, manager, handle)

	// Stop session manager (dispose sessions and stop background routines)
	manager.Stop()

	logger.Info("Service stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// logReading logs the current extended reading of the session
func logReading(logger *slog.Logger, manager *bridge.Manager, handle string) {
	reading, err := manager.Detail(bridge.ReadRequest{Handle: handle})
	if err != nil {
		logger.Warn("Failed to read session",
			slog.String("code", bridge.Code(err)),
			slog.String("error", err.Error()))
		return
	}

	attrs := []any{
		slog.Int("hr", reading.HR),
		slog.Int("br", reading.BR),
		slog.Int("gyro_x", reading.GyroX),
		slog.Int("gyro_y", reading.GyroY),
		slog.Int("gyro_z", reading.GyroZ),
		slog.Bool("wearing", reading.Wearing),
		slog.Int("battery", reading.Battery),
		slog.Int("steps", reading.Steps),
	}
	if reading.HasClimate {
		attrs = append(attrs,
			slog.Int("humidity", reading.Humidity),
			slog.Float64("temperature", reading.Temperature))
	}
	if s, ok := manager.Session(handle); ok {
		d := s.Diagnostics()
		attrs = append(attrs,
			slog.Uint64("packages", d.Packages),
			slog.Uint64("checksum_failures", d.ChecksumFailures),
			slog.Uint64("skipped_bytes", d.SkippedBytes))
	}

	logger.Info("Reading", attrs...)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
