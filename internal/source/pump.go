package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// DefaultChunkSize matches the notification payload of the BLE receiver
const DefaultChunkSize = 244

// Recorder receives read statistics; *metrics.Metrics satisfies it
type Recorder interface {
	RecordSourceRead(n int)
	RecordSourceError()
}

// PumpConfig configures Pump
type PumpConfig struct {
	ChunkSize int
	// Interval paces consecutive chunks; zero reads as fast as possible
	Interval time.Duration
	Recorder Recorder
	Logger   *slog.Logger
}

// PumpStats summarizes one Pump run
type PumpStats struct {
	Reads uint64 `json:"reads"`
	Bytes uint64 `json:"bytes"`
}

// Pump reads src in chunks and hands every non-empty chunk to feed until
// the source is exhausted, ctx is cancelled, or feed fails. Each chunk is
// a fresh slice owned by feed. Exhaustion is not an error.
func Pump(ctx context.Context, src Source, config PumpConfig, feed func([]byte) error) (PumpStats, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}

	var stats PumpStats
	buffer := make([]byte, config.ChunkSize)

	logger.Info("Source pump started",
		slog.String("source", src.Name()),
		slog.Int("chunk_size", config.ChunkSize),
		slog.Duration("interval", config.Interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Source pump stopping due to context cancellation",
				slog.Uint64("bytes", stats.Bytes))
			return stats, ctx.Err()
		default:
		}

		n, err := src.Read(buffer)
		if n > 0 {
			stats.Reads++
			stats.Bytes += uint64(n)
			if config.Recorder != nil {
				config.Recorder.RecordSourceRead(n)
			}

			// Create chunk copy (buffer will be reused)
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])

			if ferr := feed(chunk); ferr != nil {
				return stats, fmt.Errorf("feed: %w", ferr)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("Source exhausted",
					slog.String("source", src.Name()),
					slog.Uint64("reads", stats.Reads),
					slog.Uint64("bytes", stats.Bytes))
				return stats, nil
			}
			if config.Recorder != nil {
				config.Recorder.RecordSourceError()
			}
			return stats, fmt.Errorf("failed to read from %s: %w", src.Name(), err)
		}

		if config.Interval > 0 && n > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(config.Interval):
			}
		}
	}
}
