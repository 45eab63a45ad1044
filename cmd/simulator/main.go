package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/protocol"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/simulate"
)

func main() {
	var (
		sensorType   = flag.Int("type", 1, "sensor type code (0 human, 1 cat, 2 rabbit, 3 dog)")
		heartRate    = flag.Float64("hr", 120, "heart rate bpm")
		breathing    = flag.Float64("br", 20, "breathing rate bpm")
		seconds      = flag.Float64("seconds", 60, "capture length in seconds")
		noise        = flag.Float64("noise", 0.02, "noise as a fraction of the amplitude")
		motion       = flag.Bool("motion", false, "add gyro activity and steps")
		noContact    = flag.Bool("no-contact", false, "clear the collar skin contact flag")
		garbageEvery = flag.Int("garbage-every", 0, "insert garbage bytes after every n-th package")
		format       = flag.String("format", "raw", "output format: raw or pcap")
		out          = flag.String("out", "capture.bin", "output path")
		dstPort      = flag.Int("udp-port", 9750, "pcap destination UDP port")
		datagram     = flag.Int("datagram", 244, "pcap datagram payload size")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(logger, options{
		stream: simulate.Config{
			Type:          protocol.SensorType(*sensorType),
			HeartRate:     *heartRate,
			BreathingRate: *breathing,
			Noise:         *noise,
			Motion:        *motion,
			NoContact:     *noContact,
			GarbageEvery:  *garbageEvery,
		},
		sensorCode: *sensorType,
		seconds:    *seconds,
		format:     *format,
		out:        *out,
		dstPort:    *dstPort,
		datagram:   *datagram,
	}); err != nil {
		logger.Error("Simulation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type options struct {
	stream     simulate.Config
	sensorCode int
	seconds    float64
	format     string
	out        string
	dstPort    int
	datagram   int
}

func run(logger *slog.Logger, opts options) error {
	if _, err := protocol.ParseSensorType(opts.sensorCode); err != nil {
		return err
	}
	if opts.seconds <= 0 {
		return fmt.Errorf("seconds must be positive, got %g", opts.seconds)
	}
	switch opts.format {
	case "raw":
	case "pcap":
		if opts.datagram <= 0 {
			return fmt.Errorf("datagram size must be positive, got %d", opts.datagram)
		}
	default:
		return fmt.Errorf("format must be raw or pcap, got %q", opts.format)
	}

	stream, err := simulate.NewStream(opts.stream)
	if err != nil {
		return err
	}
	packages := stream.PackagesFor(opts.seconds)

	data, err := stream.Bytes(packages)
	if err != nil {
		return err
	}

	f, err := os.Create(opts.out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", opts.out, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	if opts.format == "pcap" {
		config := simulate.DefaultPcapConfig()
		config.DstPort = opts.dstPort
		config.DatagramSize = opts.datagram
		datagrams, err := simulate.WritePcap(w, data, config)
		if err != nil {
			return err
		}
		logger.Info("Wrote datagrams", slog.Int("datagrams", datagrams), slog.Int("udp_port", opts.dstPort))
	} else if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.out, err)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", opts.out, err)
	}

	logger.Info("Capture written",
		slog.String("path", opts.out),
		slog.String("format", opts.format),
		slog.String("sensor_type", opts.stream.Type.String()),
		slog.Int("packages", packages),
		slog.Int("bytes", len(data)),
		slog.Float64("hr", opts.stream.HeartRate),
		slog.Float64("br", opts.stream.BreathingRate))

	return nil
}
