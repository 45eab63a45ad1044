package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/protocol"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/session"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/simulate"
)

type countingRecorder struct {
	mu     sync.Mutex
	reads  int
	bytes  int
	errors int
}

func (r *countingRecorder) RecordSourceRead(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	r.bytes += n
}

func (r *countingRecorder) RecordSourceError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
}

// failingSource returns data once and then a read error
type failingSource struct {
	done bool
}

func (s *failingSource) Read(p []byte) (int, error) {
	if s.done {
		return 0, errors.New("device unplugged")
	}
	s.done = true
	return copy(p, []byte{1, 2, 3}), nil
}

func (s *failingSource) Close() error { return nil }
func (s *failingSource) Name() string { return "failing" }

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func simulatedBytes(t *testing.T, packages int) []byte {
	t.Helper()
	stream, err := simulate.NewStream(simulate.Config{
		Type:          protocol.SensorCat,
		HeartRate:     120,
		BreathingRate: 20,
	})
	require.NoError(t, err)
	data, err := stream.Bytes(packages)
	require.NoError(t, err)
	return data
}

func TestPortOptionsNormalize(t *testing.T) {
	tests := []struct {
		name     string
		opts     PortOptions
		expected PortOptions
		wantErr  bool
	}{
		{
			name:     "defaults",
			opts:     PortOptions{},
			expected: PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{
			name:     "explicit values",
			opts:     PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "even"},
			expected: PortOptions{BaudRate: 9600, DataBits: 7, StopBits: 2, Parity: "E"},
		},
		{
			name:     "negative baud rate falls back",
			opts:     PortOptions{BaudRate: -5, Parity: " odd "},
			expected: PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "O"},
		},
		{name: "invalid data bits", opts: PortOptions{DataBits: 9}, wantErr: true},
		{name: "invalid stop bits", opts: PortOptions{StopBits: 3}, wantErr: true},
		{name: "invalid parity", opts: PortOptions{Parity: "mark"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 57600, StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 57600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)

	_, err = PortOptions{DataBits: 4}.SerialMode()
	assert.Error(t, err)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open("udp", "somewhere", Options{})
	assert.ErrorContains(t, err, "unsupported source kind")

	_, err = Open(KindSerial, "/dev/does-not-matter", Options{Serial: PortOptions{StopBits: 5}})
	assert.ErrorContains(t, err, "invalid serial options")

	_, err = Open(KindFile, filepath.Join(t.TempDir(), "missing.bin"), Options{})
	assert.ErrorContains(t, err, "failed to open capture file")

	_, err = Open(KindPcap, writeTempFile(t, "bad.pcap", []byte("not a capture")), Options{})
	assert.ErrorContains(t, err, "failed to read PCAP header")

	_, err = OpenPcap("unused", 70000, nil)
	assert.ErrorContains(t, err, "udp port must be between 0 and 65535")
}

func TestPumpFile(t *testing.T) {
	data := simulatedBytes(t, 10)
	src, err := Open(KindFile, writeTempFile(t, "capture.bin", data), Options{})
	require.NoError(t, err)
	defer src.Close()

	recorder := &countingRecorder{}
	var got []byte
	var chunks int
	stats, err := Pump(context.Background(), src, PumpConfig{ChunkSize: 100, Recorder: recorder}, func(chunk []byte) error {
		assert.LessOrEqual(t, len(chunk), 100)
		got = append(got, chunk...)
		chunks++
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, data, got)
	assert.Equal(t, uint64(len(data)), stats.Bytes)
	assert.Equal(t, uint64(chunks), stats.Reads)
	assert.Equal(t, chunks, recorder.reads)
	assert.Equal(t, len(data), recorder.bytes)
	assert.Zero(t, recorder.errors)
}

func TestPumpIntoSession(t *testing.T) {
	data := simulatedBytes(t, 30)
	src, err := OpenFile(writeTempFile(t, "cat.bin", data))
	require.NoError(t, err)
	defer src.Close()

	s := session.New(session.Options{})
	require.NoError(t, s.Initialize(int(protocol.SensorCat)))
	defer s.Dispose()

	_, err = Pump(context.Background(), src, PumpConfig{}, func(chunk []byte) error {
		_, err := s.Feed(chunk)
		return err
	})
	require.NoError(t, err)

	snapshot, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, 120, snapshot.HR)
	assert.Equal(t, 20, snapshot.BR)
	assert.Equal(t, uint64(30), s.Diagnostics().Packages)
}

func TestPumpStopsOnFeedError(t *testing.T) {
	src, err := OpenFile(writeTempFile(t, "capture.bin", make([]byte, 1000)))
	require.NoError(t, err)
	defer src.Close()

	s := session.New(session.Options{})
	// Feeding a session that was never initialized fails
	stats, err := Pump(context.Background(), src, PumpConfig{ChunkSize: 10}, func(chunk []byte) error {
		_, err := s.Feed(chunk)
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrNotInitialized)
	assert.Equal(t, uint64(1), stats.Reads)
}

func TestPumpReadError(t *testing.T) {
	recorder := &countingRecorder{}
	var fed int
	_, err := Pump(context.Background(), &failingSource{}, PumpConfig{Recorder: recorder}, func(chunk []byte) error {
		fed += len(chunk)
		return nil
	})
	assert.ErrorContains(t, err, "device unplugged")
	assert.Equal(t, 3, fed)
	assert.Equal(t, 1, recorder.errors)
}

func TestPumpContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Pump(ctx, &failingSource{}, PumpConfig{}, func([]byte) error {
		t.Error("feed must not be called after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPcapSource(t *testing.T) {
	data := simulatedBytes(t, 12)

	var capture bytes.Buffer
	config := simulate.DefaultPcapConfig()
	datagrams, err := simulate.WritePcap(&capture, data, config)
	require.NoError(t, err)
	path := writeTempFile(t, "capture.pcap", capture.Bytes())

	tests := []struct {
		name     string
		port     int
		expected []byte
		replayed uint64
		skipped  uint64
	}{
		{name: "any port", port: 0, expected: data, replayed: uint64(datagrams)},
		{name: "destination port", port: config.DstPort, expected: data, replayed: uint64(datagrams)},
		{name: "source port", port: config.SrcPort, expected: data, replayed: uint64(datagrams)},
		{name: "other port", port: 1234, expected: []byte{}, skipped: uint64(datagrams)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := Open(KindPcap, path, Options{UDPPort: tt.port})
			require.NoError(t, err)
			defer src.Close()

			got, err := io.ReadAll(src)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)

			replayed, skipped := src.(*PcapSource).Packets()
			assert.Equal(t, tt.replayed, replayed)
			assert.Equal(t, tt.skipped, skipped)
		})
	}
}
