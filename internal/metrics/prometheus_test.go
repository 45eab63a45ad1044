package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/bridge"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/protocol"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/session"
)

func TestObserveFeed(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	delta := session.Diagnostics{
		Packages:         3,
		ChecksumFailures: 1,
		SkippedBytes:     7,
		Malformed:        1,
		Dropped:          2,
		HRGaps:           1,
		HREstimates:      2,
		BytesFed:         200,
	}
	m.ObserveFeed(protocol.SensorCat, delta, session.Snapshot{HR: 75, BR: 18})
	m.ObserveFeed(protocol.SensorCat, session.Diagnostics{Packages: 1, BytesFed: 64}, session.Snapshot{HR: 76, BR: 18})

	tests := []struct {
		name      string
		collector prometheus.Collector
		expected  float64
	}{
		{name: "packages", collector: m.PackagesFramed.WithLabelValues("cat"), expected: 4},
		{name: "bytes", collector: m.BytesFed.WithLabelValues("cat"), expected: 264},
		{name: "checksum failures", collector: m.ChecksumFailures.WithLabelValues("cat"), expected: 1},
		{name: "skipped", collector: m.SkippedBytes.WithLabelValues("cat"), expected: 7},
		{name: "malformed", collector: m.MalformedPackages.WithLabelValues("cat"), expected: 1},
		{name: "dropped", collector: m.DroppedSamples.WithLabelValues("cat"), expected: 2},
		{name: "hr gaps", collector: m.SequenceGaps.WithLabelValues("cat", "hr"), expected: 1},
		{name: "br gaps", collector: m.SequenceGaps.WithLabelValues("cat", "br"), expected: 0},
		{name: "hr estimates", collector: m.RateEstimates.WithLabelValues("cat", "hr"), expected: 2},
		{name: "heart rate", collector: m.HeartRate.WithLabelValues("cat"), expected: 76},
		{name: "breathing rate", collector: m.BreathingRate.WithLabelValues("cat"), expected: 18},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.collector); got != tt.expected {
				t.Errorf("Expected %g, got %g", tt.expected, got)
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SessionOpened(protocol.SensorHuman)
	m.SessionOpened(protocol.SensorDog)
	m.SessionClosed(bridge.CloseReasonIdle, 90*time.Second)

	if got := testutil.ToFloat64(m.ActiveSessions); got != 1 {
		t.Errorf("Expected 1 active session, got %g", got)
	}
	if got := testutil.ToFloat64(m.SessionsCreated.WithLabelValues("dog")); got != 1 {
		t.Errorf("Expected 1 dog session created, got %g", got)
	}
	if got := testutil.ToFloat64(m.SessionsClosed.WithLabelValues("idle")); got != 1 {
		t.Errorf("Expected 1 idle close, got %g", got)
	}
	if got := testutil.CollectAndCount(m.SessionDuration); got != 1 {
		t.Errorf("Expected 1 duration series, got %d", got)
	}
}

func TestMetricsWithManager(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	mgr := bridge.NewManager(nil, bridge.ManagerConfig{
		Session:   session.Options{Observer: m},
		Lifecycle: m,
	})
	defer mgr.Stop()

	resp, err := mgr.Initialize(bridge.InitializeRequest{Type: 2})
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
	if _, err := mgr.Feed(bridge.FeedRequest{Handle: resp.Handle, Data: []byte{0x01, 0x02, 0x03}}); err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
	mgr.Dispose(bridge.DisposeRequest{Handle: resp.Handle})

	expected := `
# HELP hrbr_skipped_bytes_total Total number of bytes skipped while searching for a marker
# TYPE hrbr_skipped_bytes_total counter
hrbr_skipped_bytes_total{sensor_type="rabbit"} 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "hrbr_skipped_bytes_total"); err != nil {
		t.Errorf("Unexpected metrics: %v", err)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Errorf("Expected no active sessions, got %g", got)
	}
}

func TestRecordSourceAndHTTP(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSourceRead(128)
	m.RecordSourceRead(64)
	m.RecordSourceError()
	m.RecordHTTPRequest("GET", "/health", "200", 0.01)
	m.RecordHTTPError("GET", "/sessions/x", "not_found")

	if got := testutil.ToFloat64(m.SourceBytes); got != 192 {
		t.Errorf("Expected 192 source bytes, got %g", got)
	}
	if got := testutil.ToFloat64(m.SourceReads); got != 2 {
		t.Errorf("Expected 2 source reads, got %g", got)
	}
	if got := testutil.ToFloat64(m.SourceErrors); got != 1 {
		t.Errorf("Expected 1 source error, got %g", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/health", "200")); got != 1 {
		t.Errorf("Expected 1 HTTP request, got %g", got)
	}
	if got := testutil.ToFloat64(m.HTTPErrors.WithLabelValues("GET", "/sessions/x", "not_found")); got != 1 {
		t.Errorf("Expected 1 HTTP error, got %g", got)
	}
}
