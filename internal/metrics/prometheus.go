package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/bridge"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/protocol"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/session"
)

var (
	_ session.Observer         = (*Metrics)(nil)
	_ bridge.LifecycleObserver = (*Metrics)(nil)
)

// Metrics contains all Prometheus metrics for the HR/BR decoder
type Metrics struct {
	// Source metrics
	SourceBytes  prometheus.Counter
	SourceReads  prometheus.Counter
	SourceErrors prometheus.Counter

	// Framing metrics
	BytesFed         *prometheus.CounterVec
	FeedSize         prometheus.Histogram
	PackagesFramed   *prometheus.CounterVec
	ChecksumFailures *prometheus.CounterVec
	SkippedBytes     *prometheus.CounterVec
	OverflowBytes    *prometheus.CounterVec
	OverflowEvents   *prometheus.CounterVec

	// Decoder and estimator metrics
	MalformedPackages *prometheus.CounterVec
	DroppedSamples    *prometheus.CounterVec
	SequenceGaps      *prometheus.CounterVec
	RateEstimates     *prometheus.CounterVec
	HeartRate         *prometheus.GaugeVec
	BreathingRate     *prometheus.GaugeVec

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated *prometheus.CounterVec
	SessionsClosed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	sensorLabels := []string{"sensor_type"}

	return &Metrics{
		// Source metrics
		SourceBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "hrbr_source_bytes_total",
			Help: "Total number of bytes read from the sensor source",
		}),
		SourceReads: factory.NewCounter(prometheus.CounterOpts{
			Name: "hrbr_source_reads_total",
			Help: "Total number of non-empty reads from the sensor source",
		}),
		SourceErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "hrbr_source_errors_total",
			Help: "Total number of sensor source read errors",
		}),

		// Framing metrics
		BytesFed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_bytes_fed_total",
			Help: "Total number of bytes fed into sessions",
		}, sensorLabels),
		FeedSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hrbr_feed_size_bytes",
			Help:    "Size of byte buffers passed to feed",
			Buckets: prometheus.ExponentialBuckets(16, 2, 10), // 16B to 8KB
		}),
		PackagesFramed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_packages_framed_total",
			Help: "Total number of checksum-verified packages extracted from the stream",
		}, sensorLabels),
		ChecksumFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_checksum_failures_total",
			Help: "Total number of package candidates rejected by checksum",
		}, sensorLabels),
		SkippedBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_skipped_bytes_total",
			Help: "Total number of bytes skipped while searching for a marker",
		}, sensorLabels),
		OverflowBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_overflow_bytes_total",
			Help: "Total number of backlog bytes dropped on overflow",
		}, sensorLabels),
		OverflowEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_overflow_events_total",
			Help: "Total number of framing backlog overflows",
		}, sensorLabels),

		// Decoder and estimator metrics
		MalformedPackages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_malformed_packages_total",
			Help: "Total number of packages rejected by the decoder",
		}, sensorLabels),
		DroppedSamples: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_dropped_samples_total",
			Help: "Total number of decoded samples rejected by the estimator",
		}, sensorLabels),
		SequenceGaps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_sequence_gaps_total",
			Help: "Total number of sequence discontinuities per channel",
		}, []string{"sensor_type", "channel"}),
		RateEstimates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_rate_estimates_total",
			Help: "Total number of accepted rate estimates per channel",
		}, []string{"sensor_type", "channel"}),
		HeartRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hrbr_heart_rate_bpm",
			Help: "Most recently reported heart rate",
		}, sensorLabels),
		BreathingRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hrbr_breathing_rate_bpm",
			Help: "Most recently reported breathing rate",
		}, sensorLabels),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "hrbr_active_sessions",
			Help: "Current number of live sessions",
		}),
		SessionsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_sessions_created_total",
			Help: "Total number of sessions created",
		}, sensorLabels),
		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_sessions_closed_total",
			Help: "Total number of sessions closed",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "hrbr_session_duration_seconds",
			Help:    "Lifetime of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2 hours
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hrbr_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "hrbr_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// ObserveFeed records the diagnostics of one feed call
func (m *Metrics) ObserveFeed(sensorType protocol.SensorType, delta session.Diagnostics, snapshot session.Snapshot) {
	st := sensorType.String()

	m.BytesFed.WithLabelValues(st).Add(float64(delta.BytesFed))
	m.FeedSize.Observe(float64(delta.BytesFed))
	m.PackagesFramed.WithLabelValues(st).Add(float64(delta.Packages))
	m.ChecksumFailures.WithLabelValues(st).Add(float64(delta.ChecksumFailures))
	m.SkippedBytes.WithLabelValues(st).Add(float64(delta.SkippedBytes))
	m.OverflowBytes.WithLabelValues(st).Add(float64(delta.OverflowBytes))
	m.OverflowEvents.WithLabelValues(st).Add(float64(delta.OverflowEvents))
	m.MalformedPackages.WithLabelValues(st).Add(float64(delta.Malformed))
	m.DroppedSamples.WithLabelValues(st).Add(float64(delta.Dropped))
	m.SequenceGaps.WithLabelValues(st, "hr").Add(float64(delta.HRGaps))
	m.SequenceGaps.WithLabelValues(st, "br").Add(float64(delta.BRGaps))
	m.RateEstimates.WithLabelValues(st, "hr").Add(float64(delta.HREstimates))
	m.RateEstimates.WithLabelValues(st, "br").Add(float64(delta.BREstimates))

	m.HeartRate.WithLabelValues(st).Set(float64(snapshot.HR))
	m.BreathingRate.WithLabelValues(st).Set(float64(snapshot.BR))
}

// SessionOpened records a created session
func (m *Metrics) SessionOpened(sensorType protocol.SensorType) {
	m.SessionsCreated.WithLabelValues(sensorType.String()).Inc()
	m.ActiveSessions.Inc()
}

// SessionClosed records a closed session and its lifetime
func (m *Metrics) SessionClosed(reason string, lifetime time.Duration) {
	m.SessionsClosed.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(lifetime.Seconds())
	m.ActiveSessions.Dec()
}

// RecordSourceRead records a read of n bytes from the sensor source
func (m *Metrics) RecordSourceRead(n int) {
	m.SourceReads.Inc()
	m.SourceBytes.Add(float64(n))
}

// RecordSourceError increments the source errors counter
func (m *Metrics) RecordSourceError() {
	m.SourceErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
