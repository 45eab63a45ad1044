package session

import (
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/estimator"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/framing"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/protocol"
)

// Diagnostics counts the data-quality events absorbed by a session
type Diagnostics struct {
	Packages         uint64 `json:"packages"`
	ChecksumFailures uint64 `json:"checksum_failures"`
	SkippedBytes     uint64 `json:"skipped_bytes"`
	OverflowBytes    uint64 `json:"overflow_bytes"`
	OverflowEvents   uint64 `json:"overflow_events"`
	Malformed        uint64 `json:"malformed"`
	Dropped          uint64 `json:"dropped"`
	HRGaps           uint64 `json:"hr_gaps"`
	BRGaps           uint64 `json:"br_gaps"`
	HREstimates      uint64 `json:"hr_estimates"`
	BREstimates      uint64 `json:"br_estimates"`
	BytesFed         uint64 `json:"bytes_fed"`
}

// Observer receives per-feed diagnostic deltas and the resulting snapshot.
// Implementations must not call back into the session.
type Observer interface {
	ObserveFeed(sensorType protocol.SensorType, delta Diagnostics, snapshot Snapshot)
}

// Add accumulates o into d
func (d *Diagnostics) Add(o Diagnostics) {
	d.Packages += o.Packages
	d.ChecksumFailures += o.ChecksumFailures
	d.SkippedBytes += o.SkippedBytes
	d.OverflowBytes += o.OverflowBytes
	d.OverflowEvents += o.OverflowEvents
	d.Malformed += o.Malformed
	d.Dropped += o.Dropped
	d.HRGaps += o.HRGaps
	d.BRGaps += o.BRGaps
	d.HREstimates += o.HREstimates
	d.BREstimates += o.BREstimates
	d.BytesFed += o.BytesFed
}

// framingDelta returns the framing counters accumulated between two stats
func framingDelta(before, after framing.Stats) Diagnostics {
	return Diagnostics{
		Packages:         after.Packages - before.Packages,
		ChecksumFailures: after.ChecksumFailures - before.ChecksumFailures,
		SkippedBytes:     after.SkippedBytes - before.SkippedBytes,
		OverflowBytes:    after.OverflowBytes - before.OverflowBytes,
		OverflowEvents:   after.OverflowEvents - before.OverflowEvents,
	}
}

// estimatorDelta returns the estimator counters accumulated between two stats
func estimatorDelta(before, after estimator.Stats) Diagnostics {
	return Diagnostics{
		Dropped:     after.Dropped - before.Dropped,
		HRGaps:      after.HRGaps - before.HRGaps,
		BRGaps:      after.BRGaps - before.BRGaps,
		HREstimates: after.HREstimates - before.HREstimates,
		BREstimates: after.BREstimates - before.BREstimates,
	}
}
