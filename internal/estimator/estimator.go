package estimator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/protocol"
)

// ErrDroppedSample reports a sample rejected without touching estimator state
var ErrDroppedSample = errors.New("dropped sample")

// Channel names one of the two estimation channels
type Channel string

const (
	ChannelHR Channel = "hr"
	ChannelBR Channel = "br"
)

// Snapshot is the five-value reading exposed to callers
type Snapshot struct {
	HR    int `json:"hr"`
	BR    int `json:"br"`
	GyroX int `json:"gyroX"`
	GyroY int `json:"gyroY"`
	GyroZ int `json:"gyroZ"`
}

// Reading extends Snapshot with auxiliary vitals and recent waveforms
type Reading struct {
	Snapshot

	Wearing     bool      `json:"wearing"`
	Battery     int       `json:"battery"`
	Steps       int       `json:"steps"`
	RRI         int       `json:"rri"`
	Pose        int       `json:"pose"`
	HasClimate  bool      `json:"has_climate"`
	Humidity    int       `json:"humidity"`
	Temperature float64   `json:"temperature"`
	Timestamp   int64     `json:"timestamp_ms"`
	PPG         []float64 `json:"ppg"`
	Resp        []float64 `json:"resp"`
}

// Stats represents estimator statistics for monitoring
type Stats struct {
	Accepted    uint64 `json:"accepted"`
	Dropped     uint64 `json:"dropped"`
	HRGaps      uint64 `json:"hr_gaps"`
	BRGaps      uint64 `json:"br_gaps"`
	HRPasses    uint64 `json:"hr_passes"`
	BRPasses    uint64 `json:"br_passes"`
	HREstimates uint64 `json:"hr_estimates"`
	BREstimates uint64 `json:"br_estimates"`
}

// sequenceTracker detects discontinuities in a wrapping counter
type sequenceTracker struct {
	modulus uint32
	last    uint32
	seen    bool
}

// observe records seq and reports whether it does not follow the previous one
func (t *sequenceTracker) observe(seq uint32) bool {
	gap := t.seen && seq != (t.last+1)%t.modulus
	t.last = seq
	t.seen = true
	return gap
}

// channel is the rolling state of one rate estimate
type channel struct {
	name    Channel
	window  *Window
	seq     sequenceTracker
	hop     int
	minHop  int
	minLen  int
	params  peakParams
	history []float64
	rate    int
}

func newChannel(name Channel, capacity, minLen, hop int, modulus uint32, params peakParams) *channel {
	return &channel{
		name:   name,
		window: NewWindow(capacity),
		seq:    sequenceTracker{modulus: modulus},
		minHop: hop,
		minLen: minLen,
		params: params,
	}
}

// reset clears the window and hop counter; the last rate is retained
func (c *channel) reset() {
	c.window.Reset()
	c.hop = 0
}

// Estimator turns decoded samples into heart rate, breathing rate and
// gyroscope readings. It is not safe for concurrent use.
type Estimator struct {
	profile Profile

	hr *channel
	br *channel

	gyro    protocol.Gyro
	hasGyro bool

	vitals     protocol.Vitals
	rri        int
	stillCount int
	contact    bool

	stats   Stats
	scratch []float64
	logger  *slog.Logger
}

// New creates an estimator for the given profile
func New(profile Profile, logger *slog.Logger) (*Estimator, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s profile: %w", profile.Type, err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	layout := profile.Layout
	e := &Estimator{
		profile: profile,
		hr: newChannel(ChannelHR, profile.HRCapacity(), profile.HRMinPoints, profile.HRHop,
			layout.SequenceModulus, profile.hrParams()),
		br: newChannel(ChannelBR, profile.BRCapacity(), profile.BRMinPoints, profile.BRHop,
			layout.RespSequenceModulus, profile.brParams()),
		vitals:  protocol.Vitals{Pose: -1},
		contact: true,
		logger:  logger.With(slog.String("sensor_type", profile.Type.String())),
	}
	return e, nil
}

// Update folds one decoded sample into the estimator state.
// Rejected samples return an error wrapping ErrDroppedSample and leave the
// state untouched, except that a sample without skin contact still marks
// the wearer as not wearing.
func (e *Estimator) Update(s *protocol.Sample) error {
	if err := e.check(s); err != nil {
		e.stats.Dropped++
		return err
	}

	if !s.Valid {
		e.contact = false
		e.stillCount = 0
		e.stats.Dropped++
		return fmt.Errorf("%w: no skin contact", ErrDroppedSample)
	}
	e.contact = true
	e.stats.Accepted++

	e.updateWearing(s.Gyro)
	e.gyro = s.Gyro
	e.hasGyro = true
	e.updateVitals(s.Vitals)

	e.feedChannel(e.hr, s.Sequence, s.PPG)
	e.feedChannel(e.br, s.RespSequence, s.Resp)

	return nil
}

// check applies the structural plausibility rules a decoded sample must pass
func (e *Estimator) check(s *protocol.Sample) error {
	if s == nil {
		return fmt.Errorf("%w: nil sample", ErrDroppedSample)
	}

	layout := e.profile.Layout
	if s.Type != e.profile.Type && protocol.LayoutFor(s.Type) != layout {
		return fmt.Errorf("%w: sample type %s does not match %s", ErrDroppedSample, s.Type, e.profile.Type)
	}
	if len(s.PPG) != layout.PPGPoints || len(s.Resp) != layout.RespPoints {
		return fmt.Errorf("%w: expected %d ppg and %d resp points, got %d and %d",
			ErrDroppedSample, layout.PPGPoints, layout.RespPoints, len(s.PPG), len(s.Resp))
	}

	for _, g := range []int{s.Gyro.X, s.Gyro.Y, s.Gyro.Z} {
		if g > layout.GyroRange || g < -layout.GyroRange {
			return fmt.Errorf("%w: gyro value %d outside ±%d", ErrDroppedSample, g, layout.GyroRange)
		}
	}

	return nil
}

// updateWearing counts consecutive still packages while no breathing is seen
func (e *Estimator) updateWearing(g protocol.Gyro) {
	if !e.hasGyro {
		return
	}
	d := e.profile.StillDelta
	still := absInt(g.X-e.gyro.X) <= d && absInt(g.Y-e.gyro.Y) <= d && absInt(g.Z-e.gyro.Z) <= d
	if still && e.br.rate == 0 {
		e.stillCount++
		return
	}
	e.stillCount = 0
}

func (e *Estimator) updateVitals(v protocol.Vitals) {
	switch {
	case v.RRI == 0:
		e.rri = 0
	case v.RRI >= e.profile.RRIMin:
		e.rri = v.RRI
	}
	e.vitals = v
}

// feedChannel checks continuity, appends points and runs a detection pass
// once the window is full enough and enough new points arrived.
func (e *Estimator) feedChannel(c *channel, seq uint32, points []uint16) {
	if c.seq.observe(seq) {
		if c == e.hr {
			e.stats.HRGaps++
		} else {
			e.stats.BRGaps++
		}
		e.logger.Debug("Sequence gap, restarting window",
			slog.String("channel", string(c.name)),
			slog.Uint64("sequence", uint64(seq)),
			slog.Int("discarded", c.window.Len()))
		c.reset()
	}

	for _, p := range points {
		c.window.Push(float64(p))
	}
	c.hop += len(points)

	if c.window.Len() < c.minLen || c.hop < c.minHop {
		return
	}
	c.hop = 0
	if c == e.hr {
		e.stats.HRPasses++
	} else {
		e.stats.BRPasses++
	}

	e.scratch = c.window.Values(e.scratch)
	result := detectRate(e.scratch, c.params)
	if !result.ok {
		e.logger.Debug("No rate from window, keeping previous",
			slog.String("channel", string(c.name)),
			slog.Int("peaks", result.peaks),
			slog.Float64("bpm", result.bpm),
			slog.Int("previous", c.rate))
		return
	}

	c.history = append(c.history, result.bpm)
	if len(c.history) > e.profile.HistoryDepth {
		c.history = c.history[len(c.history)-e.profile.HistoryDepth:]
	}
	c.rate = int(math.Round(trimmedMean(c.history, e.profile.TrimPercent)))
	if c == e.hr {
		e.stats.HREstimates++
	} else {
		e.stats.BREstimates++
	}
}

// Snapshot returns the current five-value reading
func (e *Estimator) Snapshot() Snapshot {
	return Snapshot{
		HR:    e.hr.rate,
		BR:    e.br.rate,
		GyroX: e.gyro.X,
		GyroY: e.gyro.Y,
		GyroZ: e.gyro.Z,
	}
}

// Reading returns the snapshot together with vitals and recent waveforms
func (e *Estimator) Reading() Reading {
	layout := e.profile.Layout
	ppgPoints := int(e.profile.ExportSeconds * layout.PPGRate)
	respPoints := int(e.profile.ExportSeconds * layout.RespRate)

	return Reading{
		Snapshot:    e.Snapshot(),
		Wearing:     e.Wearing(),
		Battery:     e.vitals.Battery,
		Steps:       e.vitals.Steps,
		RRI:         e.rri,
		Pose:        e.vitals.Pose,
		HasClimate:  e.vitals.HasClimate,
		Humidity:    e.vitals.Humidity,
		Temperature: e.vitals.Temperature,
		Timestamp:   e.vitals.Timestamp,
		PPG:         e.hr.window.Last(ppgPoints, nil),
		Resp:        e.br.window.Last(respPoints, nil),
	}
}

// Wearing reports whether the sensor appears to be worn
func (e *Estimator) Wearing() bool {
	return e.contact && e.stillCount < e.profile.StillPackages
}

// SetBRThreshold changes the respiration amplitude gate
func (e *Estimator) SetBRThreshold(threshold float64) error {
	if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return fmt.Errorf("br threshold must be positive, got %g", threshold)
	}
	e.profile.BRThreshold = threshold
	e.br.params.minAmplitude = threshold
	return nil
}

// Profile returns the active profile
func (e *Estimator) Profile() Profile {
	return e.profile
}

// Stats returns current estimator statistics
func (e *Estimator) Stats() Stats {
	return e.stats
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
