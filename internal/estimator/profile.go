package estimator

import (
	"fmt"
	"math"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/protocol"
)

// DefaultBRThreshold is the minimum peak-to-peak respiration amplitude,
// in raw counts, required before a breathing rate is computed.
const DefaultBRThreshold = 200

// Profile holds every numeric policy of the estimator for one sensor type.
type Profile struct {
	Type   protocol.SensorType
	Layout *protocol.Layout

	// Heart rate channel
	HRWindow    float64 // seconds
	HRMinPoints int
	HRHop       int // new points between passes
	HRMinBPM    float64
	HRMaxBPM    float64
	HRPeakK     float64 // threshold = mean + k*std

	// Breathing rate channel
	BRWindow    float64 // seconds
	BRMinPoints int
	BRHop       int
	BRMinBPM    float64
	BRMaxBPM    float64
	BRPeakK     float64
	BRSmoothing int     // moving average length, 1 disables
	BRThreshold float64 // minimum peak-to-peak amplitude

	// Reported rates are the trimmed mean of the last HistoryDepth
	// estimates with TrimPercent dropped from each end.
	HistoryDepth int
	TrimPercent  int

	// Wearing detection
	StillDelta    int
	StillPackages int

	// RRI values below RRIMin are treated as unreliable
	RRIMin int

	// Seconds of recent waveform exported in readings
	ExportSeconds float64
}

var humanProfile = Profile{
	Type:          protocol.SensorHuman,
	HRWindow:      8,
	HRMinPoints:   64,
	HRHop:         16,
	HRMinBPM:      40,
	HRMaxBPM:      200,
	HRPeakK:       0.5,
	BRWindow:      30,
	BRMinPoints:   256,
	BRHop:         32,
	BRMinBPM:      4,
	BRMaxBPM:      40,
	BRPeakK:       0.3,
	BRSmoothing:   32,
	BRThreshold:   DefaultBRThreshold,
	HistoryDepth:  5,
	TrimPercent:   20,
	StillDelta:    5,
	StillPackages: 96,
	RRIMin:        20,
	ExportSeconds: 4,
}

// petProfile is shared by the collar sensor types; rate ranges differ per species
var petProfile = Profile{
	HRWindow:      6,
	HRMinPoints:   20,
	HRHop:         20,
	HRPeakK:       0.5,
	BRWindow:      30,
	BRMinPoints:   32,
	BRHop:         4,
	BRMinBPM:      4,
	BRPeakK:       0.3,
	BRSmoothing:   1,
	BRThreshold:   DefaultBRThreshold,
	HistoryDepth:  5,
	TrimPercent:   20,
	StillDelta:    5,
	StillPackages: 96,
	RRIMin:        20,
	ExportSeconds: 4,
}

// ProfileFor returns the default profile for t
func ProfileFor(t protocol.SensorType) (Profile, error) {
	layout := protocol.LayoutFor(t)
	if layout == nil {
		return Profile{}, fmt.Errorf("%w: %d", protocol.ErrUnsupportedSensorType, uint8(t))
	}

	var p Profile
	switch t {
	case protocol.SensorHuman:
		p = humanProfile
	case protocol.SensorCat:
		p = petProfile
		p.HRMinBPM, p.HRMaxBPM = 60, 260
		p.BRMaxBPM = 60
	case protocol.SensorRabbit:
		p = petProfile
		p.HRMinBPM, p.HRMaxBPM = 100, 325
		p.BRMaxBPM = 80
	case protocol.SensorDog:
		p = petProfile
		p.HRMinBPM, p.HRMaxBPM = 50, 220
		p.BRMaxBPM = 60
	default:
		return Profile{}, fmt.Errorf("%w: %d", protocol.ErrUnsupportedSensorType, uint8(t))
	}

	p.Type = t
	p.Layout = layout
	return p, nil
}

// Validate validates the profile
func (p Profile) Validate() error {
	if p.Layout == nil {
		return fmt.Errorf("profile has no layout")
	}
	if p.HRWindow <= 0 || p.BRWindow <= 0 {
		return fmt.Errorf("windows must be positive")
	}
	if p.HRMinPoints <= 0 || p.HRMinPoints > p.HRCapacity() {
		return fmt.Errorf("hr min points %d outside window of %d points", p.HRMinPoints, p.HRCapacity())
	}
	if p.BRMinPoints <= 0 || p.BRMinPoints > p.BRCapacity() {
		return fmt.Errorf("br min points %d outside window of %d points", p.BRMinPoints, p.BRCapacity())
	}
	if p.HRHop <= 0 || p.BRHop <= 0 {
		return fmt.Errorf("hops must be positive")
	}
	if p.HRMinBPM <= 0 || p.HRMaxBPM <= p.HRMinBPM {
		return fmt.Errorf("invalid hr range [%g, %g]", p.HRMinBPM, p.HRMaxBPM)
	}
	if p.BRMinBPM <= 0 || p.BRMaxBPM <= p.BRMinBPM {
		return fmt.Errorf("invalid br range [%g, %g]", p.BRMinBPM, p.BRMaxBPM)
	}
	if p.BRSmoothing < 1 || p.BRSmoothing > p.BRMinPoints {
		return fmt.Errorf("br smoothing %d must be between 1 and %d", p.BRSmoothing, p.BRMinPoints)
	}
	if p.BRThreshold <= 0 {
		return fmt.Errorf("br threshold must be positive, got %g", p.BRThreshold)
	}
	if p.HistoryDepth <= 0 {
		return fmt.Errorf("history depth must be positive, got %d", p.HistoryDepth)
	}
	if p.TrimPercent < 0 || p.TrimPercent >= 50 {
		return fmt.Errorf("trim percent must be in [0, 50), got %d", p.TrimPercent)
	}
	return nil
}

// HRCapacity returns the HR window length in points
func (p Profile) HRCapacity() int {
	return int(math.Round(p.HRWindow * p.Layout.PPGRate))
}

// BRCapacity returns the BR window length in points
func (p Profile) BRCapacity() int {
	return int(math.Round(p.BRWindow * p.Layout.RespRate))
}

// hrParams and brParams convert the profile into peak detection settings
func (p Profile) hrParams() peakParams {
	return peakParams{
		rate:      p.Layout.PPGRate,
		minBPM:    p.HRMinBPM,
		maxBPM:    p.HRMaxBPM,
		k:         p.HRPeakK,
		smoothing: 1,
	}
}

func (p Profile) brParams() peakParams {
	return peakParams{
		rate:         p.Layout.RespRate,
		minBPM:       p.BRMinBPM,
		maxBPM:       p.BRMaxBPM,
		k:            p.BRPeakK,
		smoothing:    p.BRSmoothing,
		minAmplitude: p.BRThreshold,
	}
}
