package simulate

import (
	"fmt"
	"io"
	"math"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/protocol"
)

// Signal levels in ADC counts per layout
type levels struct {
	ppgBase, ppgAmplitude   float64
	respBase, respAmplitude float64
}

var (
	bandLevels   = levels{ppgBase: 30000, ppgAmplitude: 4000, respAmplitude: 600}
	collarLevels = levels{ppgBase: 1500, ppgAmplitude: 1500, respBase: 2000, respAmplitude: 600}
)

// Config describes a simulated wearer
type Config struct {
	Type          protocol.SensorType
	HeartRate     float64 // bpm
	BreathingRate float64 // bpm
	Noise         float64
	Battery       int
	// Motion adds gyro activity and step counts
	Motion bool
	// NoContact clears the collar skin contact flag
	NoContact bool
	// GarbageEvery inserts non-marker bytes after every n-th package; 0 disables
	GarbageEvery int
	GarbageBytes int
}

// Stream encodes consecutive packages of a simulated wearer
type Stream struct {
	config   Config
	layout   *protocol.Layout
	levels   levels
	waveform *Waveform

	packages int
	steps    int
}

// NewStream creates a stream for config.Type
func NewStream(config Config) (*Stream, error) {
	layout := protocol.LayoutFor(config.Type)
	if layout == nil {
		return nil, fmt.Errorf("%w: %d", protocol.ErrUnsupportedSensorType, uint8(config.Type))
	}
	if config.HeartRate <= 0 || config.BreathingRate <= 0 {
		return nil, fmt.Errorf("rates must be positive, got hr %g br %g", config.HeartRate, config.BreathingRate)
	}
	if config.Noise < 0 || config.Noise > 0.5 {
		return nil, fmt.Errorf("noise must be between 0 and 0.5, got %g", config.Noise)
	}
	if config.Battery == 0 {
		config.Battery = 90
	}
	if config.GarbageEvery > 0 && config.GarbageBytes <= 0 {
		config.GarbageBytes = 7
	}

	lv := collarLevels
	if config.Type == protocol.SensorHuman {
		lv = bandLevels
	}

	return &Stream{
		config:   config,
		layout:   layout,
		levels:   lv,
		waveform: NewWaveform(config.HeartRate, config.BreathingRate, config.Noise),
	}, nil
}

// Layout returns the package layout of the stream
func (s *Stream) Layout() *protocol.Layout {
	return s.layout
}

// Sample builds the next sample without encoding it
func (s *Stream) Sample() *protocol.Sample {
	k := s.packages
	s.packages++

	if s.config.Motion && k%4 == 0 {
		s.steps++
	}

	sample := &protocol.Sample{
		Type:  s.config.Type,
		Gyro:  s.gyro(k),
		Valid: true,
	}

	if s.config.Type == protocol.SensorHuman {
		s.fillBand(sample, k)
	} else {
		s.fillCollar(sample, k)
	}
	return sample
}

func (s *Stream) fillBand(sample *protocol.Sample, k int) {
	lv := s.levels
	v := lv.ppgBase +
		lv.ppgAmplitude*s.waveform.Pulse(k, s.layout.PPGRate) +
		lv.respAmplitude*s.waveform.Breath(k, s.layout.PPGRate)
	point := uint16(math.Round(v))

	sample.Sequence = uint32(k) % s.layout.SequenceModulus
	sample.RespSequence = sample.Sequence
	sample.PPG = []uint16{point}
	sample.Resp = []uint16{point}
	sample.Vitals = protocol.Vitals{
		Battery:        s.config.Battery,
		Steps:          s.steps,
		RRI:            int(math.Round(6000 / s.config.HeartRate)), // 10 ms units
		Pose:           -1,
		HasClimate:     true,
		HumidityRaw:    120,
		TemperatureRaw: 26000,
		Timestamp:      int64(float64(k) * 1000 / s.layout.PPGRate),
	}
}

func (s *Stream) fillCollar(sample *protocol.Sample, k int) {
	lv := s.levels
	adcMax := float64(s.layout.ADCMax())

	sample.PPG = make([]uint16, s.layout.PPGPoints)
	for i := range sample.PPG {
		n := k*s.layout.PPGPoints + i
		v := lv.ppgBase + lv.ppgAmplitude*s.waveform.Pulse(n, s.layout.PPGRate)
		sample.PPG[i] = uint16(math.Round(math.Min(v, adcMax)))
	}
	sample.Resp = make([]uint16, s.layout.RespPoints)
	for i := range sample.Resp {
		n := k*s.layout.RespPoints + i
		v := lv.respBase + lv.respAmplitude*s.waveform.Breath(n, s.layout.RespRate)
		sample.Resp[i] = uint16(math.Round(math.Max(0, math.Min(v, adcMax))))
	}

	sample.Sequence = uint32(k) % s.layout.SequenceModulus
	sample.RespSequence = uint32(k) % s.layout.RespSequenceModulus
	sample.Valid = !s.config.NoContact
	sample.Vitals = protocol.Vitals{
		Battery: s.config.Battery,
		Steps:   s.steps,
		Pose:    1,
		Contact: !s.config.NoContact,
	}
}

// gyro returns a still reading, or a slow swing when Motion is set
func (s *Stream) gyro(k int) protocol.Gyro {
	if !s.config.Motion {
		return protocol.Gyro{}
	}
	swing := float64(s.layout.GyroRange) / 4
	if swing > 100 {
		swing = 100
	}
	phase := 2 * math.Pi * float64(k) / 16
	return protocol.Gyro{
		X: int(swing * math.Sin(phase)),
		Y: int(swing * math.Cos(phase)),
		Z: int(swing / 2 * math.Sin(2*phase)),
	}
}

// Next encodes the next package
func (s *Stream) Next() (protocol.RawPackage, error) {
	return protocol.Encode(s.Sample())
}

// Bytes returns n consecutive packages as one byte stream, with garbage
// inserted as configured
func (s *Stream) Bytes(n int) ([]byte, error) {
	out := make([]byte, 0, n*s.layout.Length)
	for i := 0; i < n; i++ {
		pkg, err := s.Next()
		if err != nil {
			return nil, fmt.Errorf("package %d: %w", i, err)
		}
		out = append(out, pkg...)

		if s.config.GarbageEvery > 0 && (i+1)%s.config.GarbageEvery == 0 {
			out = append(out, s.garbage(i)...)
		}
	}
	return out, nil
}

// garbage returns bytes that never start a package
func (s *Stream) garbage(i int) []byte {
	g := make([]byte, s.config.GarbageBytes)
	for j := range g {
		b := byte(0x10 + (i*31+j*7)%0x60)
		for s.layout.IsMarker(b) {
			b++
		}
		g[j] = b
	}
	return g
}

// PackagesFor returns how many packages cover the given number of seconds
func (s *Stream) PackagesFor(seconds float64) int {
	return int(math.Ceil(seconds / s.layout.PackageDuration()))
}

// WriteRaw writes n packages to w and returns the number of bytes written
func (s *Stream) WriteRaw(w io.Writer, n int) (int, error) {
	data, err := s.Bytes(n)
	if err != nil {
		return 0, err
	}
	return w.Write(data)
}
