package simulate

import "math"

// Waveform generates a PPG-like pulse train and a breathing trace.
// Values are a deterministic function of the sample index.
type Waveform struct {
	heartRate     float64 // bpm
	breathingRate float64 // bpm
	noise         float64 // fraction of the amplitude
}

// NewWaveform heartRate and breathingRate in bpm, noise ~0.0-0.05
func NewWaveform(heartRate, breathingRate, noise float64) *Waveform {
	return &Waveform{heartRate: heartRate, breathingRate: breathingRate, noise: noise}
}

// Pulse returns the normalized pulse value in [0, 1] of sample n at fs Hz.
func (w *Waveform) Pulse(n int, fs float64) float64 {
	t := fract(float64(n) * w.heartRate / 60 / fs)

	// systolic peak plus a small dicrotic wave
	v := gauss(t, 0.25, 0.08) + 0.2*gauss(t, 0.55, 0.06)
	return clamp01(v/1.2 + w.jitter(n, 1))
}

// Breath returns the normalized breathing value in [-1, 1] of sample n at fs Hz.
func (w *Waveform) Breath(n int, fs float64) float64 {
	t := float64(n) * w.breathingRate / 60 / fs
	v := math.Sin(2*math.Pi*t) + w.jitter(n, 2)
	return math.Max(-1, math.Min(1, v))
}

// jitter is a cheap deterministic noise term
func (w *Waveform) jitter(n int, salt float64) float64 {
	if w.noise == 0 {
		return 0
	}
	return w.noise * (2*fract(math.Sin(12.9898*float64(n)+78.233*salt)*43758.5453) - 1)
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

func fract(x float64) float64 { return x - math.Floor(x) }

func clamp01(x float64) float64 { return math.Max(0, math.Min(1, x)) }
