package estimator

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// peakParams configures one rate detection pass
type peakParams struct {
	rate         float64 // Hz
	minBPM       float64
	maxBPM       float64
	k            float64
	smoothing    int
	minAmplitude float64 // 0 disables the amplitude gate
}

// peakResult describes why a pass produced, or did not produce, a rate
type peakResult struct {
	bpm   float64
	peaks int
	ok    bool
}

// detectRate estimates a periodic rate in events per minute from x.
func detectRate(x []float64, p peakParams) peakResult {
	if p.smoothing > 1 {
		x = movingAverage(x, p.smoothing)
	}
	if len(x) < 3 {
		return peakResult{}
	}

	if p.minAmplitude > 0 && floats.Max(x)-floats.Min(x) < p.minAmplitude {
		return peakResult{}
	}

	mean, std := stat.MeanStdDev(x, nil)
	if std == 0 || math.IsNaN(std) {
		return peakResult{}
	}

	distance := int(math.Ceil(p.rate * 60 / p.maxBPM))
	peaks := findPeaks(x, mean+p.k*std, distance)
	if len(peaks) < 2 {
		return peakResult{peaks: len(peaks)}
	}

	interval := medianInterval(peaks)
	bpm := 60 * p.rate / interval
	if bpm < p.minBPM || bpm > p.maxBPM {
		return peakResult{bpm: bpm, peaks: len(peaks)}
	}

	return peakResult{bpm: bpm, peaks: len(peaks), ok: true}
}

// findPeaks returns indices of local maxima above threshold. Peaks closer
// than distance samples compete and the higher one is kept.
func findPeaks(x []float64, threshold float64, distance int) []int {
	var peaks []int
	for i := 1; i < len(x)-1; i++ {
		if x[i] <= threshold || x[i] < x[i-1] || x[i] <= x[i+1] {
			continue
		}
		if n := len(peaks); n > 0 && i-peaks[n-1] < distance {
			if x[i] > x[peaks[n-1]] {
				peaks[n-1] = i
			}
			continue
		}
		peaks = append(peaks, i)
	}
	return peaks
}

// medianInterval returns the median distance between consecutive peaks
func medianInterval(peaks []int) float64 {
	intervals := make([]float64, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		intervals[i-1] = float64(peaks[i] - peaks[i-1])
	}
	sort.Float64s(intervals)

	// Average the two middle values for even counts
	if n := len(intervals); n%2 == 0 {
		return (intervals[n/2-1] + intervals[n/2]) / 2
	}
	return stat.Quantile(0.5, stat.Empirical, intervals, nil)
}

// movingAverage returns the valid-region moving average of x over w points
func movingAverage(x []float64, w int) []float64 {
	if w <= 1 || len(x) < w {
		return x
	}
	out := make([]float64, len(x)-w+1)
	sum := floats.Sum(x[:w])
	out[0] = sum / float64(w)
	for i := w; i < len(x); i++ {
		sum += x[i] - x[i-w]
		out[i-w+1] = sum / float64(w)
	}
	return out
}

// trimmedMean drops trimPercent of the sorted values from each end and
// averages the rest.
func trimmedMean(values []float64, trimPercent int) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	trim := len(sorted) * trimPercent / 100
	middle := sorted[trim : len(sorted)-trim]
	if len(middle) == 0 {
		middle = sorted
	}
	return stat.Mean(middle, nil)
}
