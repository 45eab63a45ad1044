package estimator

// Window is a fixed-capacity ring of waveform points; the oldest point is
// evicted when a new one arrives at capacity.
type Window struct {
	points []float64
	start  int
	size   int
}

// NewWindow creates an empty window holding up to capacity points
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{points: make([]float64, capacity)}
}

// Push appends a point, evicting the oldest one if the window is full
func (w *Window) Push(v float64) {
	capacity := len(w.points)
	if w.size < capacity {
		w.points[(w.start+w.size)%capacity] = v
		w.size++
		return
	}
	w.points[w.start] = v
	w.start = (w.start + 1) % capacity
}

// Len returns the number of points held
func (w *Window) Len() int {
	return w.size
}

// Cap returns the window capacity
func (w *Window) Cap() int {
	return len(w.points)
}

// Reset empties the window
func (w *Window) Reset() {
	w.start = 0
	w.size = 0
}

// Values appends the points, oldest first, to dst[:0] and returns it
func (w *Window) Values(dst []float64) []float64 {
	return w.Last(w.size, dst)
}

// Last appends the newest n points, oldest first, to dst[:0] and returns it
func (w *Window) Last(n int, dst []float64) []float64 {
	if n > w.size {
		n = w.size
	}
	dst = dst[:0]
	capacity := len(w.points)
	for i := w.size - n; i < w.size; i++ {
		dst = append(dst, w.points[(w.start+i)%capacity])
	}
	return dst
}
