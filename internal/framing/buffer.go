package framing

import (
	"io"
	"log/slog"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/protocol"
)

// DefaultBacklogPackages bounds the backlog when no capacity is configured
const DefaultBacklogPackages = 64

// Buffer accumulates stream bytes for one sensor layout and extracts
// packages from them. It is not safe for concurrent use; the owning
// session serializes access.
type Buffer struct {
	layout   *protocol.Layout
	capacity int // bytes

	// Unconsumed bytes; never holds a complete verified package between pushes
	backlog []byte

	stats  Stats
	logger *slog.Logger
}

// Stats represents framing statistics for monitoring
type Stats struct {
	Packages         uint64 `json:"packages"`
	SkippedBytes     uint64 `json:"skipped_bytes"`
	ChecksumFailures uint64 `json:"checksum_failures"`
	OverflowBytes    uint64 `json:"overflow_bytes"`
	OverflowEvents   uint64 `json:"overflow_events"`
	Buffered         int    `json:"buffered_bytes"`
}

// NewBuffer creates a framing buffer for layout holding at most
// backlogPackages packages worth of unconsumed bytes.
func NewBuffer(layout *protocol.Layout, backlogPackages int, logger *slog.Logger) *Buffer {
	if backlogPackages <= 0 {
		backlogPackages = DefaultBacklogPackages
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	capacity := backlogPackages * layout.Length
	return &Buffer{
		layout:   layout,
		capacity: capacity,
		backlog:  make([]byte, 0, capacity+layout.Length),
		logger:   logger.With(slog.String("layout", layout.Name)),
	}
}

// Push appends data to the backlog and returns every complete package that
// can now be extracted, in stream order. Returned packages are fresh copies
// owned by the caller. Input longer than the free backlog space is scanned
// slice by slice, so the result does not depend on how the stream was
// chunked.
func (b *Buffer) Push(data []byte) []protocol.RawPackage {
	var packages []protocol.RawPackage

	for len(data) > 0 {
		n := b.capacity - len(b.backlog)
		if n < 1 {
			n = 1
		}
		if n > len(data) {
			n = len(data)
		}

		b.backlog = append(b.backlog, data[:n]...)
		data = data[n:]

		packages = b.scan(packages)
		b.trim()
	}

	return packages
}

// scan extracts packages from the backlog into packages and keeps the
// unconsumed tail.
func (b *Buffer) scan(packages []protocol.RawPackage) []protocol.RawPackage {
	length := b.layout.Length
	pos := 0

	for pos < len(b.backlog) {
		// Skip to the next marker
		if !b.layout.IsMarker(b.backlog[pos]) {
			next := b.nextMarker(pos + 1)
			b.stats.SkippedBytes += uint64(next - pos)
			pos = next
			continue
		}

		// Wait for the rest of the package
		if len(b.backlog)-pos < length {
			break
		}

		candidate := b.backlog[pos : pos+length]
		if !b.layout.Checksum.Verify(candidate) {
			// Resynchronize on the following byte
			b.stats.ChecksumFailures++
			b.logger.Debug("Checksum mismatch, resynchronizing",
				slog.Int("offset", pos),
				slog.String("checksum", b.layout.Checksum.String()))
			pos++
			continue
		}

		pkg := make(protocol.RawPackage, length)
		copy(pkg, candidate)
		packages = append(packages, pkg)
		b.stats.Packages++
		pos += length
	}

	// Shift remaining bytes to the front
	remaining := copy(b.backlog, b.backlog[pos:])
	b.backlog = b.backlog[:remaining]

	return packages
}

// trim drops the oldest unconsumed bytes beyond the capacity
func (b *Buffer) trim() {
	if excess := len(b.backlog) - b.capacity; excess > 0 {
		b.dropOldest(excess)
	}
}

// nextMarker returns the index of the first marker at or after from, or
// the backlog length if there is none.
func (b *Buffer) nextMarker(from int) int {
	for i := from; i < len(b.backlog); i++ {
		if b.layout.IsMarker(b.backlog[i]) {
			return i
		}
	}
	return len(b.backlog)
}

// dropOldest discards n bytes from the head of the backlog
func (b *Buffer) dropOldest(n int) {
	remaining := copy(b.backlog, b.backlog[n:])
	b.backlog = b.backlog[:remaining]

	b.stats.OverflowBytes += uint64(n)
	b.stats.OverflowEvents++

	b.logger.Warn("Framing backlog overflow, dropped oldest bytes",
		slog.Int("dropped", n),
		slog.Int("capacity", b.capacity))
}

// Reset discards the backlog. Statistics are kept.
func (b *Buffer) Reset() {
	b.backlog = b.backlog[:0]
}

// Stats returns current framing statistics
func (b *Buffer) Stats() Stats {
	stats := b.stats
	stats.Buffered = len(b.backlog)
	return stats
}

// Layout returns the layout this buffer frames
func (b *Buffer) Layout() *protocol.Layout {
	return b.layout
}

// Capacity returns the backlog bound in bytes
func (b *Buffer) Capacity() int {
	return b.capacity
}
