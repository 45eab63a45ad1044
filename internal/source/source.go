package source

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

// Source kinds accepted by Open
const (
	KindFile   = "file"
	KindSerial = "serial"
	KindPcap   = "pcap"
)

// Source is a stream of raw sensor bytes. Read returns io.EOF once a
// finite source is exhausted; a read that times out returns 0, nil.
type Source interface {
	io.ReadCloser
	Name() string
}

// Options configures Open
type Options struct {
	Serial      PortOptions
	ReadTimeout time.Duration
	// UDPPort keeps only pcap payloads to or from this port; 0 keeps all
	UDPPort int
	Logger  *slog.Logger
}

// Open opens the source of the given kind at path
func Open(kind, path string, opts Options) (Source, error) {
	var (
		src Source
		err error
	)
	switch kind {
	case KindFile:
		src, err = OpenFile(path)
	case KindSerial:
		src, err = OpenSerial(path, opts.Serial, opts.ReadTimeout)
	case KindPcap:
		src, err = OpenPcap(path, opts.UDPPort, opts.Logger)
	default:
		return nil, fmt.Errorf("unsupported source kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// FileSource reads a raw byte capture
type FileSource struct {
	file *os.File
}

// OpenFile opens a raw capture file
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file %s: %w", path, err)
	}
	return &FileSource{file: f}, nil
}

func (s *FileSource) Read(p []byte) (int, error) {
	return s.file.Read(p)
}

// Close closes the capture file
func (s *FileSource) Close() error {
	return s.file.Close()
}

// Name returns the capture path
func (s *FileSource) Name() string {
	return "file:" + s.file.Name()
}
