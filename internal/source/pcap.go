package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PcapSource replays the UDP payloads of a pcap capture as one byte stream
type PcapSource struct {
	file    *os.File
	reader  *pcapgo.Reader
	udpPort layers.UDPPort
	logger  *slog.Logger

	pending []byte
	packets uint64
	skipped uint64
}

// OpenPcap opens a pcap capture. When udpPort is non-zero only datagrams
// sent from or to that port are replayed.
func OpenPcap(path string, udpPort int, logger *slog.Logger) (*PcapSource, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if udpPort < 0 || udpPort > 65535 {
		return nil, fmt.Errorf("udp port must be between 0 and 65535, got %d", udpPort)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}

	reader, err := pcapgo.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read PCAP header of %s: %w", path, err)
	}

	logger.Debug("Opened PCAP source",
		slog.String("path", path),
		slog.String("link_type", reader.LinkType().String()),
		slog.Int("udp_port", udpPort))

	return &PcapSource{
		file:    f,
		reader:  reader,
		udpPort: layers.UDPPort(udpPort),
		logger:  logger,
	}, nil
}

// Read copies the next UDP payload bytes into p
func (s *PcapSource) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		payload, err := s.nextPayload()
		if err != nil {
			return 0, err
		}
		s.pending = payload
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// nextPayload returns the payload of the next matching UDP datagram
func (s *PcapSource) nextPayload() ([]byte, error) {
	for {
		data, _, err := s.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("PCAP replay complete",
					slog.Uint64("packets", s.packets),
					slog.Uint64("skipped", s.skipped))
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read PCAP packet: %w", err)
		}

		packet := gopacket.NewPacket(data, s.reader.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			s.skipped++
			continue // Skip non-UDP packets
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			s.skipped++
			continue
		}
		if s.udpPort != 0 && udp.SrcPort != s.udpPort && udp.DstPort != s.udpPort {
			s.skipped++
			continue
		}

		s.packets++
		return udp.Payload, nil
	}
}

// Packets returns the number of replayed and skipped capture packets
func (s *PcapSource) Packets() (replayed, skipped uint64) {
	return s.packets, s.skipped
}

// Close closes the capture file
func (s *PcapSource) Close() error {
	return s.file.Close()
}

// Name returns the capture path
func (s *PcapSource) Name() string {
	return "pcap:" + s.file.Name()
}
