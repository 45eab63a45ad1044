package simulate

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// PcapConfig describes the UDP datagrams a capture is split into
type PcapConfig struct {
	SrcIP        net.IP
	DstIP        net.IP
	SrcPort      int
	DstPort      int
	DatagramSize int
	Start        time.Time
	Interval     time.Duration
}

// DefaultPcapConfig returns loopback datagrams of one BLE notification each
func DefaultPcapConfig() PcapConfig {
	return PcapConfig{
		SrcIP:        net.IPv4(127, 0, 0, 1),
		DstIP:        net.IPv4(127, 0, 0, 1),
		SrcPort:      40000,
		DstPort:      9750,
		DatagramSize: 244,
		Start:        time.Unix(1700000000, 0).UTC(),
		Interval:     20 * time.Millisecond,
	}
}

// WritePcap splits data into UDP datagrams and writes them to w as an
// Ethernet pcap capture. It returns the number of datagrams written.
func WritePcap(w io.Writer, data []byte, config PcapConfig) (int, error) {
	if config.DatagramSize <= 0 {
		return 0, fmt.Errorf("datagram size must be positive, got %d", config.DatagramSize)
	}

	writer := pcapgo.NewWriter(w)
	if err := writer.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return 0, fmt.Errorf("failed to write PCAP header: %w", err)
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    config.SrcIP.To4(),
		DstIP:    config.DstIP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(config.SrcPort),
		DstPort: layers.UDPPort(config.DstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return 0, fmt.Errorf("failed to set checksum layer: %w", err)
	}

	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	buf := gopacket.NewSerializeBuffer()

	count := 0
	for off := 0; off < len(data); off += config.DatagramSize {
		end := min(off+config.DatagramSize, len(data))

		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(data[off:end])); err != nil {
			return count, fmt.Errorf("failed to serialize datagram %d: %w", count, err)
		}

		frame := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     config.Start.Add(time.Duration(count) * config.Interval),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := writer.WritePacket(ci, frame); err != nil {
			return count, fmt.Errorf("failed to write datagram %d: %w", count, err)
		}
		count++
	}

	return count, nil
}
