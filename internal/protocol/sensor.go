package protocol

import (
	"fmt"
	"math"
)

// SensorType selects the package layout and the estimator profile.
// Codes match the species codes of the vendor SDK (0 human, 1 cat,
// 2 rabbit, 3 dog).
type SensorType uint8

const (
	SensorHuman  SensorType = 0
	SensorCat    SensorType = 1
	SensorRabbit SensorType = 2
	SensorDog    SensorType = 3
)

// Package structure sizes
const (
	BandPackageSize   = 20
	CollarPackageSize = 64

	BandMarker      = 0xFF
	BandAltMarker   = 0xFA
	CollarMarker    = 0xFA
	collarPPGPoints = 20
	collarRespPoint = 4
)

// ChecksumKind identifies how the trailing checksum byte is computed.
type ChecksumKind uint8

const (
	// ChecksumNibbleSum requires the sum of every byte, checksum included,
	// to be a multiple of 16.
	ChecksumNibbleSum ChecksumKind = iota + 1
	// ChecksumByteSum requires the sum of every byte, checksum included,
	// to be a multiple of 256.
	ChecksumByteSum
)

// Verify reports whether pkg carries a valid checksum.
func (k ChecksumKind) Verify(pkg []byte) bool {
	if len(pkg) == 0 {
		return false
	}
	var sum uint32
	for _, b := range pkg {
		sum += uint32(b)
	}
	switch k {
	case ChecksumNibbleSum:
		return sum%16 == 0
	case ChecksumByteSum:
		return sum%256 == 0
	default:
		return false
	}
}

// Seal writes the checksum into the last byte of pkg.
func (k ChecksumKind) Seal(pkg []byte) {
	if len(pkg) == 0 {
		return
	}
	var sum uint32
	for _, b := range pkg[:len(pkg)-1] {
		sum += uint32(b)
	}
	switch k {
	case ChecksumNibbleSum:
		pkg[len(pkg)-1] = byte((16 - sum%16) % 16)
	case ChecksumByteSum:
		pkg[len(pkg)-1] = byte((256 - sum%256) % 256)
	}
}

func (k ChecksumKind) String() string {
	switch k {
	case ChecksumNibbleSum:
		return "nibble-sum"
	case ChecksumByteSum:
		return "byte-sum"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Layout is the fixed wire description of one sensor type.
type Layout struct {
	Name     string
	Length   int
	Markers  []byte
	Checksum ChecksumKind

	PPGPoints  int
	RespPoints int
	PPGRate    float64 // Hz
	RespRate   float64 // Hz
	ADCBits    int

	SequenceModulus     uint32
	RespSequenceModulus uint32

	// GyroRange is the declared full-scale of each gyroscope axis.
	GyroRange int

	decode func(pkg []byte, s *Sample) error
	encode func(s *Sample, pkg []byte) error
}

// IsMarker reports whether b starts a package of this layout.
func (l *Layout) IsMarker(b byte) bool {
	for _, m := range l.Markers {
		if b == m {
			return true
		}
	}
	return false
}

// ADCMax returns the largest representable waveform value.
func (l *Layout) ADCMax() uint16 {
	if l.ADCBits >= 16 {
		return math.MaxUint16
	}
	return uint16(1)<<l.ADCBits - 1
}

// PackageDuration returns the time covered by one package's PPG points.
func (l *Layout) PackageDuration() float64 {
	return float64(l.PPGPoints) / l.PPGRate
}

var bandLayout = &Layout{
	Name:                "band",
	Length:              BandPackageSize,
	Markers:             []byte{BandMarker, BandAltMarker},
	Checksum:            ChecksumNibbleSum,
	PPGPoints:           1,
	RespPoints:          1,
	PPGRate:             32,
	RespRate:            32,
	ADCBits:             16,
	SequenceModulus:     256,
	RespSequenceModulus: 256,
	GyroRange:           100,
	decode:              decodeBand,
	encode:              encodeBand,
}

var collarLayout = &Layout{
	Name:                "collar",
	Length:              CollarPackageSize,
	Markers:             []byte{CollarMarker},
	Checksum:            ChecksumByteSum,
	PPGPoints:           collarPPGPoints,
	RespPoints:          collarRespPoint,
	PPGRate:             20,
	RespRate:            4,
	ADCBits:             12,
	SequenceModulus:     1 << 16,
	RespSequenceModulus: 256,
	GyroRange:           2000,
	decode:              decodeCollar,
	encode:              encodeCollar,
}

var sensorLayouts = map[SensorType]*Layout{
	SensorHuman:  bandLayout,
	SensorCat:    collarLayout,
	SensorRabbit: collarLayout,
	SensorDog:    collarLayout,
}

// LayoutFor returns the layout for t, or nil if t is not supported.
func LayoutFor(t SensorType) *Layout {
	return sensorLayouts[t]
}

// IsSupported checks if the sensor type has a layout
func (t SensorType) IsSupported() bool {
	_, ok := sensorLayouts[t]
	return ok
}

// ParseSensorType converts an external integer code into a SensorType.
func ParseSensorType(code int) (SensorType, error) {
	if code < 0 || code > math.MaxUint8 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidSensorCode, code)
	}
	t := SensorType(code)
	if !t.IsSupported() {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedSensorType, code)
	}
	return t, nil
}

func (t SensorType) String() string {
	switch t {
	case SensorHuman:
		return "human"
	case SensorCat:
		return "cat"
	case SensorRabbit:
		return "rabbit"
	case SensorDog:
		return "dog"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}
