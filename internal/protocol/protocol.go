package protocol

import (
	"encoding/binary"
	"fmt"
)

// Band layout offsets
const (
	bandSeqOffset       = 1
	bandRawOffset       = 2
	bandStepOffset      = 4
	bandGyroOffset      = 6
	bandHumidityOffset  = 9
	bandTempOffset      = 10
	bandBatteryOffset   = 12
	bandRRIOffset       = 13
	bandTimestampOffset = 14
	bandTimestampSize   = 5
	bandTimestampUnitMS = 10
)

// Collar layout offsets
const (
	collarStatusOffset   = 1
	collarSeqOffset      = 2
	collarRespSeqOffset  = 4
	collarBatteryOffset  = 5
	collarGyroOffset     = 6
	collarStepOffset     = 12
	collarPPGOffset      = 14
	collarRespOffset     = 54
	collarReservedOffset = 62

	statusContactBit   = 0x01
	statusPoseMask     = 0x0E
	statusPoseShift    = 1
	statusReservedMask = 0xF0
)

// RawPackage is one framed package of exact layout length whose checksum
// has already been verified.
type RawPackage []byte

// Gyro is a gyroscope triplet in raw sensor counts.
type Gyro struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Vitals holds the auxiliary device fields carried next to the waveforms.
type Vitals struct {
	Battery        int     `json:"battery"`
	Steps          int     `json:"steps"`
	RRI            int     `json:"rri"`
	Pose           int     `json:"pose"` // -1 when the layout has no pose
	Contact        bool    `json:"contact"`
	HasClimate     bool    `json:"has_climate"`
	HumidityRaw    uint8   `json:"humidity_raw"`
	TemperatureRaw uint16  `json:"temperature_raw"`
	Humidity       int     `json:"humidity"`
	Temperature    float64 `json:"temperature"`
	Timestamp      int64   `json:"timestamp_ms"` // device clock, band only
}

// Sample is the decoded content of one package.
type Sample struct {
	Type         SensorType `json:"type"`
	Sequence     uint32     `json:"sequence"`
	RespSequence uint32     `json:"resp_sequence"`
	PPG          []uint16   `json:"ppg"`
	Resp         []uint16   `json:"resp"`
	Gyro         Gyro       `json:"gyro"`
	Valid        bool       `json:"valid"`
	Vitals       Vitals     `json:"vitals"`
}

// Decode parses a validated package according to the layout of t.
// It keeps no state: identical input always yields identical output.
func Decode(pkg RawPackage, t SensorType) (*Sample, error) {
	layout := LayoutFor(t)
	if layout == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSensorType, uint8(t))
	}

	if len(pkg) != layout.Length {
		return nil, fmt.Errorf("%w: %s package length mismatch: expected %d bytes, got %d",
			ErrMalformedPackage, layout.Name, layout.Length, len(pkg))
	}

	if !layout.IsMarker(pkg[0]) {
		return nil, fmt.Errorf("%w: invalid marker 0x%02x", ErrMalformedPackage, pkg[0])
	}

	sample := &Sample{Type: t}
	if err := layout.decode(pkg, sample); err != nil {
		return nil, err
	}

	// Validate waveform points against the ADC scale
	adcMax := layout.ADCMax()
	for i, v := range sample.PPG {
		if v > adcMax {
			return nil, fmt.Errorf("%w: ppg point %d out of range: %d > %d", ErrMalformedPackage, i, v, adcMax)
		}
	}
	for i, v := range sample.Resp {
		if v > adcMax {
			return nil, fmt.Errorf("%w: resp point %d out of range: %d > %d", ErrMalformedPackage, i, v, adcMax)
		}
	}

	return sample, nil
}

// Encode builds a sealed package from s using the layout of s.Type.
func Encode(s *Sample) (RawPackage, error) {
	layout := LayoutFor(s.Type)
	if layout == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSensorType, uint8(s.Type))
	}

	if len(s.PPG) != layout.PPGPoints {
		return nil, fmt.Errorf("%s layout expects %d ppg points, got %d", layout.Name, layout.PPGPoints, len(s.PPG))
	}

	adcMax := layout.ADCMax()
	for i, v := range s.PPG {
		if v > adcMax {
			return nil, fmt.Errorf("ppg point %d exceeds %d-bit scale: %d", i, layout.ADCBits, v)
		}
	}
	for i, v := range s.Resp {
		if v > adcMax {
			return nil, fmt.Errorf("resp point %d exceeds %d-bit scale: %d", i, layout.ADCBits, v)
		}
	}

	pkg := make([]byte, layout.Length)
	pkg[0] = layout.Markers[0]
	if err := layout.encode(s, pkg); err != nil {
		return nil, err
	}
	layout.Checksum.Seal(pkg)

	return pkg, nil
}

func decodeBand(pkg []byte, s *Sample) error {
	s.Sequence = uint32(pkg[bandSeqOffset])
	s.RespSequence = s.Sequence

	// The band has a single optical channel; breathing is derived from it.
	raw := binary.LittleEndian.Uint16(pkg[bandRawOffset:])
	s.PPG = []uint16{raw}
	s.Resp = []uint16{raw}

	s.Gyro = Gyro{
		X: int(int8(pkg[bandGyroOffset])),
		Y: int(int8(pkg[bandGyroOffset+1])),
		Z: int(int8(pkg[bandGyroOffset+2])),
	}

	var ts int64
	for i := bandTimestampSize - 1; i >= 0; i-- {
		ts = ts<<8 | int64(pkg[bandTimestampOffset+i])
	}

	humidityRaw := pkg[bandHumidityOffset]
	temperatureRaw := binary.LittleEndian.Uint16(pkg[bandTempOffset:])

	s.Vitals = Vitals{
		Battery:        clampBattery(pkg[bandBatteryOffset]),
		Steps:          int(binary.LittleEndian.Uint16(pkg[bandStepOffset:])),
		RRI:            int(pkg[bandRRIOffset]),
		Pose:           -1,
		Contact:        true,
		HasClimate:     true,
		HumidityRaw:    humidityRaw,
		TemperatureRaw: temperatureRaw,
		Humidity:       CalibrateHumidity(humidityRaw),
		Temperature:    CalibrateTemperature(temperatureRaw),
		Timestamp:      ts * bandTimestampUnitMS,
	}
	s.Valid = true

	return nil
}

func encodeBand(s *Sample, pkg []byte) error {
	if len(s.Resp) != 1 || s.Resp[0] != s.PPG[0] {
		return fmt.Errorf("band layout derives respiration from the ppg point")
	}
	if s.Sequence > 0xFF {
		return fmt.Errorf("band sequence %d exceeds 8 bits", s.Sequence)
	}
	for _, g := range []int{s.Gyro.X, s.Gyro.Y, s.Gyro.Z} {
		if g < -128 || g > 127 {
			return fmt.Errorf("band gyro value %d exceeds int8", g)
		}
	}

	pkg[bandSeqOffset] = byte(s.Sequence)
	binary.LittleEndian.PutUint16(pkg[bandRawOffset:], s.PPG[0])
	binary.LittleEndian.PutUint16(pkg[bandStepOffset:], uint16(s.Vitals.Steps))
	pkg[bandGyroOffset] = byte(int8(s.Gyro.X))
	pkg[bandGyroOffset+1] = byte(int8(s.Gyro.Y))
	pkg[bandGyroOffset+2] = byte(int8(s.Gyro.Z))
	pkg[bandHumidityOffset] = s.Vitals.HumidityRaw
	binary.LittleEndian.PutUint16(pkg[bandTempOffset:], s.Vitals.TemperatureRaw)
	pkg[bandBatteryOffset] = byte(s.Vitals.Battery)
	pkg[bandRRIOffset] = byte(s.Vitals.RRI)

	ts := s.Vitals.Timestamp / bandTimestampUnitMS
	for i := 0; i < bandTimestampSize; i++ {
		pkg[bandTimestampOffset+i] = byte(ts >> (8 * i))
	}

	return nil
}

func decodeCollar(pkg []byte, s *Sample) error {
	status := pkg[collarStatusOffset]
	if status&statusReservedMask != 0 {
		return fmt.Errorf("%w: reserved status bits set: 0x%02x", ErrMalformedPackage, status)
	}
	if pkg[collarReservedOffset] != 0 {
		return fmt.Errorf("%w: reserved byte at offset %d is 0x%02x", ErrMalformedPackage,
			collarReservedOffset, pkg[collarReservedOffset])
	}

	s.Sequence = uint32(binary.LittleEndian.Uint16(pkg[collarSeqOffset:]))
	s.RespSequence = uint32(pkg[collarRespSeqOffset])

	s.Gyro = Gyro{
		X: int(int16(binary.LittleEndian.Uint16(pkg[collarGyroOffset:]))),
		Y: int(int16(binary.LittleEndian.Uint16(pkg[collarGyroOffset+2:]))),
		Z: int(int16(binary.LittleEndian.Uint16(pkg[collarGyroOffset+4:]))),
	}

	s.PPG = make([]uint16, collarPPGPoints)
	for i := range s.PPG {
		s.PPG[i] = binary.LittleEndian.Uint16(pkg[collarPPGOffset+2*i:])
	}
	s.Resp = make([]uint16, collarRespPoint)
	for i := range s.Resp {
		s.Resp[i] = binary.LittleEndian.Uint16(pkg[collarRespOffset+2*i:])
	}

	contact := status&statusContactBit != 0
	s.Vitals = Vitals{
		Battery: clampBattery(pkg[collarBatteryOffset]),
		Steps:   int(binary.LittleEndian.Uint16(pkg[collarStepOffset:])),
		Pose:    int(status&statusPoseMask) >> statusPoseShift,
		Contact: contact,
	}
	s.Valid = contact

	return nil
}

func encodeCollar(s *Sample, pkg []byte) error {
	if len(s.Resp) != collarRespPoint {
		return fmt.Errorf("collar layout expects %d resp points, got %d", collarRespPoint, len(s.Resp))
	}
	if s.Sequence > 0xFFFF {
		return fmt.Errorf("collar sequence %d exceeds 16 bits", s.Sequence)
	}
	if s.RespSequence > 0xFF {
		return fmt.Errorf("collar resp sequence %d exceeds 8 bits", s.RespSequence)
	}
	if s.Vitals.Pose < 0 || s.Vitals.Pose > 7 {
		return fmt.Errorf("collar pose %d exceeds 3 bits", s.Vitals.Pose)
	}
	for _, g := range []int{s.Gyro.X, s.Gyro.Y, s.Gyro.Z} {
		if g < -32768 || g > 32767 {
			return fmt.Errorf("collar gyro value %d exceeds int16", g)
		}
	}

	var status byte
	if s.Valid {
		status |= statusContactBit
	}
	status |= byte(s.Vitals.Pose<<statusPoseShift) & statusPoseMask
	pkg[collarStatusOffset] = status

	binary.LittleEndian.PutUint16(pkg[collarSeqOffset:], uint16(s.Sequence))
	pkg[collarRespSeqOffset] = byte(s.RespSequence)
	pkg[collarBatteryOffset] = byte(s.Vitals.Battery)
	binary.LittleEndian.PutUint16(pkg[collarGyroOffset:], uint16(int16(s.Gyro.X)))
	binary.LittleEndian.PutUint16(pkg[collarGyroOffset+2:], uint16(int16(s.Gyro.Y)))
	binary.LittleEndian.PutUint16(pkg[collarGyroOffset+4:], uint16(int16(s.Gyro.Z)))
	binary.LittleEndian.PutUint16(pkg[collarStepOffset:], uint16(s.Vitals.Steps))
	for i, v := range s.PPG {
		binary.LittleEndian.PutUint16(pkg[collarPPGOffset+2*i:], v)
	}
	for i, v := range s.Resp {
		binary.LittleEndian.PutUint16(pkg[collarRespOffset+2*i:], v)
	}

	return nil
}

func clampBattery(b byte) int {
	if b > 100 {
		return 100
	}
	return int(b)
}

// CalibrateHumidity maps the band's raw humidity reading to percent.
func CalibrateHumidity(raw uint8) int {
	h := (float64(raw)-44)*(71-55)/(74-44) + 55
	if h > 100 {
		h = 100
	}
	if h < 0 {
		h = 0
	}
	return int(h)
}

// CalibrateTemperature maps the band's raw skin temperature (1/100 °C)
// to an ambient estimate in °C.
func CalibrateTemperature(raw uint16) float64 {
	t := float64(raw) / 100
	t = (t-32.2)*(28.1-26.3)/(35-32.2) + 26.3
	if t > 100 {
		t = 100
	}
	if t < 0 {
		t = 0
	}
	return t
}

// String returns a human-readable representation of the sample
func (s *Sample) String() string {
	return fmt.Sprintf("Sample{Type:%s, Seq:%d, RespSeq:%d, PPG:%d, Resp:%d, Gyro:(%d,%d,%d), Valid:%t}",
		s.Type, s.Sequence, s.RespSequence, len(s.PPG), len(s.Resp), s.Gyro.X, s.Gyro.Y, s.Gyro.Z, s.Valid)
}
