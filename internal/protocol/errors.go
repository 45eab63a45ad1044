package protocol

import "errors"

var (
	ErrMalformedPackage      = errors.New("malformed package")
	ErrUnsupportedSensorType = errors.New("unsupported sensor type")
	ErrInvalidSensorCode     = errors.New("sensor type code out of range")
)
