package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument reports a caller error such as a bad type code or empty input
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotInitialized reports an operation before Initialize or after Dispose
	ErrNotInitialized = errors.New("not initialized")
	// ErrUnsupportedSensorType reports a well-formed but unknown type code.
	// It also matches ErrInvalidArgument.
	ErrUnsupportedSensorType = fmt.Errorf("%w: unsupported sensor type", ErrInvalidArgument)
)
