package bridge

import (
	"errors"
	"fmt"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/session"
)

// Error codes returned to the platform channel
const (
	CodeInvalidArgument       = "INVALID_ARGUMENT"
	CodeNotInitialized        = "NOT_INITIALIZED"
	CodeUnsupportedSensorType = "UNSUPPORTED_SENSOR_TYPE"
	CodeInternal              = "INTERNAL"
)

// Code maps an error onto its channel error code. A nil error maps to "".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrUnsupportedSensorType):
		return CodeUnsupportedSensorType
	case errors.Is(err, session.ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, session.ErrNotInitialized):
		return CodeNotInitialized
	default:
		return CodeInternal
	}
}

// InitializeRequest creates a session for a sensor type code. Pinned
// sessions are never removed for idleness.
type InitializeRequest struct {
	Type   int  `json:"type"`
	Pinned bool `json:"pinned"`
}

// InitializeResponse carries the handle of the created session
type InitializeResponse struct {
	Handle string `json:"handle"`
}

// SetTypeRequest switches the sensor type of a session
type SetTypeRequest struct {
	Handle string `json:"handle"`
	Type   int    `json:"type"`
}

// SetBRThresholdRequest changes the respiration amplitude gate
type SetBRThresholdRequest struct {
	Handle    string  `json:"handle"`
	Threshold float64 `json:"threshold"`
}

// FeedRequest carries raw stream bytes for a session
type FeedRequest struct {
	Handle string `json:"handle"`
	Data   []byte `json:"data"`
}

// ReadRequest addresses a session for read and detail
type ReadRequest struct {
	Handle string `json:"handle"`
}

// DisposeRequest releases a session
type DisposeRequest struct {
	Handle string `json:"handle"`
}

func validateHandle(handle string) error {
	if handle == "" {
		return fmt.Errorf("%w: missing handle", session.ErrInvalidArgument)
	}
	return nil
}

// Validate validates the request
func (r SetTypeRequest) Validate() error {
	return validateHandle(r.Handle)
}

// Validate validates the request
func (r SetBRThresholdRequest) Validate() error {
	if err := validateHandle(r.Handle); err != nil {
		return err
	}
	if r.Threshold <= 0 {
		return fmt.Errorf("%w: threshold must be positive, got %g", session.ErrInvalidArgument, r.Threshold)
	}
	return nil
}

// Validate validates the request
func (r FeedRequest) Validate() error {
	if err := validateHandle(r.Handle); err != nil {
		return err
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("%w: missing data", session.ErrInvalidArgument)
	}
	return nil
}

// Validate validates the request
func (r ReadRequest) Validate() error {
	return validateHandle(r.Handle)
}
