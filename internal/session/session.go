package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/estimator"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/framing"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/protocol"
)

// Snapshot is the five-value reading returned by Feed and Read
type Snapshot = estimator.Snapshot

// Reading is the extended reading with vitals and recent waveforms
type Reading = estimator.Reading

// State is the lifecycle state of a session
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Options configures a session
type Options struct {
	// BacklogPackages bounds the framing backlog in packages
	BacklogPackages int
	// BRThreshold overrides the default respiration amplitude gate when > 0
	BRThreshold float64
	Logger      *slog.Logger
	Observer    Observer
}

// Session decodes one sensor byte stream. All methods are safe for
// concurrent use and none of them block.
type Session struct {
	mu    sync.Mutex
	state State
	opts  Options

	sensorType  protocol.SensorType
	brThreshold float64
	framer      *framing.Buffer
	estimator   *estimator.Estimator

	diagnostics  Diagnostics
	createdAt    time.Time
	lastActivity time.Time

	logger *slog.Logger
}

// Info represents session information for monitoring
type Info struct {
	State        string      `json:"state"`
	SensorType   string      `json:"sensor_type"`
	CreatedAt    time.Time   `json:"created_at"`
	LastActivity time.Time   `json:"last_activity"`
	Snapshot     Snapshot    `json:"snapshot"`
	Diagnostics  Diagnostics `json:"diagnostics"`
}

// New creates an uninitialized session
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.BacklogPackages <= 0 {
		opts.BacklogPackages = framing.DefaultBacklogPackages
	}

	now := time.Now()
	return &Session{
		state:        StateUninitialized,
		opts:         opts,
		brThreshold:  opts.BRThreshold,
		createdAt:    now,
		lastActivity: now,
		logger:       logger,
	}
}

// parseSensorType maps an external type code onto the session error taxonomy
func parseSensorType(code int) (protocol.SensorType, error) {
	t, err := protocol.ParseSensorType(code)
	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, protocol.ErrUnsupportedSensorType):
		return 0, fmt.Errorf("%w: code %d", ErrUnsupportedSensorType, code)
	default:
		return 0, fmt.Errorf("%w: sensor type code %d out of range", ErrInvalidArgument, code)
	}
}

// Initialize moves the session to Ready for the sensor type with the given code.
func (s *Session) Initialize(code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateDisposed:
		return fmt.Errorf("%w: session disposed", ErrNotInitialized)
	case StateReady:
		return fmt.Errorf("%w: session already initialized as %s", ErrInvalidArgument, s.sensorType)
	}

	t, err := parseSensorType(code)
	if err != nil {
		return err
	}

	if err := s.build(t); err != nil {
		return err
	}
	s.state = StateReady
	s.lastActivity = time.Now()

	s.logger.Info("Session initialized",
		slog.String("sensor_type", t.String()),
		slog.String("layout", s.framer.Layout().Name),
		slog.Int("backlog_bytes", s.framer.Capacity()))

	return nil
}

// build creates the framer and estimator for t
func (s *Session) build(t protocol.SensorType) error {
	profile, err := estimator.ProfileFor(t)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedSensorType, err)
	}
	if s.brThreshold > 0 {
		profile.BRThreshold = s.brThreshold
	}

	est, err := estimator.New(profile, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create estimator: %w", err)
	}

	s.sensorType = t
	s.framer = framing.NewBuffer(profile.Layout, s.opts.BacklogPackages, s.logger)
	s.estimator = est
	return nil
}

// SetType switches a Ready session to another sensor type. Framing and
// estimator state restart; diagnostics are kept. Setting the current type
// is a no-op.
func (s *Session) SetType(code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return fmt.Errorf("%w: session is %s", ErrNotInitialized, s.state)
	}

	t, err := parseSensorType(code)
	if err != nil {
		return err
	}
	s.lastActivity = time.Now()
	if t == s.sensorType {
		return nil
	}

	previous := s.sensorType
	if err := s.build(t); err != nil {
		return err
	}

	s.logger.Info("Session sensor type changed",
		slog.String("from", previous.String()),
		slog.String("to", t.String()))

	return nil
}

// SetBRThreshold changes the respiration amplitude gate of a Ready session
func (s *Session) SetBRThreshold(threshold float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return fmt.Errorf("%w: session is %s", ErrNotInitialized, s.state)
	}
	if err := s.estimator.SetBRThreshold(threshold); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	s.brThreshold = threshold

	return nil
}

// Feed pushes stream bytes through framing, decoding and estimation and
// returns the latest snapshot. Malformed and dropped data are counted,
// never returned.
func (s *Session) Feed(data []byte) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return Snapshot{}, fmt.Errorf("%w: session is %s", ErrNotInitialized, s.state)
	}
	if len(data) == 0 {
		return Snapshot{}, fmt.Errorf("%w: empty data", ErrInvalidArgument)
	}

	framingBefore := s.framer.Stats()
	estimatorBefore := s.estimator.Stats()

	var malformed uint64
	for _, pkg := range s.framer.Push(data) {
		sample, err := protocol.Decode(pkg, s.sensorType)
		if err != nil {
			malformed++
			s.logger.Debug("Discarding malformed package", slog.String("error", err.Error()))
			continue
		}
		if err := s.estimator.Update(sample); err != nil {
			s.logger.Debug("Dropped sample",
				slog.Uint64("sequence", uint64(sample.Sequence)),
				slog.String("error", err.Error()))
		}
	}

	delta := framingDelta(framingBefore, s.framer.Stats())
	delta.Add(estimatorDelta(estimatorBefore, s.estimator.Stats()))
	delta.Malformed = malformed
	delta.BytesFed = uint64(len(data))
	s.diagnostics.Add(delta)
	s.lastActivity = time.Now()

	snapshot := s.estimator.Snapshot()
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveFeed(s.sensorType, delta, snapshot)
	}

	return snapshot, nil
}

// Read returns the current snapshot without consuming input
func (s *Session) Read() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return Snapshot{}, fmt.Errorf("%w: session is %s", ErrNotInitialized, s.state)
	}
	s.lastActivity = time.Now()
	return s.estimator.Snapshot(), nil
}

// Reading returns the extended reading
func (s *Session) Reading() (Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return Reading{}, fmt.Errorf("%w: session is %s", ErrNotInitialized, s.state)
	}
	s.lastActivity = time.Now()
	return s.estimator.Reading(), nil
}

// Dispose releases the session state. Calling it more than once is a no-op.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDisposed {
		return
	}
	wasReady := s.state == StateReady
	s.state = StateDisposed
	s.framer = nil
	s.estimator = nil

	if wasReady {
		s.logger.Info("Session disposed",
			slog.String("sensor_type", s.sensorType.String()),
			slog.Uint64("packages", s.diagnostics.Packages),
			slog.Uint64("malformed", s.diagnostics.Malformed),
			slog.Uint64("dropped", s.diagnostics.Dropped))
	}
}

// State returns the lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SensorType returns the configured sensor type; ok is false outside Ready
func (s *Session) SensorType() (protocol.SensorType, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sensorType, s.state == StateReady
}

// Diagnostics returns the accumulated diagnostics
func (s *Session) Diagnostics() Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diagnostics
}

// LastActivity returns the time of the last successful operation
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Info returns a monitoring view of the session
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		State:        s.state.String(),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Diagnostics:  s.diagnostics,
	}
	if s.state == StateReady {
		info.SensorType = s.sensorType.String()
		info.Snapshot = s.estimator.Snapshot()
	}
	return info
}
