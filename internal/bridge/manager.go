package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/protocol"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/session"
)

// Reasons passed to LifecycleObserver.SessionClosed
const (
	CloseReasonDisposed = "disposed"
	CloseReasonIdle     = "idle"
	CloseReasonShutdown = "shutdown"
)

// LifecycleObserver is notified when sessions are opened and closed
type LifecycleObserver interface {
	SessionOpened(sensorType protocol.SensorType)
	SessionClosed(reason string, lifetime time.Duration)
}

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	// IdleTimeout removes sessions without activity; zero disables removal
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	Session         session.Options
	Lifecycle       LifecycleObserver
}

// entry is one registered session
type entry struct {
	session   *session.Session
	createdAt time.Time
	pinned    bool
}

// Manager owns all sessions created through the bridge
type Manager struct {
	sessions map[string]*entry
	mu       sync.RWMutex
	logger   *slog.Logger
	config   ManagerConfig

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
	stopped bool
}

// SessionInfo represents a session for monitoring
type SessionInfo struct {
	Handle string `json:"handle"`
	Pinned bool   `json:"pinned"`
	session.Info
}

// NewManager creates a session manager and starts its cleanup routine
func NewManager(logger *slog.Logger, config ManagerConfig) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 30 * time.Second
	}
	if config.Session.Logger == nil {
		config.Session.Logger = logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		sessions: make(map[string]*entry),
		logger:   logger,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// Initialize creates and initializes a session, returning its handle
func (m *Manager) Initialize(req InitializeRequest) (InitializeResponse, error) {
	handle := uuid.NewString()

	opts := m.config.Session
	opts.Logger = opts.Logger.With(slog.String("handle", handle))
	s := session.New(opts)
	if err := s.Initialize(req.Type); err != nil {
		return InitializeResponse{}, fmt.Errorf("initialize: %w", err)
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		s.Dispose()
		return InitializeResponse{}, fmt.Errorf("initialize: %w: manager stopped", session.ErrNotInitialized)
	}
	m.sessions[handle] = &entry{session: s, createdAt: time.Now(), pinned: req.Pinned}
	active := len(m.sessions)
	m.mu.Unlock()

	sensorType, _ := s.SensorType()
	if m.config.Lifecycle != nil {
		m.config.Lifecycle.SessionOpened(sensorType)
	}

	m.logger.Info("Created session",
		slog.String("handle", handle),
		slog.String("sensor_type", sensorType.String()),
		slog.Bool("pinned", req.Pinned),
		slog.Int("active_sessions", active))

	return InitializeResponse{Handle: handle}, nil
}

// lookup returns the session for handle or ErrNotInitialized
func (m *Manager) lookup(handle string) (*session.Session, error) {
	if err := validateHandle(handle); err != nil {
		return nil, err
	}

	m.mu.RLock()
	e, exists := m.sessions[handle]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: unknown handle %s", session.ErrNotInitialized, handle)
	}
	return e.session, nil
}

// SetType switches the sensor type of a session
func (m *Manager) SetType(req SetTypeRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("setType: %w", err)
	}
	s, err := m.lookup(req.Handle)
	if err != nil {
		return fmt.Errorf("setType: %w", err)
	}
	if err := s.SetType(req.Type); err != nil {
		return fmt.Errorf("setType: %w", err)
	}
	return nil
}

// SetBRThreshold changes the respiration amplitude gate of a session
func (m *Manager) SetBRThreshold(req SetBRThresholdRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("setBRThreshold: %w", err)
	}
	s, err := m.lookup(req.Handle)
	if err != nil {
		return fmt.Errorf("setBRThreshold: %w", err)
	}
	if err := s.SetBRThreshold(req.Threshold); err != nil {
		return fmt.Errorf("setBRThreshold: %w", err)
	}
	return nil
}

// Feed pushes stream bytes into a session and returns its latest snapshot
func (m *Manager) Feed(req FeedRequest) (session.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return session.Snapshot{}, fmt.Errorf("feed: %w", err)
	}
	s, err := m.lookup(req.Handle)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("feed: %w", err)
	}
	snapshot, err := s.Feed(req.Data)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("feed: %w", err)
	}
	return snapshot, nil
}

// Read returns the current snapshot of a session
func (m *Manager) Read(req ReadRequest) (session.Snapshot, error) {
	if err := req.Validate(); err != nil {
		return session.Snapshot{}, fmt.Errorf("read: %w", err)
	}
	s, err := m.lookup(req.Handle)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("read: %w", err)
	}
	snapshot, err := s.Read()
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("read: %w", err)
	}
	return snapshot, nil
}

// Detail returns the extended reading of a session
func (m *Manager) Detail(req ReadRequest) (session.Reading, error) {
	if err := req.Validate(); err != nil {
		return session.Reading{}, fmt.Errorf("detail: %w", err)
	}
	s, err := m.lookup(req.Handle)
	if err != nil {
		return session.Reading{}, fmt.Errorf("detail: %w", err)
	}
	reading, err := s.Reading()
	if err != nil {
		return session.Reading{}, fmt.Errorf("detail: %w", err)
	}
	return reading, nil
}

// Dispose releases a session. Unknown or already disposed handles are ignored.
func (m *Manager) Dispose(req DisposeRequest) {
	m.remove(req.Handle, CloseReasonDisposed)
}

// remove disposes and unregisters a session
func (m *Manager) remove(handle, reason string) bool {
	m.mu.Lock()
	e, exists := m.sessions[handle]
	if exists {
		delete(m.sessions, handle)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	diagnostics := e.session.Diagnostics()
	e.session.Dispose()
	lifetime := time.Since(e.createdAt)

	if m.config.Lifecycle != nil {
		m.config.Lifecycle.SessionClosed(reason, lifetime)
	}

	m.logger.Info("Session removed",
		slog.String("handle", handle),
		slog.String("reason", reason),
		slog.Duration("duration", lifetime),
		slog.Uint64("packages", diagnostics.Packages),
		slog.Uint64("malformed", diagnostics.Malformed),
		slog.Uint64("dropped", diagnostics.Dropped))

	return true
}

// Session returns the session for handle
func (m *Manager) Session(handle string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.sessions[handle]
	if !exists {
		return nil, false
	}
	return e.session, true
}

// Sessions returns information about all sessions ordered by creation time
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for handle, e := range m.sessions {
		infos = append(infos, SessionInfo{Handle: handle, Pinned: e.pinned, Info: e.session.Info()})
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].Handle < infos[j].Handle
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// ActiveSessionCount returns the number of registered sessions
func (m *Manager) ActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stop disposes every session and stops the cleanup routine
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	handles := make([]string, 0, len(m.sessions))
	for handle := range m.sessions {
		handles = append(handles, handle)
	}
	m.mu.Unlock()

	m.logger.Info("Stopping session manager", slog.Int("sessions", len(handles)))

	for _, handle := range handles {
		m.remove(handle, CloseReasonShutdown)
	}

	// Cancel context to stop cleanup routine
	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped")
}

// startCleanupRoutine periodically removes idle sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Debug("Session cleanup routine started",
		slog.Duration("timeout", m.config.IdleTimeout),
		slog.Duration("check_interval", m.config.CleanupInterval))

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpiredSessions(time.Now())
		}
	}
}

// cleanupExpiredSessions removes unpinned sessions inactive for longer than
// the idle timeout
func (m *Manager) cleanupExpiredSessions(now time.Time) int {
	if m.config.IdleTimeout <= 0 {
		return 0
	}

	var expired []string
	m.mu.RLock()
	for handle, e := range m.sessions {
		if e.pinned {
			continue
		}
		if now.Sub(e.session.LastActivity()) > m.config.IdleTimeout {
			expired = append(expired, handle)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return 0
	}

	m.logger.Info("Cleaning up idle sessions", slog.Int("expired_count", len(expired)))

	removed := 0
	for _, handle := range expired {
		if m.remove(handle, CloseReasonIdle) {
			removed++
		}
	}
	return removed
}
