package bridge

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CO-Jackey/flutter-itri-hrbr/internal/protocol"
	"github.com/CO-Jackey/flutter-itri-hrbr/internal/session"
)

func twoBeatPackage(t *testing.T) []byte {
	t.Helper()
	ppg := make([]uint16, 20)
	for i := range ppg {
		ppg[i] = 1000
	}
	ppg[2], ppg[18] = 3000, 3000

	pkg, err := protocol.Encode(&protocol.Sample{
		Type:   protocol.SensorCat,
		PPG:    ppg,
		Resp:   []uint16{2000, 2000, 2000, 2000},
		Gyro:   protocol.Gyro{X: 1, Y: 2, Z: 3},
		Valid:  true,
		Vitals: protocol.Vitals{Battery: 64, Steps: 12},
	})
	require.NoError(t, err)
	return pkg
}

type lifecycleRecorder struct {
	mu      sync.Mutex
	opened  []protocol.SensorType
	reasons []string
}

func (r *lifecycleRecorder) SessionOpened(sensorType protocol.SensorType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, sensorType)
}

func (r *lifecycleRecorder) SessionClosed(reason string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func newTestManager(t *testing.T, config ManagerConfig) *Manager {
	t.Helper()
	mgr := NewManager(nil, config)
	t.Cleanup(mgr.Stop)
	return mgr
}

func TestCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "invalid argument", err: fmt.Errorf("feed: %w", session.ErrInvalidArgument), expected: CodeInvalidArgument},
		{name: "not initialized", err: session.ErrNotInitialized, expected: CodeNotInitialized},
		{name: "unsupported type", err: fmt.Errorf("x: %w", session.ErrUnsupportedSensorType), expected: CodeUnsupportedSensorType},
		{name: "other", err: errors.New("boom"), expected: CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Code(tt.err))
		})
	}
}

func TestInitializeAndFeed(t *testing.T) {
	recorder := &lifecycleRecorder{}
	mgr := newTestManager(t, ManagerConfig{Lifecycle: recorder})

	resp, err := mgr.Initialize(InitializeRequest{Type: 1})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Handle)
	assert.Equal(t, 1, mgr.ActiveSessionCount())

	snapshot, err := mgr.Feed(FeedRequest{Handle: resp.Handle, Data: twoBeatPackage(t)})
	require.NoError(t, err)
	assert.Equal(t, session.Snapshot{HR: 75, GyroX: 1, GyroY: 2, GyroZ: 3}, snapshot)

	read, err := mgr.Read(ReadRequest{Handle: resp.Handle})
	require.NoError(t, err)
	assert.Equal(t, snapshot, read)

	detail, err := mgr.Detail(ReadRequest{Handle: resp.Handle})
	require.NoError(t, err)
	assert.Equal(t, 75, detail.HR)
	assert.Equal(t, 64, detail.Battery)
	assert.Equal(t, 12, detail.Steps)
	assert.True(t, detail.Wearing)
	assert.Len(t, detail.PPG, 20)

	assert.Equal(t, []protocol.SensorType{protocol.SensorCat}, recorder.opened)
}

func TestInitializeErrors(t *testing.T) {
	mgr := newTestManager(t, ManagerConfig{})

	_, err := mgr.Initialize(InitializeRequest{Type: 42})
	assert.Equal(t, CodeUnsupportedSensorType, Code(err))

	_, err = mgr.Initialize(InitializeRequest{Type: -5})
	assert.Equal(t, CodeInvalidArgument, Code(err))

	assert.Zero(t, mgr.ActiveSessionCount())
}

func TestRequestValidation(t *testing.T) {
	mgr := newTestManager(t, ManagerConfig{})
	resp, err := mgr.Initialize(InitializeRequest{Type: 0})
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		code string
	}{
		{
			name: "feed without data",
			call: func() error { _, err := mgr.Feed(FeedRequest{Handle: resp.Handle}); return err },
			code: CodeInvalidArgument,
		},
		{
			name: "feed without handle",
			call: func() error { _, err := mgr.Feed(FeedRequest{Data: []byte{1}}); return err },
			code: CodeInvalidArgument,
		},
		{
			name: "feed unknown handle",
			call: func() error { _, err := mgr.Feed(FeedRequest{Handle: "nope", Data: []byte{1}}); return err },
			code: CodeNotInitialized,
		},
		{
			name: "read unknown handle",
			call: func() error { _, err := mgr.Read(ReadRequest{Handle: "nope"}); return err },
			code: CodeNotInitialized,
		},
		{
			name: "detail without handle",
			call: func() error { _, err := mgr.Detail(ReadRequest{}); return err },
			code: CodeInvalidArgument,
		},
		{
			name: "negative threshold",
			call: func() error {
				return mgr.SetBRThreshold(SetBRThresholdRequest{Handle: resp.Handle, Threshold: -1})
			},
			code: CodeInvalidArgument,
		},
		{
			name: "unsupported type switch",
			call: func() error { return mgr.SetType(SetTypeRequest{Handle: resp.Handle, Type: 12}) },
			code: CodeUnsupportedSensorType,
		},
		{
			name: "type switch unknown handle",
			call: func() error { return mgr.SetType(SetTypeRequest{Handle: "nope", Type: 1}) },
			code: CodeNotInitialized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, Code(tt.call()))
		})
	}

	require.NoError(t, mgr.SetBRThreshold(SetBRThresholdRequest{Handle: resp.Handle, Threshold: 120}))
	require.NoError(t, mgr.SetType(SetTypeRequest{Handle: resp.Handle, Type: 2}))

	s, ok := mgr.Session(resp.Handle)
	require.True(t, ok)
	st, ready := s.SensorType()
	assert.True(t, ready)
	assert.Equal(t, protocol.SensorRabbit, st)
}

func TestDisposeIdempotent(t *testing.T) {
	recorder := &lifecycleRecorder{}
	mgr := newTestManager(t, ManagerConfig{Lifecycle: recorder})

	resp, err := mgr.Initialize(InitializeRequest{Type: 3})
	require.NoError(t, err)
	s, ok := mgr.Session(resp.Handle)
	require.True(t, ok)

	mgr.Dispose(DisposeRequest{Handle: resp.Handle})
	mgr.Dispose(DisposeRequest{Handle: resp.Handle})
	mgr.Dispose(DisposeRequest{Handle: "never-created"})

	assert.Zero(t, mgr.ActiveSessionCount())
	assert.Equal(t, session.StateDisposed, s.State())
	assert.Equal(t, []string{CloseReasonDisposed}, recorder.reasons)

	_, err = mgr.Read(ReadRequest{Handle: resp.Handle})
	assert.Equal(t, CodeNotInitialized, Code(err))
	_, err = mgr.Feed(FeedRequest{Handle: resp.Handle, Data: []byte{1}})
	assert.Equal(t, CodeNotInitialized, Code(err))
}

func TestSessionsAreIndependent(t *testing.T) {
	mgr := newTestManager(t, ManagerConfig{})

	cat, err := mgr.Initialize(InitializeRequest{Type: 1})
	require.NoError(t, err)
	dog, err := mgr.Initialize(InitializeRequest{Type: 3})
	require.NoError(t, err)
	require.NotEqual(t, cat.Handle, dog.Handle)

	_, err = mgr.Feed(FeedRequest{Handle: cat.Handle, Data: twoBeatPackage(t)})
	require.NoError(t, err)

	dogSnapshot, err := mgr.Read(ReadRequest{Handle: dog.Handle})
	require.NoError(t, err)
	assert.Equal(t, session.Snapshot{}, dogSnapshot)

	infos := mgr.Sessions()
	require.Len(t, infos, 2)
	handles := []string{infos[0].Handle, infos[1].Handle}
	assert.ElementsMatch(t, []string{cat.Handle, dog.Handle}, handles)
}

func TestIdleCleanup(t *testing.T) {
	recorder := &lifecycleRecorder{}
	mgr := newTestManager(t, ManagerConfig{
		IdleTimeout:     time.Minute,
		CleanupInterval: time.Hour,
		Lifecycle:       recorder,
	})

	resp, err := mgr.Initialize(InitializeRequest{Type: 1})
	require.NoError(t, err)

	assert.Zero(t, mgr.cleanupExpiredSessions(time.Now()))
	assert.Equal(t, 1, mgr.ActiveSessionCount())

	assert.Equal(t, 1, mgr.cleanupExpiredSessions(time.Now().Add(2*time.Minute)))
	assert.Zero(t, mgr.ActiveSessionCount())
	assert.Equal(t, []string{CloseReasonIdle}, recorder.reasons)

	_, err = mgr.Read(ReadRequest{Handle: resp.Handle})
	assert.Equal(t, CodeNotInitialized, Code(err))
}

func TestReadKeepsSessionAlive(t *testing.T) {
	mgr := newTestManager(t, ManagerConfig{
		IdleTimeout:     50 * time.Millisecond,
		CleanupInterval: time.Hour,
	})

	polled, err := mgr.Initialize(InitializeRequest{Type: 1})
	require.NoError(t, err)
	detailed, err := mgr.Initialize(InitializeRequest{Type: 1})
	require.NoError(t, err)
	idle, err := mgr.Initialize(InitializeRequest{Type: 1})
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	_, err = mgr.Read(ReadRequest{Handle: polled.Handle})
	require.NoError(t, err)
	_, err = mgr.Detail(ReadRequest{Handle: detailed.Handle})
	require.NoError(t, err)

	assert.Equal(t, 1, mgr.cleanupExpiredSessions(time.Now()))

	_, err = mgr.Read(ReadRequest{Handle: polled.Handle})
	assert.NoError(t, err)
	_, err = mgr.Read(ReadRequest{Handle: detailed.Handle})
	assert.NoError(t, err)
	_, err = mgr.Read(ReadRequest{Handle: idle.Handle})
	assert.Equal(t, CodeNotInitialized, Code(err))
}

func TestPinnedSessionSurvivesIdleCleanup(t *testing.T) {
	recorder := &lifecycleRecorder{}
	mgr := NewManager(nil, ManagerConfig{
		IdleTimeout:     time.Minute,
		CleanupInterval: time.Hour,
		Lifecycle:       recorder,
	})

	pinned, err := mgr.Initialize(InitializeRequest{Type: 1, Pinned: true})
	require.NoError(t, err)
	_, err = mgr.Initialize(InitializeRequest{Type: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, mgr.cleanupExpiredSessions(time.Now().Add(time.Hour)))

	infos := mgr.Sessions()
	require.Len(t, infos, 1)
	assert.Equal(t, pinned.Handle, infos[0].Handle)
	assert.True(t, infos[0].Pinned)

	_, err = mgr.Feed(FeedRequest{Handle: pinned.Handle, Data: twoBeatPackage(t)})
	assert.NoError(t, err)

	// Shutdown still closes pinned sessions
	mgr.Stop()
	assert.Zero(t, mgr.ActiveSessionCount())
	assert.Equal(t, []string{CloseReasonIdle, CloseReasonShutdown}, recorder.reasons)
}

func TestStop(t *testing.T) {
	recorder := &lifecycleRecorder{}
	mgr := NewManager(nil, ManagerConfig{Lifecycle: recorder})

	for i := 0; i < 3; i++ {
		_, err := mgr.Initialize(InitializeRequest{Type: i})
		require.NoError(t, err)
	}

	mgr.Stop()
	mgr.Stop()

	assert.Zero(t, mgr.ActiveSessionCount())
	assert.Equal(t, []string{CloseReasonShutdown, CloseReasonShutdown, CloseReasonShutdown}, recorder.reasons)

	_, err := mgr.Initialize(InitializeRequest{Type: 1})
	assert.Equal(t, CodeNotInitialized, Code(err))
}

func TestConcurrentSessions(t *testing.T) {
	mgr := newTestManager(t, ManagerConfig{})
	pkg := twoBeatPackage(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := mgr.Initialize(InitializeRequest{Type: 1})
			if err != nil {
				t.Errorf("Initialize failed: %v", err)
				return
			}
			snapshot, err := mgr.Feed(FeedRequest{Handle: resp.Handle, Data: pkg})
			if err != nil {
				t.Errorf("Feed failed: %v", err)
				return
			}
			if snapshot.HR != 75 {
				t.Errorf("Expected HR 75, got %d", snapshot.HR)
			}
			mgr.Dispose(DisposeRequest{Handle: resp.Handle})
		}()
	}
	wg.Wait()

	assert.Zero(t, mgr.ActiveSessionCount())
}
