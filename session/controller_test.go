package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/rtccall/interfaces"
	"github.com/opd-ai/rtccall/simulation"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCredentials = Credentials{
	ApplicationID: "app-123",
	AccessToken:   "token-abc",
	ChannelName:   "room1",
}

// MockTimeProvider returns a fixed time for deterministic tests. Timers fire
// at once when fire is set and never fire otherwise.
type MockTimeProvider struct {
	mu     sync.Mutex
	now    time.Time
	fire   bool
	timers []time.Duration
}

func (m *MockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *MockTimeProvider) NewTimer(d time.Duration) *time.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers = append(m.timers, d)
	if m.fire {
		return time.NewTimer(0)
	}
	return time.NewTimer(time.Hour)
}

func (m *MockTimeProvider) requested() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.timers...)
}

func newTestController(t *testing.T, cfg Config, engineCfg simulation.EngineConfig, opts ...Option) (*Controller, *simulation.SimulatedEngine) {
	t.Helper()

	if cfg.Credentials == (Credentials{}) {
		cfg.Credentials = testCredentials
	}
	engine := simulation.NewSimulatedEngine(engineCfg)
	ctrl, err := NewController(engine, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })
	return ctrl, engine
}

// joinedController returns a controller whose join has been confirmed.
func joinedController(t *testing.T, cfg Config) (*Controller, *simulation.SimulatedEngine) {
	t.Helper()

	ctrl, engine := newTestController(t, cfg, simulation.EngineConfig{AutoConfirm: true})
	require.NoError(t, ctrl.Initialize(context.Background()))
	require.NoError(t, ctrl.Join(context.Background()))
	flush(t, ctrl)
	require.True(t, ctrl.Snapshot().Joined)
	return ctrl, engine
}

func flush(t *testing.T, ctrl *Controller) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ctrl.Flush(ctx))
}

func TestNewControllerRejectsNilEngine(t *testing.T) {
	ctrl, err := NewController(nil, Config{})
	assert.Nil(t, ctrl)
	assert.ErrorIs(t, err, ErrNilEngine)
}

func TestControllerInitialState(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})

	snap := ctrl.Snapshot()
	assert.Equal(t, PhaseUninitialized, snap.Phase)
	assert.False(t, snap.Joined)
	assert.Nil(t, snap.RemoteParticipant)
	assert.Empty(t, snap.RemoteParticipants)
	assert.Empty(t, snap.StatusMessage)
	assert.Equal(t, PlaceholderWaiting, snap.Layout().Placeholder)
	assert.Equal(t, testCredentials, ctrl.Credentials())
	assert.Empty(t, engine.Calls(), "construction must not touch the engine")
}

func TestInitializeAcquiresEngine(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})

	require.NoError(t, ctrl.Initialize(context.Background()))

	assert.Equal(t, PhaseIdle, ctrl.Phase())
	assert.Equal(t, "app-123", engine.AppID())
	assert.Equal(t, []string{
		simulation.MethodInitialize,
		simulation.MethodRegisterEventHandler,
		simulation.MethodEnableAudio,
		simulation.MethodEnableVideo,
	}, engine.Methods())

	audio, video := engine.MediaEnabled()
	assert.True(t, audio)
	assert.True(t, video)
}

func TestInitializeOnlyOnce(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})

	require.NoError(t, ctrl.Initialize(context.Background()))
	err := ctrl.Initialize(context.Background())

	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, 1, engine.CallCount(simulation.MethodInitialize))
}

func TestInitializeEngineFailureStillIdle(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})
	engine.FailOn(simulation.MethodInitialize, errors.New("sdk unavailable"))

	require.NoError(t, ctrl.Initialize(context.Background()))
	flush(t, ctrl)

	assert.Equal(t, PhaseIdle, ctrl.Phase())
	assert.Equal(t, 0, engine.CallCount(simulation.MethodRegisterEventHandler))

	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Engine error" && entry.Data["function"] == "onEngineError" {
			found = true
			assert.Contains(t, entry.Data["error"], "sdk unavailable")
			assert.Contains(t, entry.Data["error"], ErrEngineInit.Error())
		}
	}
	assert.True(t, found, "engine init failure should surface as an engine error event")
}

func TestInitializeLogsPermissionDenial(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	authority := simulation.NewStaticAuthority(interfaces.CapabilityCamera)
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{}, WithPermissionAuthority(authority))

	require.NoError(t, ctrl.Initialize(context.Background()))

	assert.Equal(t, PhaseIdle, ctrl.Phase())
	assert.Equal(t, 1, engine.CallCount(simulation.MethodInitialize), "denial must not block initialization")
	require.Len(t, authority.Requests(), 1)
	assert.Equal(t, interfaces.CallCapabilities, authority.Requests()[0])

	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["function"] == "Initialize" {
			if msg, ok := entry.Data["error"].(string); ok && msg == "permission denied: camera" {
				found = true
			}
		}
	}
	assert.True(t, found, "permission denial should be logged")
}

func TestInitializePermissionAuthorityError(t *testing.T) {
	authority := simulation.NewStaticAuthority()
	authority.FailWith(errors.New("dialog dismissed"))
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{}, WithPermissionAuthority(authority))

	require.NoError(t, ctrl.Initialize(context.Background()))
	assert.Equal(t, PhaseIdle, ctrl.Phase())
	assert.Equal(t, 1, engine.CallCount(simulation.MethodInitialize))
}

func TestJoinBeforeInitialize(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})

	err := ctrl.Join(context.Background())

	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, 0, engine.CallCount(simulation.MethodJoinChannel))
}

func TestJoinWithCanceledContext(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})
	require.NoError(t, ctrl.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, ctrl.Join(ctx), context.Canceled)
	assert.Equal(t, PhaseIdle, ctrl.Phase())
	assert.Equal(t, 0, engine.CallCount(simulation.MethodJoinChannel))
}

func TestJoinAwaitsConfirmation(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})
	require.NoError(t, ctrl.Initialize(context.Background()))
	engine.ClearCalls()

	require.NoError(t, ctrl.Join(context.Background()))
	flush(t, ctrl)

	snap := ctrl.Snapshot()
	assert.Equal(t, PhaseJoining, snap.Phase)
	assert.False(t, snap.Joined, "joined must wait for the engine confirmation")
	assert.NotEmpty(t, snap.AttemptID)

	assert.Equal(t, []string{
		simulation.MethodSetClientRole,
		simulation.MethodStartPreview,
		simulation.MethodJoinChannel,
	}, engine.Methods())
	assert.Equal(t, interfaces.ClientRoleBroadcaster, engine.Role())
	assert.Equal(t, "room1", engine.Channel())
	assert.Equal(t, "token-abc", engine.Token())
	assert.Equal(t, interfaces.ChannelMediaOptions{
		ChannelProfile: interfaces.ChannelProfileCommunication,
		ClientRole:     interfaces.ClientRoleBroadcaster,
	}, engine.JoinOptions())

	require.NoError(t, engine.EmitJoinSuccess())
	flush(t, ctrl)

	snap = ctrl.Snapshot()
	assert.Equal(t, PhaseJoined, snap.Phase)
	assert.True(t, snap.Joined)
	assert.Nil(t, snap.RemoteParticipant)
	assert.Equal(t, "Joined channel: room1", snap.StatusMessage)
	assert.Equal(t, "room1", snap.Channel)
}

func TestJoinedAtUsesTimeProvider(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tp := &MockTimeProvider{now: fixed}
	ctrl, _ := newTestController(t, Config{}, simulation.EngineConfig{AutoConfirm: true}, WithTimeProvider(tp))

	require.NoError(t, ctrl.Initialize(context.Background()))
	require.NoError(t, ctrl.Join(context.Background()))
	flush(t, ctrl)

	assert.Equal(t, fixed, ctrl.Snapshot().JoinedAt)
}

func TestJoinWhileJoinedIsNoop(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})
	before := ctrl.Snapshot()

	require.NoError(t, ctrl.Join(context.Background()))
	flush(t, ctrl)

	assert.Equal(t, 1, engine.CallCount(simulation.MethodJoinChannel))
	assert.Equal(t, before, ctrl.Snapshot())
}

func TestJoinWhileJoiningIsNoop(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})
	require.NoError(t, ctrl.Initialize(context.Background()))

	require.NoError(t, ctrl.Join(context.Background()))
	attempt := ctrl.Snapshot().AttemptID
	require.NoError(t, ctrl.Join(context.Background()))

	assert.Equal(t, 1, engine.CallCount(simulation.MethodJoinChannel))
	assert.Equal(t, attempt, ctrl.Snapshot().AttemptID)
}

func TestJoinFailureReturnsToIdle(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		stopPreview int
	}{
		{"client role rejected", simulation.MethodSetClientRole, 0},
		{"preview rejected", simulation.MethodStartPreview, 0},
		{"join rejected", simulation.MethodJoinChannel, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{AutoConfirm: true})
			require.NoError(t, ctrl.Initialize(context.Background()))

			injected := errors.New("rejected")
			engine.FailOn(tt.method, injected)

			err := ctrl.Join(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, injected)

			snap := ctrl.Snapshot()
			assert.Equal(t, PhaseIdle, snap.Phase)
			assert.False(t, snap.Joined)
			assert.Equal(t, tt.stopPreview, engine.CallCount(simulation.MethodStopPreview))

			engine.ClearFailures()
			require.NoError(t, ctrl.Join(context.Background()), "a failed attempt must allow a retry")
		})
	}
}

func TestRemoteParticipantsPrimaryIsMostRecent(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})

	require.NoError(t, engine.EmitUserJoined(2000))
	require.NoError(t, engine.EmitUserJoined(3000))
	flush(t, ctrl)

	snap := ctrl.Snapshot()
	uid, ok := snap.Remote()
	require.True(t, ok)
	assert.Equal(t, ParticipantID(3000), uid)
	assert.Equal(t, []ParticipantID{2000, 3000}, snap.RemoteParticipants)

	require.NoError(t, engine.EmitUserOffline(3000, interfaces.OfflineReasonQuit))
	flush(t, ctrl)

	uid, ok = ctrl.Snapshot().Remote()
	require.True(t, ok)
	assert.Equal(t, ParticipantID(2000), uid, "primary should fall back to the remaining participant")

	require.NoError(t, engine.EmitUserOffline(2000, interfaces.OfflineReasonDropped))
	flush(t, ctrl)

	assert.Nil(t, ctrl.Snapshot().RemoteParticipant)
	assert.True(t, ctrl.Snapshot().Joined)
}

func TestRemoteOfflineUnknownParticipant(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})

	require.NoError(t, engine.EmitUserJoined(2000))
	require.NoError(t, engine.EmitUserOffline(4000, interfaces.OfflineReasonQuit))
	flush(t, ctrl)

	uid, ok := ctrl.Snapshot().Remote()
	require.True(t, ok)
	assert.Equal(t, ParticipantID(2000), uid)
}

func TestSingleRemoteSlot(t *testing.T) {
	ctrl, engine := joinedController(t, Config{SingleRemoteSlot: true})

	require.NoError(t, engine.EmitUserJoined(2000))
	require.NoError(t, engine.EmitUserJoined(3000))
	flush(t, ctrl)

	snap := ctrl.Snapshot()
	assert.Equal(t, []ParticipantID{3000}, snap.RemoteParticipants, "the older participant is dropped")

	require.NoError(t, engine.EmitUserOffline(2000, interfaces.OfflineReasonQuit))
	flush(t, ctrl)

	assert.Nil(t, ctrl.Snapshot().RemoteParticipant, "any departure clears the slot")
}

func TestRemoteJoinedIgnoredWhileJoining(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})
	require.NoError(t, ctrl.Initialize(context.Background()))
	require.NoError(t, ctrl.Join(context.Background()))

	require.NoError(t, engine.EmitUserJoined(2000))
	flush(t, ctrl)

	assert.Nil(t, ctrl.Snapshot().RemoteParticipant)
	assert.Empty(t, ctrl.Snapshot().RemoteParticipants)
}

func TestLeave(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})
	require.NoError(t, engine.EmitUserJoined(2000))
	flush(t, ctrl)

	require.NoError(t, ctrl.Leave())

	snap := ctrl.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.False(t, snap.Joined)
	assert.Nil(t, snap.RemoteParticipant)
	assert.Empty(t, snap.RemoteParticipants)
	assert.Equal(t, StatusLeft, snap.StatusMessage)
	assert.True(t, snap.JoinedAt.IsZero())

	assert.Equal(t, 1, engine.CallCount(simulation.MethodLeaveChannel))
	assert.Equal(t, 1, engine.CallCount(simulation.MethodStopPreview))

	// The auto-confirmed left-channel event must not change anything.
	flush(t, ctrl)
	assert.Equal(t, snap, ctrl.Snapshot())
}

func TestLeaveWhenNotJoinedIsNoop(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})

	require.NoError(t, ctrl.Leave())
	require.NoError(t, ctrl.Initialize(context.Background()))
	require.NoError(t, ctrl.Leave())

	assert.Equal(t, 0, engine.CallCount(simulation.MethodLeaveChannel))
	assert.Equal(t, 0, engine.CallCount(simulation.MethodStopPreview))
	assert.Empty(t, ctrl.Snapshot().StatusMessage)
}

func TestLeaveReportsEngineErrorsAfterUpdatingState(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})
	engine.FailOn(simulation.MethodLeaveChannel, errors.New("leave refused"))
	engine.FailOn(simulation.MethodStopPreview, errors.New("preview stuck"))

	err := ctrl.Leave()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leave refused")
	assert.Contains(t, err.Error(), "preview stuck")

	snap := ctrl.Snapshot()
	assert.False(t, snap.Joined)
	assert.Equal(t, StatusLeft, snap.StatusMessage)
}

func TestLeftChannelEventDoesNotUnjoin(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})
	require.NoError(t, engine.EmitUserJoined(2000))

	require.NoError(t, engine.EmitLeaveChannel())
	flush(t, ctrl)

	snap := ctrl.Snapshot()
	assert.True(t, snap.Joined)
	assert.Nil(t, snap.RemoteParticipant)
}

func TestLateJoinConfirmationAfterLeaveIgnored(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})
	require.NoError(t, ctrl.Leave())

	require.NoError(t, engine.EmitJoinSuccess())
	flush(t, ctrl)

	snap := ctrl.Snapshot()
	assert.False(t, snap.Joined)
	assert.Equal(t, StatusLeft, snap.StatusMessage)
}

func TestRejoinAfterLeave(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})
	first := ctrl.Snapshot().AttemptID
	require.NoError(t, ctrl.Leave())

	require.NoError(t, ctrl.SetCredentials(Credentials{
		ApplicationID: "app-123",
		AccessToken:   "token-xyz",
		ChannelName:   "room2",
	}))
	require.NoError(t, ctrl.Join(context.Background()))
	flush(t, ctrl)

	snap := ctrl.Snapshot()
	assert.True(t, snap.Joined)
	assert.Equal(t, "Joined channel: room2", snap.StatusMessage)
	assert.NotEqual(t, first, snap.AttemptID)
	assert.Equal(t, "token-xyz", engine.Token())
}

func TestJoinTimeout(t *testing.T) {
	tp := &MockTimeProvider{fire: true}
	ctrl, engine := newTestController(t, Config{JoinTimeout: 30 * time.Second}, simulation.EngineConfig{}, WithTimeProvider(tp))
	require.NoError(t, ctrl.Initialize(context.Background()))
	require.NoError(t, ctrl.Join(context.Background()))

	require.Eventually(t, func() bool {
		return ctrl.Phase() == PhaseIdle
	}, time.Second, time.Millisecond)

	assert.Equal(t, []time.Duration{30 * time.Second}, tp.requested())

	snap := ctrl.Snapshot()
	assert.False(t, snap.Joined)
	assert.Equal(t, StatusJoinTimedOut, snap.StatusMessage)
	assert.Equal(t, 1, engine.CallCount(simulation.MethodLeaveChannel))
	assert.Equal(t, 1, engine.CallCount(simulation.MethodStopPreview))

	// A confirmation arriving after the timeout is ignored.
	require.NoError(t, engine.EmitJoinSuccess())
	flush(t, ctrl)
	assert.False(t, ctrl.Snapshot().Joined)
}

func TestJoinTimeoutIgnoredAfterConfirmation(t *testing.T) {
	// The confirmation is queued before the timer is armed, so the expired
	// timer must find the session already joined.
	tp := &MockTimeProvider{fire: true}
	ctrl, engine := newTestController(t, Config{JoinTimeout: 30 * time.Second}, simulation.EngineConfig{AutoConfirm: true}, WithTimeProvider(tp))
	require.NoError(t, ctrl.Initialize(context.Background()))
	require.NoError(t, ctrl.Join(context.Background()))
	flush(t, ctrl)

	require.Len(t, tp.requested(), 1)
	assert.True(t, ctrl.Snapshot().Joined)
	assert.Equal(t, 0, engine.CallCount(simulation.MethodLeaveChannel))
}

func TestJoinTimeoutDisabledByDefault(t *testing.T) {
	tp := &MockTimeProvider{fire: true}
	ctrl, _ := newTestController(t, Config{}, simulation.EngineConfig{}, WithTimeProvider(tp))
	require.NoError(t, ctrl.Initialize(context.Background()))
	require.NoError(t, ctrl.Join(context.Background()))
	flush(t, ctrl)

	assert.Empty(t, tp.requested())
	assert.Equal(t, PhaseJoining, ctrl.Phase())
}

func TestSetCredentialsLockedDuringCall(t *testing.T) {
	ctrl, _ := newTestController(t, Config{}, simulation.EngineConfig{})
	updated := Credentials{ApplicationID: "app-123", AccessToken: "t2", ChannelName: "room9"}

	require.NoError(t, ctrl.SetCredentials(updated), "editable before initialize")
	require.NoError(t, ctrl.Initialize(context.Background()))
	require.NoError(t, ctrl.SetCredentials(updated), "editable while idle")

	require.NoError(t, ctrl.Join(context.Background()))
	assert.ErrorIs(t, ctrl.SetCredentials(testCredentials), ErrCredentialsLocked)
	assert.Equal(t, updated, ctrl.Credentials())
}

func TestSwitchCameraInAnyPhase(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{AutoConfirm: true})

	require.NoError(t, ctrl.SwitchCamera())
	require.NoError(t, ctrl.Initialize(context.Background()))
	require.NoError(t, ctrl.SwitchCamera())
	require.NoError(t, ctrl.Join(context.Background()))
	flush(t, ctrl)
	require.NoError(t, ctrl.SwitchCamera())

	assert.Equal(t, 3, engine.CallCount(simulation.MethodSwitchCamera))
	assert.False(t, engine.FrontCamera())
	assert.True(t, ctrl.Snapshot().Joined, "switching camera must not change the session")
}

func TestSwitchCameraError(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})
	injected := errors.New("no second camera")
	engine.FailOn(simulation.MethodSwitchCamera, injected)

	assert.ErrorIs(t, ctrl.SwitchCamera(), injected)
}

func TestEngineErrorEventIsLogged(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	ctrl, engine := joinedController(t, Config{})
	before := ctrl.Snapshot()

	require.NoError(t, engine.EmitError(interfaces.ErrorCodeInvalidToken, "token rejected"))
	flush(t, ctrl)

	assert.Equal(t, before, ctrl.Snapshot(), "engine errors do not change the session")

	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Engine error" {
			found = true
			assert.Equal(t, int(interfaces.ErrorCodeInvalidToken), entry.Data["code"])
			assert.Equal(t, interfaces.ErrorCodeInvalidToken.String(), entry.Data["code_name"])
		}
	}
	assert.True(t, found)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{AutoConfirm: true})
	updates, cancel := ctrl.Subscribe()
	defer cancel()

	require.NoError(t, ctrl.Initialize(context.Background()))
	require.NoError(t, ctrl.Join(context.Background()))
	require.NoError(t, engine.EmitUserJoined(2000))
	flush(t, ctrl)

	var phases []Phase
	var last Snapshot
	for len(updates) > 0 {
		last = <-updates
		phases = append(phases, last.Phase)
	}

	assert.Equal(t, []Phase{PhaseIdle, PhaseJoining, PhaseJoined, PhaseJoined}, phases)
	uid, ok := last.Remote()
	require.True(t, ok)
	assert.Equal(t, ParticipantID(2000), uid)
}

func TestSubscribeCancelAndClose(t *testing.T) {
	ctrl, _ := newTestController(t, Config{}, simulation.EngineConfig{})

	first, cancelFirst := ctrl.Subscribe()
	second, _ := ctrl.Subscribe()

	cancelFirst()
	cancelFirst()
	_, ok := <-first
	assert.False(t, ok, "cancel closes the channel")

	require.NoError(t, ctrl.Close())
	_, ok = <-second
	assert.False(t, ok, "close closes remaining subscribers")

	late, cancelLate := ctrl.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
	cancelLate()
}

func TestSnapshotIsACopy(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})
	require.NoError(t, engine.EmitUserJoined(2000))
	flush(t, ctrl)

	snap := ctrl.Snapshot()
	snap.RemoteParticipants[0] = 9999

	assert.Equal(t, []ParticipantID{2000}, ctrl.Snapshot().RemoteParticipants)
}

func TestCloseReleasesOnceFromEveryPhase(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, ctrl *Controller)
	}{
		{"uninitialized", func(t *testing.T, ctrl *Controller) {}},
		{"idle", func(t *testing.T, ctrl *Controller) {
			require.NoError(t, ctrl.Initialize(context.Background()))
		}},
		{"joining", func(t *testing.T, ctrl *Controller) {
			require.NoError(t, ctrl.Initialize(context.Background()))
			require.NoError(t, ctrl.Join(context.Background()))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, engine := newTestController(t, Config{JoinTimeout: time.Hour}, simulation.EngineConfig{})
			tt.setup(t, ctrl)

			require.NoError(t, ctrl.Close())
			require.NoError(t, ctrl.Close())

			assert.Equal(t, 1, engine.CallCount(simulation.MethodRelease))
			assert.True(t, engine.IsReleased())
		})
	}

	t.Run("joined", func(t *testing.T) {
		ctrl, engine := joinedController(t, Config{})

		require.NoError(t, ctrl.Close())
		require.NoError(t, ctrl.Close())

		assert.Equal(t, 1, engine.CallCount(simulation.MethodRelease))
	})
}

func TestCommandsAfterClose(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})
	require.NoError(t, ctrl.Close())

	assert.ErrorIs(t, ctrl.Initialize(context.Background()), ErrClosed)
	assert.ErrorIs(t, ctrl.Join(context.Background()), ErrClosed)
	assert.ErrorIs(t, ctrl.Leave(), ErrClosed)
	assert.ErrorIs(t, ctrl.SwitchCamera(), ErrClosed)
	assert.ErrorIs(t, ctrl.SetCredentials(testCredentials), ErrClosed)
	assert.ErrorIs(t, ctrl.Flush(context.Background()), ErrClosed)

	assert.Equal(t, []string{simulation.MethodRelease}, engine.Methods())
}

func TestCloseRecoversReleasePanic(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})
	engine.PanicOnRelease("native crash")

	err := ctrl.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine release panicked: native crash")

	assert.Equal(t, err, ctrl.Close(), "close is idempotent")
	assert.Equal(t, 1, engine.CallCount(simulation.MethodRelease))
}

func TestCloseReportsReleaseError(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})
	injected := errors.New("device busy")
	engine.FailOn(simulation.MethodRelease, injected)

	err := ctrl.Close()
	assert.ErrorIs(t, err, injected)
}

func TestEventsAfterCloseAreDropped(t *testing.T) {
	engine := simulation.NewSimulatedEngine(simulation.EngineConfig{})
	ctrl, err := NewController(engine, Config{Credentials: testCredentials})
	require.NoError(t, err)
	require.NoError(t, ctrl.Initialize(context.Background()))

	var handler interfaces.EventHandler = eventSink{c: ctrl}
	require.NoError(t, ctrl.Close())

	done := make(chan struct{})
	go func() {
		handler.OnUserJoined(interfaces.Connection{}, 2000)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback blocked after close")
	}
	assert.Equal(t, PhaseIdle, ctrl.Phase())
}

func TestConcurrentReadsDuringEvents(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					snap := ctrl.Snapshot()
					_ = snap.Layout()
				}
			}
		}()
	}

	for uid := ParticipantID(2000); uid < 2100; uid++ {
		require.NoError(t, engine.EmitUserJoined(uid))
	}
	flush(t, ctrl)
	close(stop)
	wg.Wait()

	assert.Len(t, ctrl.Snapshot().RemoteParticipants, 100)
}

func TestLeaveNeverShowsJoinedStatusWhileNotJoined(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})
	require.NoError(t, engine.EmitUserJoined(2000))
	flush(t, ctrl)

	updates, cancel := ctrl.Subscribe()
	defer cancel()

	require.NoError(t, ctrl.Leave())
	flush(t, ctrl)

	var phases []Phase
	for len(updates) > 0 {
		snap := <-updates
		phases = append(phases, snap.Phase)
		assert.False(t, snap.Joined)
		assert.Nil(t, snap.RemoteParticipant)
		assert.Equal(t, StatusLeft, snap.Layout().Placeholder, "phase %s", snap.Phase)
	}
	assert.Equal(t, []Phase{PhaseLeaving, PhaseIdle}, phases)
}

func TestRemoteJoinedRejectsLocalID(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})

	require.NoError(t, engine.EmitUserJoined(LocalParticipant))
	flush(t, ctrl)

	snap := ctrl.Snapshot()
	assert.Nil(t, snap.RemoteParticipant)
	assert.Empty(t, snap.RemoteParticipants)

	layout := snap.Layout()
	require.NotNil(t, layout.Main)
	assert.True(t, layout.Main.Local)
}

func TestSlowSubscriberGetsLatestSnapshot(t *testing.T) {
	ctrl, engine := joinedController(t, Config{})
	updates, cancel := ctrl.Subscribe()
	defer cancel()

	for uid := ParticipantID(2000); uid < 2040; uid++ {
		require.NoError(t, engine.EmitUserJoined(uid))
	}
	flush(t, ctrl)

	var last Snapshot
	received := 0
	for len(updates) > 0 {
		last = <-updates
		received++
	}

	assert.Equal(t, subscriberBuffer, received)
	uid, ok := last.Remote()
	require.True(t, ok)
	assert.Equal(t, ParticipantID(2039), uid)
	assert.Equal(t, ctrl.Snapshot(), last)
}

func TestCloseAbandonsQueuedEvents(t *testing.T) {
	ctrl, engine := newTestController(t, Config{}, simulation.EngineConfig{})
	require.NoError(t, ctrl.Initialize(context.Background()))
	require.NoError(t, ctrl.Join(context.Background()))

	// Queue a timeout for the live attempt and start Close while a command
	// still holds the lock.
	ctrl.mu.Lock()
	require.True(t, ctrl.enqueue(engineEvent{kind: eventJoinTimeout, attempt: ctrl.attempt}))

	closeErr := make(chan error, 1)
	go func() { closeErr <- ctrl.Close() }()
	require.Eventually(t, ctrl.closed.Load, time.Second, time.Millisecond)

	switchErr := make(chan error, 1)
	go func() { switchErr <- ctrl.SwitchCamera() }()
	ctrl.mu.Unlock()

	select {
	case err := <-closeErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not return")
	}
	assert.ErrorIs(t, <-switchErr, ErrClosed)

	methods := engine.Methods()
	assert.Equal(t, simulation.MethodRelease, methods[len(methods)-1], "nothing may reach the engine after release: %v", methods)
	assert.Equal(t, 0, engine.CallCount(simulation.MethodLeaveChannel))
	assert.Equal(t, 0, engine.CallCount(simulation.MethodStopPreview))
	assert.Equal(t, 0, engine.CallCount(simulation.MethodSwitchCamera))
}

func checkRemoteImpliesJoined(t *testing.T, step int, snap Snapshot) {
	t.Helper()

	if snap.RemoteParticipant != nil || len(snap.RemoteParticipants) > 0 {
		require.True(t, snap.Joined, "step %d: remotes %v tracked in phase %s", step, snap.RemoteParticipants, snap.Phase)
	}
	if uid, ok := snap.Remote(); ok {
		require.NotEqual(t, LocalParticipant, uid, "step %d", step)
	}
}

func TestRemoteParticipantImpliesJoined(t *testing.T) {
	for _, single := range []bool{false, true} {
		t.Run(fmt.Sprintf("single_slot=%v", single), func(t *testing.T) {
			ctrl, engine := newTestController(t, Config{SingleRemoteSlot: single}, simulation.EngineConfig{})
			require.NoError(t, ctrl.Initialize(context.Background()))

			updates, cancel := ctrl.Subscribe()
			defer cancel()

			rng := rand.New(rand.NewSource(7))
			remote := func() ParticipantID {
				return ParticipantID(rng.Intn(4)) + 1999
			}
			steps := []func(){
				func() { _ = ctrl.Join(context.Background()) },
				func() { _ = ctrl.Leave() },
				func() { _ = ctrl.SwitchCamera() },
				func() { _ = engine.EmitJoinSuccess() },
				func() { _ = engine.EmitUserJoined(remote()) },
				func() { _ = engine.EmitUserJoined(LocalParticipant) },
				func() { _ = engine.EmitUserOffline(remote(), interfaces.OfflineReasonQuit) },
				func() { _ = engine.EmitLeaveChannel() },
			}

			sawRemote := false
			for i := 0; i < 500; i++ {
				steps[rng.Intn(len(steps))]()
				flush(t, ctrl)

				snap := ctrl.Snapshot()
				checkRemoteImpliesJoined(t, i, snap)
				if snap.RemoteParticipant != nil {
					sawRemote = true
				}
				for len(updates) > 0 {
					checkRemoteImpliesJoined(t, i, <-updates)
				}
			}
			assert.True(t, sawRemote, "the sequence should reach a joined state with remotes")
		})
	}
}
