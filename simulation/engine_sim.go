package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/rtccall/interfaces"
	"github.com/sirupsen/logrus"
)

// DefaultLocalUID is the local participant id reported in join confirmations
// when EngineConfig.LocalUID is zero.
const DefaultLocalUID interfaces.ParticipantID = 1000

// Engine method names used in call records and failure injection.
const (
	MethodInitialize           = "Initialize"
	MethodRegisterEventHandler = "RegisterEventHandler"
	MethodEnableAudio          = "EnableAudio"
	MethodEnableVideo          = "EnableVideo"
	MethodSetClientRole        = "SetClientRole"
	MethodStartPreview         = "StartPreview"
	MethodStopPreview          = "StopPreview"
	MethodSwitchCamera         = "SwitchCamera"
	MethodJoinChannel          = "JoinChannel"
	MethodLeaveChannel         = "LeaveChannel"
	MethodRelease              = "Release"
)

var (
	// ErrNoHandler indicates an event was emitted before a handler was registered.
	ErrNoHandler = errors.New("no event handler registered")

	// ErrNotInitialized indicates a channel command before Initialize.
	ErrNotInitialized = errors.New("simulated engine is not initialized")

	// ErrReleased indicates a command after Release.
	ErrReleased = errors.New("simulated engine is released")

	// ErrNotInChannel indicates a channel event while no channel is joined.
	ErrNotInChannel = errors.New("simulated engine is not in a channel")
)

// EngineConfig controls a SimulatedEngine.
type EngineConfig struct {
	// AutoConfirm answers JoinChannel with OnJoinChannelSuccess and
	// LeaveChannel with OnLeaveChannel.
	AutoConfirm bool

	// LocalUID is reported as the local participant id. Zero means
	// DefaultLocalUID.
	LocalUID interfaces.ParticipantID
}

// CallRecord represents one engine command for test verification.
type CallRecord struct {
	Method string
	Detail string
	Err    error
}

// EngineStats summarizes a simulated engine.
type EngineStats struct {
	TotalCalls   int
	Joins        int
	Leaves       int
	RemoteCount  int
	InChannel    bool
	Previewing   bool
	Released     bool
	EventsPushed int
}

// SimulatedEngine implements interfaces.Engine in memory.
type SimulatedEngine struct {
	mu       sync.RWMutex
	config   EngineConfig
	handler  interfaces.EventHandler
	calls    []CallRecord
	counts   map[string]int
	failures map[string]error
	panicVal any

	initialized  bool
	released     bool
	appID        string
	audioEnabled bool
	videoEnabled bool
	previewing   bool
	frontCamera  bool
	role         interfaces.ClientRole
	inChannel    bool
	channel      string
	token        string
	options      interfaces.ChannelMediaOptions
	remotes      map[interfaces.ParticipantID]bool
	eventsPushed int
}

// NewSimulatedEngine creates a new in-memory engine.
func NewSimulatedEngine(config EngineConfig) *SimulatedEngine {
	logrus.Warn("SIMULATION ENGINE - NOT A REAL MEDIA ENGINE")
	logrus.WithFields(logrus.Fields{
		"function":     "NewSimulatedEngine",
		"auto_confirm": config.AutoConfirm,
		"local_uid":    config.LocalUID,
	}).Info("Creating simulated engine")

	if config.LocalUID == 0 {
		config.LocalUID = DefaultLocalUID
	}

	return &SimulatedEngine{
		config:      config,
		counts:      make(map[string]int),
		failures:    make(map[string]error),
		frontCamera: true,
		remotes:     make(map[interfaces.ParticipantID]bool),
	}
}

// record appends a call record and returns the injected failure, if any.
// It must be called with s.mu held.
func (s *SimulatedEngine) record(method, detail string) error {
	err := s.failures[method]
	s.calls = append(s.calls, CallRecord{Method: method, Detail: detail, Err: err})
	s.counts[method]++

	logrus.WithFields(logrus.Fields{
		"function": "SimulatedEngine." + method,
		"detail":   detail,
		"failed":   err != nil,
	}).Debug("Simulated engine call")

	return err
}

// Initialize implements interfaces.Engine.
func (s *SimulatedEngine) Initialize(ctx context.Context, appID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record(MethodInitialize, appID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.released {
		return ErrReleased
	}
	s.initialized = true
	s.appID = appID
	return nil
}

// RegisterEventHandler implements interfaces.Engine.
func (s *SimulatedEngine) RegisterEventHandler(handler interfaces.EventHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record(MethodRegisterEventHandler, ""); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("event handler cannot be nil")
	}
	s.handler = handler
	return nil
}

// EnableAudio implements interfaces.Engine.
func (s *SimulatedEngine) EnableAudio() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record(MethodEnableAudio, ""); err != nil {
		return err
	}
	s.audioEnabled = true
	return nil
}

// EnableVideo implements interfaces.Engine.
func (s *SimulatedEngine) EnableVideo() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record(MethodEnableVideo, ""); err != nil {
		return err
	}
	s.videoEnabled = true
	return nil
}

// SetClientRole implements interfaces.Engine.
func (s *SimulatedEngine) SetClientRole(role interfaces.ClientRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record(MethodSetClientRole, role.String()); err != nil {
		return err
	}
	s.role = role
	return nil
}

// StartPreview implements interfaces.Engine.
func (s *SimulatedEngine) StartPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record(MethodStartPreview, ""); err != nil {
		return err
	}
	s.previewing = true
	return nil
}

// StopPreview implements interfaces.Engine.
func (s *SimulatedEngine) StopPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record(MethodStopPreview, ""); err != nil {
		return err
	}
	s.previewing = false
	return nil
}

// SwitchCamera implements interfaces.Engine.
func (s *SimulatedEngine) SwitchCamera() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.record(MethodSwitchCamera, ""); err != nil {
		return err
	}
	s.frontCamera = !s.frontCamera
	return nil
}

// JoinChannel implements interfaces.Engine.
func (s *SimulatedEngine) JoinChannel(token, channelName string, uid interfaces.ParticipantID, options interfaces.ChannelMediaOptions) error {
	s.mu.Lock()
	detail := fmt.Sprintf("channel=%s uid=%d profile=%s role=%s", channelName, uid, options.ChannelProfile, options.ClientRole)
	if err := s.record(MethodJoinChannel, detail); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if s.released {
		s.mu.Unlock()
		return ErrReleased
	}
	s.inChannel = true
	s.channel = channelName
	s.token = token
	s.options = options
	auto := s.config.AutoConfirm
	s.mu.Unlock()

	if auto {
		return s.EmitJoinSuccess()
	}
	return nil
}

// LeaveChannel implements interfaces.Engine.
func (s *SimulatedEngine) LeaveChannel() error {
	s.mu.Lock()
	if err := s.record(MethodLeaveChannel, s.channel); err != nil {
		s.mu.Unlock()
		return err
	}
	wasInChannel := s.inChannel
	s.inChannel = false
	s.remotes = make(map[interfaces.ParticipantID]bool)
	auto := s.config.AutoConfirm
	s.mu.Unlock()

	if auto && wasInChannel {
		return s.deliver(func(h interfaces.EventHandler, conn interfaces.Connection) {
			h.OnLeaveChannel(conn)
		})
	}
	return nil
}

// Release implements interfaces.Engine. Only the first call tears down.
func (s *SimulatedEngine) Release() error {
	s.mu.Lock()
	err := s.record(MethodRelease, "")
	panicVal := s.panicVal
	if err == nil && !s.released {
		s.released = true
		s.initialized = false
		s.inChannel = false
		s.previewing = false
		s.handler = nil
	}
	s.mu.Unlock()

	if panicVal != nil {
		panic(panicVal)
	}
	return err
}

// FailOn makes the named method return err until ClearFailures.
func (s *SimulatedEngine) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

// ClearFailures removes every injected failure.
func (s *SimulatedEngine) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]error)
}

// PanicOnRelease makes Release panic with v.
func (s *SimulatedEngine) PanicOnRelease(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panicVal = v
}

// deliver invokes fn with the registered handler outside of s.mu so the
// handler may call back into the engine.
func (s *SimulatedEngine) deliver(fn func(h interfaces.EventHandler, conn interfaces.Connection)) error {
	s.mu.Lock()
	handler := s.handler
	conn := interfaces.Connection{ChannelName: s.channel, LocalUID: s.config.LocalUID}
	if handler != nil {
		s.eventsPushed++
	}
	s.mu.Unlock()

	if handler == nil {
		return ErrNoHandler
	}
	fn(handler, conn)
	return nil
}

// EmitJoinSuccess pushes OnJoinChannelSuccess for the current channel.
func (s *SimulatedEngine) EmitJoinSuccess() error {
	return s.deliver(func(h interfaces.EventHandler, conn interfaces.Connection) {
		logrus.WithFields(logrus.Fields{
			"function":  "SimulatedEngine.EmitJoinSuccess",
			"channel":   conn.ChannelName,
			"local_uid": conn.LocalUID,
		}).Info("Simulating join confirmation")
		h.OnJoinChannelSuccess(conn)
	})
}

// EmitUserJoined pushes OnUserJoined for uid. The engine must be in a channel.
func (s *SimulatedEngine) EmitUserJoined(uid interfaces.ParticipantID) error {
	s.mu.Lock()
	if !s.inChannel {
		s.mu.Unlock()
		return ErrNotInChannel
	}
	s.remotes[uid] = true
	s.mu.Unlock()

	return s.deliver(func(h interfaces.EventHandler, conn interfaces.Connection) {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedEngine.EmitUserJoined",
			"uid":      uid,
		}).Info("Simulating remote participant joining")
		h.OnUserJoined(conn, uid)
	})
}

// EmitUserOffline pushes OnUserOffline for uid.
func (s *SimulatedEngine) EmitUserOffline(uid interfaces.ParticipantID, reason interfaces.OfflineReason) error {
	s.mu.Lock()
	delete(s.remotes, uid)
	s.mu.Unlock()

	return s.deliver(func(h interfaces.EventHandler, conn interfaces.Connection) {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedEngine.EmitUserOffline",
			"uid":      uid,
			"reason":   reason.String(),
		}).Info("Simulating remote participant leaving")
		h.OnUserOffline(conn, uid, reason)
	})
}

// EmitLeaveChannel pushes OnLeaveChannel.
func (s *SimulatedEngine) EmitLeaveChannel() error {
	return s.deliver(func(h interfaces.EventHandler, conn interfaces.Connection) {
		h.OnLeaveChannel(conn)
	})
}

// EmitError pushes OnError.
func (s *SimulatedEngine) EmitError(code interfaces.ErrorCode, message string) error {
	return s.deliver(func(h interfaces.EventHandler, conn interfaces.Connection) {
		logrus.WithFields(logrus.Fields{
			"function": "SimulatedEngine.EmitError",
			"code":     int(code),
		}).Info("Simulating engine error")
		h.OnError(code, message)
	})
}

// CallCount returns how many times method was invoked.
func (s *SimulatedEngine) CallCount(method string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[method]
}

// Calls returns a copy of the call log.
func (s *SimulatedEngine) Calls() []CallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	calls := make([]CallRecord, len(s.calls))
	copy(calls, s.calls)
	return calls
}

// Methods returns the method names of the call log in order.
func (s *SimulatedEngine) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	methods := make([]string, len(s.calls))
	for i, call := range s.calls {
		methods[i] = call.Method
	}
	return methods
}

// ClearCalls empties the call log and counters.
func (s *SimulatedEngine) ClearCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.counts = make(map[string]int)
}

// AppID returns the application id passed to Initialize.
func (s *SimulatedEngine) AppID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appID
}

// Channel returns the channel of the last join request.
func (s *SimulatedEngine) Channel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channel
}

// Token returns the token of the last join request.
func (s *SimulatedEngine) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// JoinOptions returns the options of the last join request.
func (s *SimulatedEngine) JoinOptions() interfaces.ChannelMediaOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.options
}

// Role returns the last client role set.
func (s *SimulatedEngine) Role() interfaces.ClientRole {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// MediaEnabled reports whether audio and video capture were enabled.
func (s *SimulatedEngine) MediaEnabled() (audio, video bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioEnabled, s.videoEnabled
}

// FrontCamera reports whether the front camera is selected.
func (s *SimulatedEngine) FrontCamera() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frontCamera
}

// IsReleased reports whether Release has torn the engine down.
func (s *SimulatedEngine) IsReleased() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}

// Stats returns a summary of the engine state.
func (s *SimulatedEngine) Stats() EngineStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return EngineStats{
		TotalCalls:   len(s.calls),
		Joins:        s.counts[MethodJoinChannel],
		Leaves:       s.counts[MethodLeaveChannel],
		RemoteCount:  len(s.remotes),
		InChannel:    s.inChannel,
		Previewing:   s.previewing,
		Released:     s.released,
		EventsPushed: s.eventsPushed,
	}
}
