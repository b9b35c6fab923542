package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/rtccall/interfaces"
	"github.com/sirupsen/logrus"
)

// subscriberBuffer is the number of snapshots queued per subscriber before
// the oldest queued one is discarded.
const subscriberBuffer = 16

// Controller owns the lifecycle of one call attempt against an engine.
//
// Commands run under the controller mutex. Engine callbacks are queued in a
// bounded mailbox and applied one at a time by a single goroutine that takes
// the same mutex, so an event is never applied while a command is running.
// Snapshot reads never block.
type Controller struct {
	engine       interfaces.Engine
	permissions  interfaces.PermissionAuthority
	config       Config
	timeProvider TimeProvider

	mu        sync.Mutex
	phase     Phase
	channel   string
	remotes   *participantSet
	status    string
	attempt   uint64
	attemptID string
	joinedAt  time.Time
	joinTimer *time.Timer
	timerStop chan struct{}

	credsMu sync.RWMutex
	creds   Credentials

	current atomic.Pointer[Snapshot]

	events    chan engineEvent
	done      chan struct{}
	loopDone  chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	listenerMu sync.RWMutex
	listeners  map[chan Snapshot]struct{}
}

// Option configures optional collaborators of a Controller.
type Option func(*Controller)

// WithPermissionAuthority makes Initialize request microphone and camera
// capabilities first. Without it the host is assumed to need no grants.
func WithPermissionAuthority(authority interfaces.PermissionAuthority) Option {
	return func(c *Controller) {
		c.permissions = authority
	}
}

// WithTimeProvider sets the time provider for deterministic testing.
// If tp is nil, RealTimeProvider is used.
func WithTimeProvider(tp TimeProvider) Option {
	return func(c *Controller) {
		if tp == nil {
			tp = RealTimeProvider{}
		}
		c.timeProvider = tp
	}
}

// NewController creates a controller that exclusively owns engine. The
// engine is released by Close.
func NewController(engine interfaces.Engine, config Config, opts ...Option) (*Controller, error) {
	logrus.WithFields(logrus.Fields{
		"function": "NewController",
	}).Info("Creating call session controller")

	if engine == nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewController",
			"error":    ErrNilEngine.Error(),
		}).Error("Engine validation failed")
		return nil, ErrNilEngine
	}

	c := &Controller{
		engine:       engine,
		config:       config,
		timeProvider: RealTimeProvider{},
		phase:        PhaseUninitialized,
		remotes:      newParticipantSet(config.SingleRemoteSlot),
		creds:        config.Credentials,
		events:       make(chan engineEvent, config.mailboxSize()),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		listeners:    make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.mu.Lock()
	c.commitLocked()
	c.mu.Unlock()

	go c.run()

	logrus.WithFields(logrus.Fields{
		"function":           "NewController",
		"mailbox_size":       cap(c.events),
		"join_timeout":       config.JoinTimeout,
		"single_remote_slot": config.SingleRemoteSlot,
		"permissions":        c.permissions != nil,
	}).Debug("Call session controller created")

	return c, nil
}

// Initialize acquires the engine, registers the controller as its event sink
// and enables audio and video capture.
//
// Permission denials are logged and do not block initialization. An engine
// initialization failure is not returned: it is delivered as an engine error
// event and the controller still becomes idle. Initialize can run only once.
func (c *Controller) Initialize(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function": "Initialize",
	}).Info("Initializing call session")

	if err := c.lockOpen(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if c.phase != PhaseUninitialized {
		logrus.WithFields(logrus.Fields{
			"function": "Initialize",
			"phase":    c.phase.String(),
		}).Warn("Initialize called more than once")
		return ErrAlreadyInitialized
	}

	if err := c.requestPermissions(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Initialize",
			"error":    err.Error(),
		}).Warn("Permissions not granted, continuing initialization")
	}

	appID := c.Credentials().ApplicationID
	if err := c.engine.Initialize(ctx, appID); err != nil {
		initErr := fmt.Errorf("%w: %w", ErrEngineInit, err)
		logrus.WithFields(logrus.Fields{
			"function": "Initialize",
			"error":    initErr.Error(),
		}).Error("Engine initialization failed")
		c.enqueue(engineEvent{kind: eventEngineError, err: initErr})
	} else {
		c.prepareEngineLocked()
	}

	c.phase = PhaseIdle
	c.commitLocked()

	logrus.WithFields(logrus.Fields{
		"function": "Initialize",
	}).Info("Call session initialized")

	return nil
}

// prepareEngineLocked registers the event sink and enables capture.
func (c *Controller) prepareEngineLocked() {
	if err := c.engine.RegisterEventHandler(eventSink{c: c}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Initialize",
			"error":    err.Error(),
		}).Error("Failed to register event handler")
	}
	if err := c.engine.EnableAudio(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Initialize",
			"error":    err.Error(),
		}).Warn("Failed to enable audio")
	}
	if err := c.engine.EnableVideo(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Initialize",
			"error":    err.Error(),
		}).Warn("Failed to enable video")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Initialize",
	}).Debug("Engine initialized, audio and video enabled")
}

// requestPermissions returns a *PermissionError listing refused capabilities.
func (c *Controller) requestPermissions(ctx context.Context) error {
	if c.permissions == nil {
		logrus.WithFields(logrus.Fields{
			"function": "requestPermissions",
		}).Debug("No permission authority configured, skipping capability request")
		return nil
	}

	statuses, err := c.permissions.RequestCapabilities(ctx, interfaces.CallCapabilities)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	var denied []interfaces.Capability
	for _, capability := range interfaces.CallCapabilities {
		if statuses[capability] != interfaces.PermissionGranted {
			denied = append(denied, capability)
		}
	}
	if len(denied) > 0 {
		return &PermissionError{Denied: denied}
	}

	logrus.WithFields(logrus.Fields{
		"function": "requestPermissions",
	}).Info("Permissions granted")

	return nil
}

// Join issues a join request with the current credentials. It returns once
// the request is issued; the session becomes joined only when the engine
// confirms. Join is a no-op while a join is pending or the session is joined.
func (c *Controller) Join(ctx context.Context) error {
	if err := c.lockOpen(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseUninitialized:
		return ErrNotInitialized
	case PhaseJoining, PhaseJoined, PhaseLeaving:
		logrus.WithFields(logrus.Fields{
			"function": "Join",
			"phase":    c.phase.String(),
		}).Debug("Join ignored, call already in progress")
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	creds := c.Credentials()
	c.attempt++
	c.attemptID = uuid.NewString()
	c.phase = PhaseJoining
	c.channel = creds.ChannelName
	c.commitLocked()

	logrus.WithFields(logrus.Fields{
		"function":   "Join",
		"channel":    creds.ChannelName,
		"attempt_id": c.attemptID,
	}).Info("Joining channel")

	if err := c.engine.SetClientRole(interfaces.ClientRoleBroadcaster); err != nil {
		return c.abortJoinLocked("set client role", err, false)
	}

	if err := c.engine.StartPreview(); err != nil {
		return c.abortJoinLocked("start preview", err, false)
	}

	options := interfaces.ChannelMediaOptions{
		ChannelProfile: interfaces.ChannelProfileCommunication,
		ClientRole:     interfaces.ClientRoleBroadcaster,
	}
	if err := c.engine.JoinChannel(creds.AccessToken, creds.ChannelName, LocalParticipant, options); err != nil {
		return c.abortJoinLocked("join channel", err, true)
	}

	c.armJoinTimerLocked()

	logrus.WithFields(logrus.Fields{
		"function":   "Join",
		"channel":    creds.ChannelName,
		"attempt_id": c.attemptID,
	}).Debug("Join request issued, waiting for confirmation")

	return nil
}

// abortJoinLocked returns the session to idle after a failed join step.
func (c *Controller) abortJoinLocked(step string, err error, previewStarted bool) error {
	logrus.WithFields(logrus.Fields{
		"function":   "Join",
		"step":       step,
		"attempt_id": c.attemptID,
		"error":      err.Error(),
	}).Error("Join attempt failed")

	if previewStarted {
		if stopErr := c.engine.StopPreview(); stopErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Join",
				"error":    stopErr.Error(),
			}).Warn("Failed to stop preview after failed join")
		}
	}

	c.phase = PhaseIdle
	c.commitLocked()
	return fmt.Errorf("%s: %w", step, err)
}

func (c *Controller) armJoinTimerLocked() {
	if c.config.JoinTimeout <= 0 {
		return
	}
	attempt := c.attempt
	timer := c.timeProvider.NewTimer(c.config.JoinTimeout)
	stop := make(chan struct{})
	c.joinTimer = timer
	c.timerStop = stop

	go func() {
		select {
		case <-timer.C:
			c.enqueue(engineEvent{kind: eventJoinTimeout, attempt: attempt})
		case <-stop:
		case <-c.done:
		}
	}()
}

func (c *Controller) stopJoinTimerLocked() {
	if c.joinTimer != nil {
		c.joinTimer.Stop()
		close(c.timerStop)
		c.joinTimer = nil
		c.timerStop = nil
	}
}

// Leave issues a leave request and stops the local preview, then updates the
// session state without waiting for the engine to confirm. It is a no-op
// unless the session is joined. Engine errors are returned after the state
// has been updated.
func (c *Controller) Leave() error {
	if err := c.lockOpen(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if c.phase != PhaseJoined {
		logrus.WithFields(logrus.Fields{
			"function": "Leave",
			"phase":    c.phase.String(),
		}).Debug("Leave ignored, not joined")
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Leave",
		"channel":    c.channel,
		"attempt_id": c.attemptID,
	}).Info("Leaving channel")

	c.phase = PhaseLeaving
	c.status = StatusLeft
	c.remotes.clear()
	c.commitLocked()

	var errs []error
	if err := c.engine.LeaveChannel(); err != nil {
		errs = append(errs, fmt.Errorf("leave channel: %w", err))
	}
	if err := c.engine.StopPreview(); err != nil {
		errs = append(errs, fmt.Errorf("stop preview: %w", err))
	}

	c.stopJoinTimerLocked()
	c.phase = PhaseIdle
	c.joinedAt = time.Time{}
	c.commitLocked()

	err := errors.Join(errs...)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Leave",
			"error":    err.Error(),
		}).Warn("Engine reported errors while leaving")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Leave",
	}).Info("Left channel and stopped preview")

	return err
}

// SwitchCamera forwards a camera switch to the engine whatever the phase.
func (c *Controller) SwitchCamera() error {
	if err := c.lockOpen(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if err := c.engine.SwitchCamera(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SwitchCamera",
			"error":    err.Error(),
		}).Warn("Camera switch failed")
		return fmt.Errorf("switch camera: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "SwitchCamera",
		"phase":    c.phase.String(),
	}).Debug("Camera switch requested")

	return nil
}

// SetCredentials replaces the credentials used by the next Join. It fails
// with ErrCredentialsLocked while a call attempt is in progress. A new
// application id only takes effect before Initialize.
func (c *Controller) SetCredentials(creds Credentials) error {
	if err := c.lockOpen(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if c.phase != PhaseUninitialized && c.phase != PhaseIdle {
		return ErrCredentialsLocked
	}

	c.credsMu.Lock()
	previous := c.creds
	c.creds = creds
	c.credsMu.Unlock()

	if c.phase != PhaseUninitialized && previous.ApplicationID != creds.ApplicationID {
		logrus.WithFields(logrus.Fields{
			"function": "SetCredentials",
		}).Warn("Application id changed after initialization, engine keeps the original one")
	}

	logrus.WithFields(logrus.Fields{
		"function": "SetCredentials",
		"channel":  creds.ChannelName,
	}).Debug("Credentials updated")

	return nil
}

// Credentials returns the credentials the next Join will use.
func (c *Controller) Credentials() Credentials {
	c.credsMu.RLock()
	defer c.credsMu.RUnlock()
	return c.creds
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	snap := *c.current.Load()
	snap.RemoteParticipants = append([]ParticipantID(nil), snap.RemoteParticipants...)
	return snap
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	return c.current.Load().Phase
}

// Subscribe returns a channel that receives a snapshot after every state
// change. A slow subscriber misses intermediate snapshots rather than block
// the controller, but always receives the latest one.
// The channel is closed by cancel or by Close.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	c.listenerMu.Lock()
	if c.listeners == nil {
		c.listenerMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.listeners[ch] = struct{}{}
	c.listenerMu.Unlock()

	cancel := func() {
		c.listenerMu.Lock()
		if _, ok := c.listeners[ch]; ok {
			delete(c.listeners, ch)
			close(ch)
		}
		c.listenerMu.Unlock()
	}
	return ch, cancel
}

// Flush blocks until every engine event queued before the call has been
// applied.
func (c *Controller) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !c.enqueue(engineEvent{kind: eventBarrier, barrier: barrier}) {
		return ErrClosed
	}

	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// Close releases the engine exactly once, whatever the phase. Pending join or
// leave requests are abandoned: no command or queued engine event reaches the
// engine once Close has started. A panic raised by the engine's Release is
// recovered and returned as an error. Close is safe to call more than once.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"phase":    c.Phase().String(),
		}).Info("Releasing call session")

		c.closed.Store(true)
		close(c.done)

		c.mu.Lock()
		c.stopJoinTimerLocked()
		c.closeErr = c.release()
		c.mu.Unlock()

		<-c.loopDone
		c.closeListeners()

		logrus.WithFields(logrus.Fields{
			"function": "Close",
		}).Info("Engine released")
	})
	return c.closeErr
}

// lockOpen takes c.mu unless the controller is closed. A command that was
// waiting for the lock while Close ran must not touch the released engine.
func (c *Controller) lockOpen() error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (c *Controller) release() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine release panicked: %v", r)
			logrus.WithFields(logrus.Fields{
				"function": "Close",
				"error":    err.Error(),
			}).Error("Engine release panicked")
		}
	}()

	if releaseErr := c.engine.Release(); releaseErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"error":    releaseErr.Error(),
		}).Error("Engine release failed")
		return fmt.Errorf("release engine: %w", releaseErr)
	}
	return nil
}

func (c *Controller) closeListeners() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	for ch := range c.listeners {
		close(ch)
	}
	c.listeners = nil
}

// commitLocked stores and publishes a snapshot of the current state. It must
// be called with c.mu held so snapshots are published in mutation order.
func (c *Controller) commitLocked() {
	snap := Snapshot{
		Phase:              c.phase,
		Joined:             c.phase == PhaseJoined,
		RemoteParticipants: c.remotes.list(),
		StatusMessage:      c.status,
		Channel:            c.channel,
		AttemptID:          c.attemptID,
		JoinedAt:           c.joinedAt,
	}
	if uid, ok := c.remotes.primary(); ok {
		snap.RemoteParticipant = &uid
	}

	c.current.Store(&snap)
	c.publish(snap)
}

// publish hands snap to every subscriber. A subscriber whose buffer is full
// loses its oldest queued snapshot so the newest one is always delivered.
// It runs under c.mu, so it is the only sender on each channel.
func (c *Controller) publish(snap Snapshot) {
	c.listenerMu.RLock()
	defer c.listenerMu.RUnlock()

	for ch := range c.listeners {
		select {
		case ch <- snap:
			continue
		default:
		}

		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
