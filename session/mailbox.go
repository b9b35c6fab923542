package session

import (
	"errors"
	"fmt"

	"github.com/opd-ai/rtccall/interfaces"
	"github.com/sirupsen/logrus"
)

// eventKind identifies a mailbox record.
type eventKind int

const (
	eventJoinSucceeded eventKind = iota
	eventRemoteJoined
	eventRemoteLeft
	eventLeftChannel
	eventEngineError
	eventJoinTimeout
	eventBarrier
)

func (k eventKind) String() string {
	switch k {
	case eventJoinSucceeded:
		return "join_succeeded"
	case eventRemoteJoined:
		return "remote_joined"
	case eventRemoteLeft:
		return "remote_left"
	case eventLeftChannel:
		return "left_channel"
	case eventEngineError:
		return "engine_error"
	case eventJoinTimeout:
		return "join_timeout"
	case eventBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// engineEvent is one record in the controller mailbox.
type engineEvent struct {
	kind    eventKind
	conn    interfaces.Connection
	uid     ParticipantID
	reason  interfaces.OfflineReason
	err     error
	attempt uint64
	barrier chan struct{}
}

// eventSink adapts engine callbacks into mailbox records. It is the only
// EventHandler the controller registers with the engine.
type eventSink struct {
	c *Controller
}

func (s eventSink) OnJoinChannelSuccess(conn interfaces.Connection) {
	s.c.enqueue(engineEvent{kind: eventJoinSucceeded, conn: conn})
}

func (s eventSink) OnUserJoined(conn interfaces.Connection, uid ParticipantID) {
	s.c.enqueue(engineEvent{kind: eventRemoteJoined, conn: conn, uid: uid})
}

func (s eventSink) OnUserOffline(conn interfaces.Connection, uid ParticipantID, reason interfaces.OfflineReason) {
	s.c.enqueue(engineEvent{kind: eventRemoteLeft, conn: conn, uid: uid, reason: reason})
}

func (s eventSink) OnLeaveChannel(conn interfaces.Connection) {
	s.c.enqueue(engineEvent{kind: eventLeftChannel, conn: conn})
}

func (s eventSink) OnError(code interfaces.ErrorCode, message string) {
	s.c.enqueue(engineEvent{kind: eventEngineError, err: &EngineError{Code: code, Message: message}})
}

// enqueue hands an event to the mailbox loop. It blocks while the mailbox is
// full and drops the event once the controller is closed.
func (c *Controller) enqueue(ev engineEvent) bool {
	select {
	case <-c.done:
		logrus.WithFields(logrus.Fields{
			"function": "enqueue",
			"event":    ev.kind.String(),
		}).Debug("Dropping engine event after close")
		return false
	default:
	}

	select {
	case c.events <- ev:
		return true
	case <-c.done:
		logrus.WithFields(logrus.Fields{
			"function": "enqueue",
			"event":    ev.kind.String(),
		}).Debug("Dropping engine event after close")
		return false
	}
}

// run is the single consumer of the mailbox.
func (c *Controller) run() {
	defer close(c.loopDone)

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.events:
			c.dispatch(ev)
		}
	}
}

func (c *Controller) dispatch(ev engineEvent) {
	if ev.kind == eventBarrier {
		close(ev.barrier)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "dispatch",
		"event":    ev.kind.String(),
		"uid":      ev.uid,
	}).Trace("Applying engine event")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"event":    ev.kind.String(),
		}).Debug("Dropping engine event after close")
		return
	}

	changed := false
	switch ev.kind {
	case eventJoinSucceeded:
		changed = c.onJoinSucceeded(ev.conn)
	case eventRemoteJoined:
		changed = c.onRemoteJoined(ev.uid)
	case eventRemoteLeft:
		changed = c.onRemoteLeft(ev.uid, ev.reason)
	case eventLeftChannel:
		changed = c.onLeftChannel()
	case eventEngineError:
		c.onEngineError(ev.err)
	case eventJoinTimeout:
		changed = c.onJoinTimeout(ev.attempt)
	}

	if changed {
		c.commitLocked()
	}
}

// onJoinSucceeded must be called with c.mu held.
func (c *Controller) onJoinSucceeded(conn interfaces.Connection) bool {
	if c.phase != PhaseJoining && c.phase != PhaseJoined {
		logrus.WithFields(logrus.Fields{
			"function":  "onJoinSucceeded",
			"phase":     c.phase.String(),
			"local_uid": conn.LocalUID,
		}).Warn("Ignoring join confirmation outside of a join attempt")
		return false
	}

	channel := conn.ChannelName
	if channel == "" {
		channel = c.channel
	}

	c.stopJoinTimerLocked()
	if c.phase == PhaseJoining {
		c.joinedAt = c.timeProvider.Now()
	}
	c.phase = PhaseJoined
	c.channel = channel
	c.status = fmt.Sprintf(joinedStatusPattern, channel)

	logrus.WithFields(logrus.Fields{
		"function":   "onJoinSucceeded",
		"local_uid":  conn.LocalUID,
		"channel":    channel,
		"attempt_id": c.attemptID,
	}).Info("Joined channel successfully")

	return true
}

// onRemoteJoined must be called with c.mu held.
func (c *Controller) onRemoteJoined(uid ParticipantID) bool {
	if c.phase != PhaseJoined {
		logrus.WithFields(logrus.Fields{
			"function": "onRemoteJoined",
			"uid":      uid,
			"phase":    c.phase.String(),
		}).Warn("Ignoring remote participant while not joined")
		return false
	}

	if uid == LocalParticipant {
		logrus.WithFields(logrus.Fields{
			"function": "onRemoteJoined",
			"uid":      uid,
		}).Warn("Ignoring remote participant with the local participant id")
		return false
	}

	c.remotes.add(uid)

	logrus.WithFields(logrus.Fields{
		"function":     "onRemoteJoined",
		"uid":          uid,
		"remote_count": c.remotes.len(),
	}).Info("Remote participant joined")

	return true
}

// onRemoteLeft must be called with c.mu held.
func (c *Controller) onRemoteLeft(uid ParticipantID, reason interfaces.OfflineReason) bool {
	changed := c.remotes.remove(uid)

	logrus.WithFields(logrus.Fields{
		"function":     "onRemoteLeft",
		"uid":          uid,
		"reason":       reason.String(),
		"tracked":      changed,
		"remote_count": c.remotes.len(),
	}).Info("Remote participant offline")

	return changed
}

// onLeftChannel must be called with c.mu held. It never flips the joined
// flag; only Leave does.
func (c *Controller) onLeftChannel() bool {
	changed := c.remotes.clear()

	logrus.WithFields(logrus.Fields{
		"function": "onLeftChannel",
		"phase":    c.phase.String(),
		"cleared":  changed,
	}).Info("Engine reported channel left")

	return changed
}

func (c *Controller) onEngineError(err error) {
	fields := logrus.Fields{
		"function": "onEngineError",
		"error":    err.Error(),
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		fields["code"] = int(engineErr.Code)
		fields["code_name"] = engineErr.Code.String()
	}

	logrus.WithFields(fields).Error("Engine error")
}

// onJoinTimeout must be called with c.mu held.
func (c *Controller) onJoinTimeout(attempt uint64) bool {
	if c.phase != PhaseJoining || attempt != c.attempt {
		return false
	}

	logrus.WithFields(logrus.Fields{
		"function":   "onJoinTimeout",
		"attempt_id": c.attemptID,
		"timeout":    c.config.JoinTimeout,
	}).Warn("Join was not confirmed in time, abandoning attempt")

	c.stopJoinTimerLocked()
	if err := c.engine.LeaveChannel(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "onJoinTimeout",
			"error":    err.Error(),
		}).Warn("Failed to leave channel after join timeout")
	}
	if err := c.engine.StopPreview(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "onJoinTimeout",
			"error":    err.Error(),
		}).Warn("Failed to stop preview after join timeout")
	}

	c.phase = PhaseIdle
	c.remotes.clear()
	c.status = StatusJoinTimedOut
	return true
}
