package session

import (
	"fmt"
	"time"

	"github.com/opd-ai/rtccall/interfaces"
)

// ParticipantID is the engine-assigned identity of a channel member.
type ParticipantID = interfaces.ParticipantID

// LocalParticipant is the id used for the local participant's surfaces.
const LocalParticipant = interfaces.LocalParticipant

// Status messages shown while not joined.
const (
	StatusLeft          = "Left the channel"
	StatusJoinTimedOut  = "Join timed out"
	joinedStatusPattern = "Joined channel: %s"
)

// DefaultMailboxSize is the number of engine events buffered before
// callbacks start blocking.
const DefaultMailboxSize = 64

// Credentials are the inputs of one call attempt.
type Credentials struct {
	ApplicationID string `json:"app_id"`
	AccessToken   string `json:"token"`
	ChannelName   string `json:"channel_name"`
}

// Phase is the controller's position in the call lifecycle.
type Phase uint32

const (
	// PhaseUninitialized is the state before Initialize.
	PhaseUninitialized Phase = iota
	// PhaseIdle means the engine is ready and no channel is joined.
	PhaseIdle
	// PhaseJoining means a join request was issued and not yet confirmed.
	PhaseJoining
	// PhaseJoined means the engine confirmed the join.
	PhaseJoined
	// PhaseLeaving is held only while a leave request is being issued.
	PhaseLeaving
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseIdle:
		return "idle"
	case PhaseJoining:
		return "joining"
	case PhaseJoined:
		return "joined"
	case PhaseLeaving:
		return "leaving"
	default:
		return fmt.Sprintf("phase(%d)", uint32(p))
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for candidate := PhaseUninitialized; candidate <= PhaseLeaving; candidate++ {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// Snapshot is a read-only copy of the session state.
type Snapshot struct {
	Phase  Phase `json:"phase"`
	Joined bool  `json:"joined"`

	// RemoteParticipant is the primary remote participant, nil when absent.
	RemoteParticipant *ParticipantID `json:"remote_participant"`

	// RemoteParticipants lists every tracked remote participant in join order.
	RemoteParticipants []ParticipantID `json:"remote_participants"`

	StatusMessage string    `json:"status_message"`
	Channel       string    `json:"channel,omitempty"`
	AttemptID     string    `json:"attempt_id,omitempty"`
	JoinedAt      time.Time `json:"joined_at"`
}

// Remote returns the primary remote participant.
func (s Snapshot) Remote() (ParticipantID, bool) {
	if s.RemoteParticipant == nil {
		return 0, false
	}
	return *s.RemoteParticipant, true
}

// Config controls a Controller.
type Config struct {
	// Credentials used by Initialize and the first Join. They can be replaced
	// with SetCredentials while no call is in progress.
	Credentials Credentials

	// MailboxSize bounds the engine event queue. Zero means DefaultMailboxSize.
	MailboxSize int

	// JoinTimeout abandons a join that is not confirmed in time. Zero
	// disables the timeout.
	JoinTimeout time.Duration

	// SingleRemoteSlot tracks one remote participant only: every join
	// overwrites it and every leave clears it.
	SingleRemoteSlot bool
}

func (c Config) mailboxSize() int {
	if c.MailboxSize <= 0 {
		return DefaultMailboxSize
	}
	return c.MailboxSize
}
