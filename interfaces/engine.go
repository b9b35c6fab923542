package interfaces

import (
	"context"
	"fmt"
)

// ParticipantID is an opaque identifier assigned by the engine to a channel
// member.
type ParticipantID uint32

// LocalParticipant is the reserved id meaning "the local participant". Passing
// it to JoinChannel lets the engine assign the local identity.
const LocalParticipant ParticipantID = 0

// ClientRole is the role of the local participant in a channel.
type ClientRole int

const (
	// ClientRoleBroadcaster both sends and receives media.
	ClientRoleBroadcaster ClientRole = 1
	// ClientRoleAudience only receives media.
	ClientRoleAudience ClientRole = 2
)

// String returns a readable role name.
func (r ClientRole) String() string {
	switch r {
	case ClientRoleBroadcaster:
		return "broadcaster"
	case ClientRoleAudience:
		return "audience"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ChannelProfile selects the engine's quality-of-service tuning for a channel.
type ChannelProfile int

const (
	// ChannelProfileCommunication tunes the engine for small interactive calls.
	ChannelProfileCommunication ChannelProfile = 0
	// ChannelProfileLiveBroadcasting tunes the engine for one-to-many streams.
	ChannelProfileLiveBroadcasting ChannelProfile = 1
)

// String returns a readable profile name.
func (p ChannelProfile) String() string {
	switch p {
	case ChannelProfileCommunication:
		return "communication"
	case ChannelProfileLiveBroadcasting:
		return "live_broadcasting"
	default:
		return fmt.Sprintf("profile(%d)", int(p))
	}
}

// ChannelMediaOptions are passed with a join request.
type ChannelMediaOptions struct {
	ChannelProfile ChannelProfile
	ClientRole     ClientRole
}

// Connection identifies the channel membership an event refers to.
type Connection struct {
	ChannelName string
	LocalUID    ParticipantID
}

// OfflineReason explains why a remote participant left.
type OfflineReason int

const (
	// OfflineReasonQuit means the remote participant left on purpose.
	OfflineReasonQuit OfflineReason = iota
	// OfflineReasonDropped means the engine lost the remote participant.
	OfflineReasonDropped
	// OfflineReasonBecomeAudience means the remote participant stopped broadcasting.
	OfflineReasonBecomeAudience
)

// String returns a readable reason.
func (r OfflineReason) String() string {
	switch r {
	case OfflineReasonQuit:
		return "quit"
	case OfflineReasonDropped:
		return "dropped"
	case OfflineReasonBecomeAudience:
		return "become_audience"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// ErrorCode is an engine-defined error number delivered through OnError.
type ErrorCode int

// Engine error codes the controller knows how to name. Any other value is
// passed through untouched.
const (
	ErrorCodeOK                ErrorCode = 0
	ErrorCodeFailed            ErrorCode = 1
	ErrorCodeInvalidArgument   ErrorCode = 2
	ErrorCodeNotReady          ErrorCode = 3
	ErrorCodeNotInitialized    ErrorCode = 7
	ErrorCodeJoinChannelReject ErrorCode = 17
	ErrorCodeInvalidAppID      ErrorCode = 101
	ErrorCodeInvalidChannel    ErrorCode = 102
	ErrorCodeTokenExpired      ErrorCode = 109
	ErrorCodeInvalidToken      ErrorCode = 110
)

// String returns a readable error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeOK:
		return "ok"
	case ErrorCodeFailed:
		return "failed"
	case ErrorCodeInvalidArgument:
		return "invalid_argument"
	case ErrorCodeNotReady:
		return "not_ready"
	case ErrorCodeNotInitialized:
		return "not_initialized"
	case ErrorCodeJoinChannelReject:
		return "join_channel_rejected"
	case ErrorCodeInvalidAppID:
		return "invalid_app_id"
	case ErrorCodeInvalidChannel:
		return "invalid_channel_name"
	case ErrorCodeTokenExpired:
		return "token_expired"
	case ErrorCodeInvalidToken:
		return "invalid_token"
	default:
		return fmt.Sprintf("error(%d)", int(c))
	}
}

// Engine is the capability set required of any real-time media engine.
//
// All methods except Initialize are fire-and-forget: a nil error only means
// the request was accepted. Results are reported through EventHandler.
type Engine interface {
	// Initialize acquires the engine for the given application id.
	Initialize(ctx context.Context, appID string) error

	// RegisterEventHandler installs the sink for engine callbacks.
	RegisterEventHandler(handler EventHandler) error

	// EnableAudio turns on the audio capture subsystem.
	EnableAudio() error

	// EnableVideo turns on the video capture subsystem.
	EnableVideo() error

	// SetClientRole declares the local participant's role.
	SetClientRole(role ClientRole) error

	// StartPreview starts local video capture and preview.
	StartPreview() error

	// StopPreview stops local video preview.
	StopPreview() error

	// SwitchCamera toggles between front and back cameras.
	SwitchCamera() error

	// JoinChannel requests membership of a channel.
	JoinChannel(token, channelName string, uid ParticipantID, options ChannelMediaOptions) error

	// LeaveChannel requests leaving the current channel.
	LeaveChannel() error

	// Release tears the engine down. It must be safe to call more than once.
	Release() error
}

// EventHandler receives engine callbacks.
type EventHandler interface {
	// OnJoinChannelSuccess reports that the local participant joined.
	OnJoinChannelSuccess(conn Connection)

	// OnUserJoined reports a remote participant joining.
	OnUserJoined(conn Connection, uid ParticipantID)

	// OnUserOffline reports a remote participant leaving.
	OnUserOffline(conn Connection, uid ParticipantID, reason OfflineReason)

	// OnLeaveChannel reports that the local participant left.
	OnLeaveChannel(conn Connection)

	// OnError reports an engine runtime error.
	OnError(code ErrorCode, message string)
}
