package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opd-ai/rtccall/interfaces"
)

// Sentinel errors for session operations.
// These errors enable reliable error classification using errors.Is().

// Construction and lifecycle errors.
var (
	// ErrNilEngine indicates a controller was created without an engine.
	ErrNilEngine = errors.New("engine cannot be nil")

	// ErrNotInitialized indicates a command was issued before Initialize.
	ErrNotInitialized = errors.New("controller is not initialized")

	// ErrAlreadyInitialized indicates Initialize was called twice.
	ErrAlreadyInitialized = errors.New("controller is already initialized")

	// ErrClosed indicates the controller has been closed.
	ErrClosed = errors.New("controller is closed")

	// ErrCredentialsLocked indicates credentials were edited during a call attempt.
	ErrCredentialsLocked = errors.New("credentials cannot change while a call is in progress")
)

// Failure taxonomy. None of these are recovered locally.
var (
	// ErrPermissionDenied indicates the platform refused a capability.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrEngineInit indicates the engine could not be acquired.
	ErrEngineInit = errors.New("engine initialization failed")

	// ErrEngineRuntime indicates the engine reported an error event.
	ErrEngineRuntime = errors.New("engine runtime error")
)

// PermissionError lists the capabilities the platform refused.
type PermissionError struct {
	Denied []interfaces.Capability
}

func (e *PermissionError) Error() string {
	names := make([]string, len(e.Denied))
	for i, c := range e.Denied {
		names[i] = string(c)
	}
	return fmt.Sprintf("permission denied: %s", strings.Join(names, ", "))
}

// Unwrap returns ErrPermissionDenied.
func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}

// EngineError is an error event pushed by the engine.
type EngineError struct {
	Code    interfaces.ErrorCode
	Message string
}

func (e *EngineError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("engine error %d (%s)", int(e.Code), e.Code)
	}
	return fmt.Sprintf("engine error %d (%s): %s", int(e.Code), e.Code, e.Message)
}

// Unwrap returns ErrEngineRuntime.
func (e *EngineError) Unwrap() error {
	return ErrEngineRuntime
}
