package simulation

import (
	"context"
	"sync"

	"github.com/opd-ai/rtccall/interfaces"
	"github.com/sirupsen/logrus"
)

// StaticAuthority implements interfaces.PermissionAuthority with a fixed
// deny list.
type StaticAuthority struct {
	mu       sync.Mutex
	denied   map[interfaces.Capability]bool
	err      error
	requests [][]interfaces.Capability
}

// NewStaticAuthority grants every capability except the denied ones.
func NewStaticAuthority(denied ...interfaces.Capability) *StaticAuthority {
	set := make(map[interfaces.Capability]bool, len(denied))
	for _, c := range denied {
		set[c] = true
	}
	return &StaticAuthority{denied: set}
}

// FailWith makes every request return err.
func (a *StaticAuthority) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

// RequestCapabilities implements interfaces.PermissionAuthority.
func (a *StaticAuthority) RequestCapabilities(ctx context.Context, caps []interfaces.Capability) (map[interfaces.Capability]interfaces.PermissionStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, append([]interfaces.Capability(nil), caps...))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.err != nil {
		return nil, a.err
	}

	result := make(map[interfaces.Capability]interfaces.PermissionStatus, len(caps))
	for _, c := range caps {
		if a.denied[c] {
			result[c] = interfaces.PermissionDenied
		} else {
			result[c] = interfaces.PermissionGranted
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "StaticAuthority.RequestCapabilities",
		"requested": len(caps),
		"denied":    len(a.denied),
	}).Debug("Simulated capability request")

	return result, nil
}

// Requests returns every capability list requested so far.
func (a *StaticAuthority) Requests() [][]interfaces.Capability {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([][]interfaces.Capability, len(a.requests))
	copy(out, a.requests)
	return out
}
