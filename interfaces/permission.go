package interfaces

import "context"

// Capability is a runtime permission a call needs from the host platform.
type Capability string

const (
	// CapabilityMicrophone grants audio capture.
	CapabilityMicrophone Capability = "microphone"
	// CapabilityCamera grants video capture.
	CapabilityCamera Capability = "camera"
)

// CallCapabilities is the set requested before the engine is initialized.
var CallCapabilities = []Capability{CapabilityMicrophone, CapabilityCamera}

// PermissionStatus is the outcome of a capability request.
type PermissionStatus int

const (
	// PermissionDenied means the capability was refused.
	PermissionDenied PermissionStatus = iota
	// PermissionGranted means the capability was granted.
	PermissionGranted
)

// String returns "granted" or "denied".
func (s PermissionStatus) String() string {
	if s == PermissionGranted {
		return "granted"
	}
	return "denied"
}

// PermissionAuthority asks the platform for runtime capabilities.
type PermissionAuthority interface {
	// RequestCapabilities returns a status for every requested capability.
	// A capability missing from the result is treated as denied.
	RequestCapabilities(ctx context.Context, caps []Capability) (map[Capability]PermissionStatus, error)
}
