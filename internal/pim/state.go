package pim

// -------------------------------------------------------------------------
// Instance State
// -------------------------------------------------------------------------

// State is the lifecycle state of an Instance.
type State uint8

const (
	// StateCreated means the instance has no VRF binding.
	StateCreated State = iota

	// StateBound means the instance is bound to a VRF that is not
	// operational, or whose enable failed.
	StateBound

	// StateActive means the bound VRF is operational and all instance
	// resources are allocated.
	StateActive

	// StateTerminated means the instance was destroyed and removed from
	// the registry.
	StateTerminated
)

// String returns the display name of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateBound:
		return "Bound"
	case StateActive:
		return "Active"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// -------------------------------------------------------------------------
// VRF
// -------------------------------------------------------------------------

// VRFID identifies a VRF. For VRF devices it is the device ifindex.
type VRFID uint32

const (
	// DefaultVRFID identifies the default VRF.
	DefaultVRFID VRFID = 0

	// DefaultVRFName is the name of the default VRF and its instance.
	DefaultVRFName = "default"

	// MaxNameLen bounds instance and VRF names.
	MaxNameLen = 36
)

// VRF is a routing context as reported by the VRF subsystem.
type VRF struct {
	ID   VRFID
	Name string

	// Table is the kernel routing table of the VRF.
	Table uint32

	// Operational is true while the VRF device is administratively and
	// operationally up.
	Operational bool
}

// IsDefault reports whether v is the default VRF.
func (v VRF) IsDefault() bool { return v.ID == DefaultVRFID }
