package pim

import (
	"context"
	"io"

	"github.com/dantte-lp/gopimd/internal/msdp"
	"github.com/dantte-lp/gopimd/internal/ssmping"
)

// -------------------------------------------------------------------------
// Protocol subsystems
// -------------------------------------------------------------------------

// Bootstrap is the bootstrap router (BSM) subsystem.
type Bootstrap interface {
	// Init prepares BSM processing for an instance being enabled.
	Init(inst *Instance)

	// Terminate tears down BSM processing of an instance being disabled.
	Terminate(inst *Instance)
}

// Upstream is the upstream join/prune subsystem.
type Upstream interface {
	Init(inst *Instance)
	Terminate(inst *Instance)

	// ReevaluateRegisters rechecks register state of every established
	// any-source flow of inst.
	ReevaluateRegisters(inst *Instance)
}

// Membership is the IGMP/MLD group membership subsystem.
type Membership interface {
	// ReevaluateSourceForwarding rechecks source-forwarding state of the
	// groups joined on inst.
	ReevaluateSourceForwarding(inst *Instance)
}

// InterfaceProtocol runs PIM on the interfaces of an instance.
type InterfaceProtocol interface {
	// Start begins protocol processing on ifc.
	Start(inst *Instance, ifc Interface) error

	// Stop ends protocol processing on ifc.
	Stop(inst *Instance, ifc Interface)

	// Terminate releases all per-interface state of inst.
	Terminate(inst *Instance)
}

// Releaser releases the state an auxiliary subsystem holds for an
// instance when the instance is terminated.
type Releaser interface {
	Release(inst *Instance)
}

// ReleaserFunc adapts a function to Releaser.
type ReleaserFunc func(inst *Instance)

// Release calls f(inst).
func (f ReleaserFunc) Release(inst *Instance) { f(inst) }

// Subsystems groups the protocol collaborators of a Controller. Nil
// members are replaced with no-op implementations.
type Subsystems struct {
	Bootstrap  Bootstrap
	Upstream   Upstream
	Membership Membership
	Interfaces InterfaceProtocol

	// Terminate-time releasers, called in this order.
	BootstrapMLAG Releaser
	OIL           Releaser
	RP            Releaser
	VXLAN         Releaser
	MSDP          Releaser
}

func (s Subsystems) withDefaults() Subsystems {
	var nop nopSubsystem
	if s.Bootstrap == nil {
		s.Bootstrap = nop
	}
	if s.Upstream == nil {
		s.Upstream = nop
	}
	if s.Membership == nil {
		s.Membership = nop
	}
	if s.Interfaces == nil {
		s.Interfaces = nop
	}
	for _, r := range []*Releaser{&s.BootstrapMLAG, &s.OIL, &s.RP, &s.VXLAN, &s.MSDP} {
		if *r == nil {
			*r = nop
		}
	}
	return s
}

// nopSubsystem implements every subsystem interface as a no-op.
type nopSubsystem struct{}

func (nopSubsystem) Init(*Instance)                       {}
func (nopSubsystem) Terminate(*Instance)                  {}
func (nopSubsystem) ReevaluateRegisters(*Instance)        {}
func (nopSubsystem) ReevaluateSourceForwarding(*Instance) {}
func (nopSubsystem) Start(*Instance, Interface) error     { return nil }
func (nopSubsystem) Stop(*Instance, Interface)            {}
func (nopSubsystem) Release(*Instance)                    {}

// -------------------------------------------------------------------------
// Dataplane
// -------------------------------------------------------------------------

// Interface is a network interface enslaved to a VRF.
type Interface struct {
	Name  string
	Index int

	// Up is true when the interface is up and running.
	Up bool
}

// MrouteSocket is the kernel multicast routing socket of an instance.
type MrouteSocket interface {
	// AddRegisterVIF creates the PIM register virtual interface.
	AddRegisterVIF() error

	// DelRegisterVIF deletes the PIM register virtual interface.
	DelRegisterVIF() error

	// Close disables multicast routing for the instance table and closes
	// the socket.
	Close() error
}

// Dataplane acquires the kernel resources of an instance.
type Dataplane interface {
	// OpenRegisterSocket opens the socket that carries PIM register
	// traffic in vrf.
	OpenRegisterSocket(ctx context.Context, vrf VRF) (io.Closer, error)

	// OpenMrouteSocket enables kernel multicast routing for vrf.
	OpenMrouteSocket(ctx context.Context, vrf VRF) (MrouteSocket, error)

	// Interfaces lists the interfaces enslaved to vrf.
	Interfaces(vrf VRF) ([]Interface, error)
}

// nopDataplane acquires nothing. It backs controllers that run without
// kernel access.
type nopDataplane struct{}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type nopMroute struct{}

func (nopMroute) AddRegisterVIF() error { return nil }
func (nopMroute) DelRegisterVIF() error { return nil }
func (nopMroute) Close() error          { return nil }

func (nopDataplane) OpenRegisterSocket(context.Context, VRF) (io.Closer, error) {
	return nopCloser{}, nil
}

func (nopDataplane) OpenMrouteSocket(context.Context, VRF) (MrouteSocket, error) {
	return nopMroute{}, nil
}

func (nopDataplane) Interfaces(VRF) ([]Interface, error) { return nil, nil }

// SocketFactory opens the ssmpingd and MSDP sockets of an instance inside
// its VRF. device is the VRF device name, empty for the default VRF.
type SocketFactory interface {
	SSMPingListen(device string) ssmping.ListenFunc
	MSDPListen(device string) msdp.ListenFunc
	MSDPDial(device string) msdp.DialFunc
}

// -------------------------------------------------------------------------
// Metrics
// -------------------------------------------------------------------------

// MetricsReporter receives instance lifecycle events.
// The internal/metrics Collector satisfies it.
type MetricsReporter interface {
	// InstanceCreated records a new instance in StateCreated.
	InstanceCreated(vrf string)

	// RecordTransition records a state change of an instance.
	RecordTransition(vrf, from, to string)

	// IncEnableFailures records a failed Enable.
	IncEnableFailures(vrf string)

	// IncSSMReevaluations records a reevaluation cascade.
	IncSSMReevaluations(vrf string)

	// AddRPFReleased records RPF cache entries released at terminate.
	AddRPFReleased(vrf string, n int)
}

type noopMetrics struct{}

func (noopMetrics) InstanceCreated(string)                  {}
func (noopMetrics) RecordTransition(string, string, string) {}
func (noopMetrics) IncEnableFailures(string)                {}
func (noopMetrics) IncSSMReevaluations(string)              {}
func (noopMetrics) AddRPFReleased(string, int)              {}
