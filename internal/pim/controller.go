package pim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dantte-lp/gopimd/internal/filter"
	"github.com/dantte-lp/gopimd/internal/msdp"
	"github.com/dantte-lp/gopimd/internal/ssm"
	"github.com/dantte-lp/gopimd/internal/ssmping"
)

// Sentinel errors for lifecycle operations.
var (
	// ErrNotBound indicates the instance has no VRF binding.
	ErrNotBound = errors.New("instance not bound to a vrf")

	// ErrVRFNotOperational indicates the bound VRF is down.
	ErrVRFNotOperational = errors.New("vrf not operational")

	// ErrAlreadyActive indicates Enable on an Active instance.
	ErrAlreadyActive = errors.New("instance already active")

	// ErrNotActive indicates Disable on an instance that is not Active.
	ErrNotActive = errors.New("instance not active")

	// ErrTerminated indicates an operation on a terminated instance.
	ErrTerminated = errors.New("instance terminated")
)

// FilterSource resolves prefix lists and reports their changes.
// *filter.Registry satisfies it.
type FilterSource interface {
	ssm.FilterLookup
	Subscribe(fn filter.ChangeFunc)
}

// -------------------------------------------------------------------------
// Controller Options
// -------------------------------------------------------------------------

// Option configures a Controller.
type Option func(*Controller)

// WithSubsystems sets the protocol collaborators.
func WithSubsystems(s Subsystems) Option {
	return func(c *Controller) { c.subsystems = s }
}

// WithDataplane sets how kernel resources are acquired.
func WithDataplane(d Dataplane) Option {
	return func(c *Controller) {
		if d != nil {
			c.dataplane = d
		}
	}
}

// WithMetrics sets the metrics reporter.
func WithMetrics(m MetricsReporter) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithFilterSource connects the SSM classifiers of every instance to
// the prefix lists of fs.
func WithFilterSource(fs FilterSource) Option {
	return func(c *Controller) { c.filters = fs }
}

// WithAddressFamily selects the family of every instance.
func WithAddressFamily(afi filter.AFI) Option {
	return func(c *Controller) { c.family = afi }
}

// WithRPFCacheCapacity bounds the RPF cache of every instance.
func WithRPFCacheCapacity(n int) Option {
	return func(c *Controller) { c.rpfCacheSize = n }
}

// WithDefaultVRFName sets the instance name whose configuration is
// written without a vrf block.
func WithDefaultVRFName(name string) Option {
	return func(c *Controller) {
		if name != "" {
			c.defaultVRFName = name
		}
	}
}

// WithAutoCreate makes VRFCreated create a missing instance for the VRF.
func WithAutoCreate(enabled bool) Option {
	return func(c *Controller) { c.autoCreate = enabled }
}

// WithInstanceSocketOptions passes options to the ssmpingd sockets and
// MSDP peer sets of every instance.
func WithInstanceSocketOptions(ssmpingOpts []ssmping.Option, msdpOpts []msdp.Option) Option {
	return func(c *Controller) {
		c.ssmpingOpts = ssmpingOpts
		c.msdpOpts = msdpOpts
	}
}

// WithSocketFactory scopes the ssmpingd and MSDP sockets of every instance
// to the instance's VRF.
func WithSocketFactory(f SocketFactory) Option {
	return func(c *Controller) { c.sockets = f }
}

// -------------------------------------------------------------------------
// Controller
// -------------------------------------------------------------------------

// Controller drives instances through their lifecycle in response to VRF
// events and administrative requests.
//
// All methods must be called from the daemon's event loop.
type Controller struct {
	registry *Registry
	vrfs     map[VRFID]VRF
	vrfNames map[string]VRFID

	subsystems Subsystems
	dataplane  Dataplane
	metrics    MetricsReporter
	filters    FilterSource

	family         filter.AFI
	rpfCacheSize   int
	defaultVRFName string
	autoCreate     bool
	ssmpingOpts    []ssmping.Option
	msdpOpts       []msdp.Option
	sockets        SocketFactory

	logger *slog.Logger
}

// NewController creates a controller managing the instances of registry.
func NewController(registry *Registry, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		registry:       registry,
		vrfs:           make(map[VRFID]VRF),
		vrfNames:       make(map[string]VRFID),
		dataplane:      nopDataplane{},
		metrics:        noopMetrics{},
		family:         filter.AFIIPv4,
		defaultVRFName: DefaultVRFName,
		logger:         logger.With(slog.String("component", "pim.controller")),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.subsystems = c.subsystems.withDefaults()

	if c.filters != nil {
		c.filters.Subscribe(c.onFilterChanged)
	}
	return c
}

// Registry returns the instance registry.
func (c *Controller) Registry() *Registry { return c.registry }

// DefaultVRFName returns the name of the default instance.
func (c *Controller) DefaultVRFName() string { return c.defaultVRFName }

// VRF returns the last known state of the VRF named name.
func (c *Controller) VRF(name string) (VRF, bool) {
	id, ok := c.vrfNames[name]
	if !ok {
		return VRF{}, false
	}
	v, ok := c.vrfs[id]
	return v, ok
}

// rememberVRF records vrf, dropping the name a renamed VRF had before.
func (c *Controller) rememberVRF(vrf VRF) {
	if prev, ok := c.vrfs[vrf.ID]; ok && prev.Name != vrf.Name && c.vrfNames[prev.Name] == vrf.ID {
		delete(c.vrfNames, prev.Name)
	}
	c.vrfs[vrf.ID] = vrf
	c.vrfNames[vrf.Name] = vrf.ID
}

// forgetVRF drops the VRF id.
func (c *Controller) forgetVRF(id VRFID) {
	if prev, ok := c.vrfs[id]; ok && c.vrfNames[prev.Name] == id {
		delete(c.vrfNames, prev.Name)
	}
	delete(c.vrfs, id)
}

// socketOptions returns the options scoping the sockets of instance name
// to its VRF device.
func (c *Controller) socketOptions(name string) []InstanceOption {
	if c.sockets == nil {
		return nil
	}
	device := name
	if name == c.defaultVRFName {
		device = ""
	}
	return []InstanceOption{
		WithSSMPingOptions(ssmping.WithListenFunc(c.sockets.SSMPingListen(device))),
		WithMSDPOptions(
			msdp.WithListenFunc(c.sockets.MSDPListen(device)),
			msdp.WithDialFunc(c.sockets.MSDPDial(device)),
		),
	}
}

// -------------------------------------------------------------------------
// Administrative operations
// -------------------------------------------------------------------------

// CreateInstance creates the instance name. When a VRF of that name is
// known the instance is bound to it, and enabled if the VRF is up. An
// enable failure is returned together with the instance, left Bound.
func (c *Controller) CreateInstance(ctx context.Context, name string, opts ...InstanceOption) (*Instance, error) {
	base := []InstanceOption{
		WithFamily(c.family),
		WithRPFCacheSize(c.rpfCacheSize),
		WithLogger(c.logger),
		WithSSMPingOptions(c.ssmpingOpts...),
		WithMSDPOptions(c.msdpOpts...),
		withReevaluate(c.reevaluate),
	}
	base = append(base, c.socketOptions(name)...)
	if c.filters != nil {
		base = append(base, WithFilters(c.filters))
	}

	inst, err := c.registry.Create(name, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	c.metrics.InstanceCreated(name)
	c.logger.Info("instance created", slog.String("vrf", name))

	vrf, ok := c.VRF(name)
	if !ok {
		return inst, nil
	}
	return inst, c.attach(ctx, inst, vrf)
}

// DeleteInstance terminates the instance name.
func (c *Controller) DeleteInstance(name string) error {
	inst, ok := c.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("delete %q: %w", name, ErrInstanceNotFound)
	}
	c.terminate(inst)
	return nil
}

// Shutdown terminates every instance in name order.
func (c *Controller) Shutdown() {
	for _, inst := range c.registry.Instances() {
		c.terminate(inst)
	}
}

// -------------------------------------------------------------------------
// VRF events
// -------------------------------------------------------------------------

// VRFCreated handles a new VRF. A matching unbound instance is bound and,
// if the VRF is operational, enabled.
func (c *Controller) VRFCreated(ctx context.Context, vrf VRF) error {
	c.rememberVRF(vrf)

	inst, ok := c.registry.Lookup(vrf.Name)
	if !ok {
		if !c.autoCreate {
			return nil
		}
		_, err := c.CreateInstance(ctx, vrf.Name)
		return err
	}
	if inst.binding != nil {
		return nil
	}
	return c.attach(ctx, inst, vrf)
}

// VRFUp handles a VRF becoming operational.
func (c *Controller) VRFUp(ctx context.Context, id VRFID) error {
	vrf, ok := c.vrfs[id]
	if !ok {
		return nil
	}
	vrf.Operational = true
	c.vrfs[id] = vrf

	inst, ok := c.registry.LookupByVRF(id)
	if !ok {
		return nil
	}
	inst.binding.Operational = true
	if inst.state != StateBound {
		return nil
	}
	return c.Enable(ctx, inst)
}

// VRFDown handles a VRF ceasing to be operational.
func (c *Controller) VRFDown(id VRFID) {
	vrf, ok := c.vrfs[id]
	if !ok {
		return
	}
	vrf.Operational = false
	c.vrfs[id] = vrf

	inst, ok := c.registry.LookupByVRF(id)
	if !ok {
		return
	}
	if inst.state == StateActive {
		c.disable(inst)
	}
	inst.binding.Operational = false
}

// VRFDeleted handles VRF removal. The bound instance is disabled if
// Active and unbound.
func (c *Controller) VRFDeleted(id VRFID) {
	c.forgetVRF(id)

	inst, ok := c.registry.LookupByVRF(id)
	if !ok {
		return
	}
	if inst.state == StateActive {
		c.disable(inst)
	}
	c.registry.unbind(inst)
	c.setState(inst, StateCreated)
}

// attach binds inst to vrf and enables it when vrf is operational.
func (c *Controller) attach(ctx context.Context, inst *Instance, vrf VRF) error {
	if err := c.registry.bind(inst, vrf); err != nil {
		return err
	}
	c.setState(inst, StateBound)

	if !vrf.Operational {
		return nil
	}
	return c.Enable(ctx, inst)
}

// -------------------------------------------------------------------------
// State helpers
// -------------------------------------------------------------------------

func (c *Controller) setState(inst *Instance, to State) {
	from := inst.state
	if from == to {
		return
	}
	inst.state = to

	c.metrics.RecordTransition(inst.name, from.String(), to.String())
	c.logger.Info("instance state changed",
		slog.String("vrf", inst.name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

// reevaluate is the SSM reclassification cascade of an Active instance.
func (c *Controller) reevaluate(inst *Instance) {
	c.metrics.IncSSMReevaluations(inst.name)
	c.logger.Debug("reevaluating ssm classification", slog.String("vrf", inst.name))

	c.subsystems.Upstream.ReevaluateRegisters(inst)
	c.subsystems.Membership.ReevaluateSourceForwarding(inst)
}

// onFilterChanged fans a prefix list change out to every classifier.
func (c *Controller) onFilterChanged(afi filter.AFI, name string) {
	c.registry.Ascend(func(inst *Instance) bool {
		inst.ssm.OnFilterChanged(afi, name)
		return true
	})
}
