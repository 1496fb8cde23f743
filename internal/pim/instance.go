package pim

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"slices"
	"time"

	"github.com/dantte-lp/gopimd/internal/filter"
	"github.com/dantte-lp/gopimd/internal/msdp"
	"github.com/dantte-lp/gopimd/internal/rpf"
	"github.com/dantte-lp/gopimd/internal/ssm"
	"github.com/dantte-lp/gopimd/internal/ssmping"
)

// defaultRPFCacheSize bounds the RPF cache when no size is configured.
const defaultRPFCacheSize = 4096

// -------------------------------------------------------------------------
// Instance Options
// -------------------------------------------------------------------------

// InstanceOption configures an Instance at creation.
type InstanceOption func(*instanceOptions)

type instanceOptions struct {
	family       filter.AFI
	filters      ssm.FilterLookup
	rpfCacheSize int
	settings     Settings
	logger       *slog.Logger
	ssmpingOpts  []ssmping.Option
	msdpOpts     []msdp.Option
	onReevaluate func(*Instance)
}

func defaultInstanceOptions() instanceOptions {
	return instanceOptions{
		family:       filter.AFIIPv4,
		rpfCacheSize: defaultRPFCacheSize,
		settings:     DefaultSettings(),
		logger:       slog.Default(),
	}
}

// WithFamily selects the address family the instance routes.
func WithFamily(afi filter.AFI) InstanceOption {
	return func(o *instanceOptions) { o.family = afi }
}

// WithFilters sets the prefix lists the SSM classifier resolves names in.
func WithFilters(f ssm.FilterLookup) InstanceOption {
	return func(o *instanceOptions) { o.filters = f }
}

// WithRPFCacheSize bounds the RPF cache.
func WithRPFCacheSize(n int) InstanceOption {
	return func(o *instanceOptions) {
		if n > 0 {
			o.rpfCacheSize = n
		}
	}
}

// WithSettings replaces the default settings.
func WithSettings(s Settings) InstanceOption {
	return func(o *instanceOptions) { o.settings = s }
}

// WithLogger sets the parent logger of the instance.
func WithLogger(l *slog.Logger) InstanceOption {
	return func(o *instanceOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSSMPingOptions passes options to every ssmpingd socket.
func WithSSMPingOptions(opts ...ssmping.Option) InstanceOption {
	return func(o *instanceOptions) { o.ssmpingOpts = append(o.ssmpingOpts, opts...) }
}

// WithMSDPOptions passes options to the MSDP peer set.
func WithMSDPOptions(opts ...msdp.Option) InstanceOption {
	return func(o *instanceOptions) { o.msdpOpts = append(o.msdpOpts, opts...) }
}

// withReevaluate sets the cascade run when SSM classification may have
// changed on an Active instance.
func withReevaluate(fn func(*Instance)) InstanceOption {
	return func(o *instanceOptions) { o.onReevaluate = fn }
}

// -------------------------------------------------------------------------
// Instance
// -------------------------------------------------------------------------

// Instance is the PIM routing instance of one VRF.
type Instance struct {
	name    string
	family  filter.AFI
	state   State
	binding *VRF
	created time.Time

	settings Settings

	rpf     *rpf.NexthopCache
	ssm     *ssm.Classifier
	ssmping *ssmping.Set
	msdp    *msdp.Set
	static  StaticRoutes

	// Resources held while Active.
	regSock io.Closer
	mroute  MrouteSocket
	ifaces  []Interface

	onReevaluate func(*Instance)
	logger       *slog.Logger
}

func newInstance(name string, opts ...InstanceOption) (*Instance, error) {
	o := defaultInstanceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.settings.Validate(); err != nil {
		return nil, fmt.Errorf("instance %s: %w", name, err)
	}

	cache, err := rpf.NewNexthopCache(name, o.rpfCacheSize)
	if err != nil {
		return nil, fmt.Errorf("instance %s: %w", name, err)
	}

	logger := o.logger.With(
		slog.String("component", "pim.instance"),
		slog.String("vrf", name),
	)

	inst := &Instance{
		name:         name,
		family:       o.family,
		state:        StateCreated,
		created:      time.Now(),
		settings:     o.settings,
		rpf:          cache,
		ssmping:      ssmping.NewSet(logger, o.ssmpingOpts...),
		msdp:         msdp.NewSet(o.settings.MSDP, logger, o.msdpOpts...),
		onReevaluate: o.onReevaluate,
		logger:       logger,
	}
	inst.ssm = ssm.NewClassifier(o.family, o.filters, inst)
	return inst, nil
}

// Name returns the instance name, which equals its VRF name.
func (i *Instance) Name() string { return i.name }

// Family returns the address family the instance routes.
func (i *Instance) Family() filter.AFI { return i.family }

// State returns the lifecycle state.
func (i *Instance) State() State { return i.state }

// Created returns when the instance was created.
func (i *Instance) Created() time.Time { return i.created }

// Binding returns the VRF the instance is bound to.
func (i *Instance) Binding() (VRF, bool) {
	if i.binding == nil {
		return VRF{}, false
	}
	return *i.binding, true
}

// Settings returns the administrative parameters.
func (i *Instance) Settings() Settings { return i.settings }

// SetSettings validates and applies s. New MSDP timers apply to sessions
// established afterwards.
func (i *Instance) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("instance %s: %w", i.name, err)
	}
	i.settings = s
	i.msdp.SetTimers(s.MSDP)
	return nil
}

// RPF returns the RPF cache.
func (i *Instance) RPF() *rpf.NexthopCache { return i.rpf }

// SSM returns the SSM classifier.
func (i *Instance) SSM() *ssm.Classifier { return i.ssm }

// SSMPing returns the ssmpingd sockets.
func (i *Instance) SSMPing() *ssmping.Set { return i.ssmping }

// MSDP returns the MSDP peers.
func (i *Instance) MSDP() *msdp.Set { return i.msdp }

// StaticRoutes returns the static multicast routes.
func (i *Instance) StaticRoutes() *StaticRoutes { return &i.static }

// MrouteSocket returns the multicast routing socket while Active.
func (i *Instance) MrouteSocket() (MrouteSocket, bool) {
	return i.mroute, i.mroute != nil
}

// Interfaces returns the interfaces protocol processing was started on.
func (i *Instance) Interfaces() []Interface { return slices.Clone(i.ifaces) }

// Active reports whether the instance is Active.
func (i *Instance) Active() bool { return i.state == StateActive }

// Reevaluate runs the reevaluation cascade when the instance is Active.
func (i *Instance) Reevaluate() {
	if i.state != StateActive || i.onReevaluate == nil {
		return
	}
	i.onReevaluate(i)
}

// AddSSMPing configures an ssmpingd source. The socket starts at once when
// the instance is Active.
func (i *Instance) AddSSMPing(ctx context.Context, source netip.Addr) error {
	sock, err := i.ssmping.Add(source)
	if err != nil {
		return err
	}
	if i.Active() {
		return sock.Start(ctx)
	}
	return nil
}

// AddMSDPPeer configures an MSDP peering. The session starts at once when
// the instance is Active.
func (i *Instance) AddMSDPPeer(ctx context.Context, peer, source netip.Addr) error {
	_, err := i.msdp.AddPeer(ctx, peer, source)
	return err
}

// Logger returns the instance logger.
func (i *Instance) Logger() *slog.Logger { return i.logger }
