package netio

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/vishvananda/netlink"

	"github.com/dantte-lp/gopimd/internal/pim"
)

// -------------------------------------------------------------------------
// VRF Monitor — VRF device lifecycle detection
// -------------------------------------------------------------------------

// VRFEventKind classifies a VRF event.
type VRFEventKind uint8

const (
	// VRFAdded reports a new VRF. VRF.Operational carries its state.
	VRFAdded VRFEventKind = iota + 1

	// VRFUp reports a VRF becoming operational.
	VRFUp

	// VRFDown reports a VRF ceasing to be operational.
	VRFDown

	// VRFRemoved reports a deleted VRF.
	VRFRemoved
)

// String returns the event kind name.
func (k VRFEventKind) String() string {
	switch k {
	case VRFAdded:
		return "added"
	case VRFUp:
		return "up"
	case VRFDown:
		return "down"
	case VRFRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ErrSubscriptionClosed indicates the kernel ended the link subscription.
var ErrSubscriptionClosed = errors.New("link subscription closed")

// VRFEvent is a VRF lifecycle change.
type VRFEvent struct {
	Kind VRFEventKind
	VRF  pim.VRF
}

// VRFMonitor watches VRF devices and emits lifecycle events.
//
// Usage:
//
//	mon := netio.NewVRFMonitor("default", logger)
//	go func() {
//	    for ev := range mon.Events() {
//	        handleVRFEvent(ev)
//	    }
//	}()
//	mon.Run(ctx) // blocks until ctx is cancelled
type VRFMonitor interface {
	// Run starts monitoring. It blocks until ctx is cancelled. The default
	// VRF is always reported first as added and operational. Run must be
	// called at most once.
	Run(ctx context.Context) error

	// Events returns the event channel. It is closed when Run returns.
	Events() <-chan VRFEvent

	// Close releases any resources held by the monitor.
	Close() error
}

// defaultVRF describes the default VRF.
func defaultVRF(name string) pim.VRF {
	return pim.VRF{
		ID:          pim.DefaultVRFID,
		Name:        name,
		Table:       rtTableMain,
		Operational: true,
	}
}

// -------------------------------------------------------------------------
// vrfTracker — link updates to VRF events
// -------------------------------------------------------------------------

// vrfTracker turns netlink link updates into VRF events, suppressing
// updates that do not change VRF state.
type vrfTracker struct {
	known map[pim.VRFID]pim.VRF
}

func newVRFTracker() *vrfTracker {
	return &vrfTracker{known: make(map[pim.VRFID]pim.VRF)}
}

// update handles one link update. Non-VRF links produce no events.
func (t *vrfTracker) update(link netlink.Link, deleted bool) []VRFEvent {
	dev, ok := link.(*netlink.Vrf)
	if !ok {
		return nil
	}

	attrs := dev.Attrs()
	vrf := pim.VRF{
		ID:          pim.VRFID(attrs.Index),
		Name:        attrs.Name,
		Table:       dev.Table,
		Operational: attrs.Flags&net.FlagUp != 0,
	}

	prev, seen := t.known[vrf.ID]
	switch {
	case deleted:
		if !seen {
			return nil
		}
		delete(t.known, vrf.ID)
		return []VRFEvent{{Kind: VRFRemoved, VRF: prev}}

	case !seen:
		t.known[vrf.ID] = vrf
		return []VRFEvent{{Kind: VRFAdded, VRF: vrf}}

	case prev.Name != vrf.Name:
		// A renamed VRF belongs to a different instance.
		t.known[vrf.ID] = vrf
		return []VRFEvent{{Kind: VRFRemoved, VRF: prev}, {Kind: VRFAdded, VRF: vrf}}

	case prev.Operational != vrf.Operational:
		t.known[vrf.ID] = vrf
		kind := VRFDown
		if vrf.Operational {
			kind = VRFUp
		}
		return []VRFEvent{{Kind: kind, VRF: vrf}}

	default:
		t.known[vrf.ID] = vrf
		return nil
	}
}

// -------------------------------------------------------------------------
// StubVRFMonitor — default VRF only
// -------------------------------------------------------------------------

// StubVRFMonitor reports only the default VRF. It is used where netlink is
// unavailable.
type StubVRFMonitor struct {
	defaultName string
	events      chan VRFEvent
	logger      *slog.Logger
}

// NewStubVRFMonitor creates a monitor that only reports the default VRF.
func NewStubVRFMonitor(defaultName string, logger *slog.Logger) *StubVRFMonitor {
	return &StubVRFMonitor{
		defaultName: defaultName,
		events:      make(chan VRFEvent, 1),
		logger:      logger.With(slog.String("component", "vrfmon.stub")),
	}
}

// Run reports the default VRF and waits for ctx to be cancelled.
func (m *StubVRFMonitor) Run(ctx context.Context) error {
	defer close(m.events)

	m.logger.Info("stub vrf monitor started")
	select {
	case m.events <- VRFEvent{Kind: VRFAdded, VRF: defaultVRF(m.defaultName)}:
	case <-ctx.Done():
		return nil
	}
	<-ctx.Done()
	m.logger.Info("stub vrf monitor stopped")
	return nil
}

// Events returns the event channel.
func (m *StubVRFMonitor) Events() <-chan VRFEvent { return m.events }

// Close is a no-op for the stub monitor.
func (m *StubVRFMonitor) Close() error { return nil }
