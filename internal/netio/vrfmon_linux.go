//go:build linux

package netio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// linkUpdateBuffer bounds queued netlink link updates.
const linkUpdateBuffer = 100

// NetlinkVRFMonitor reports VRF devices through an RTNLGRP_LINK
// subscription.
type NetlinkVRFMonitor struct {
	defaultName string
	events      chan VRFEvent
	tracker     *vrfTracker
	logger      *slog.Logger
}

// NewVRFMonitor creates a netlink-backed VRF monitor. defaultName names
// the default VRF.
func NewVRFMonitor(defaultName string, logger *slog.Logger) *NetlinkVRFMonitor {
	return &NetlinkVRFMonitor{
		defaultName: defaultName,
		events:      make(chan VRFEvent, linkUpdateBuffer),
		tracker:     newVRFTracker(),
		logger:      logger.With(slog.String("component", "vrfmon")),
	}
}

// Run subscribes to link updates, reports existing VRFs and then changes
// until ctx is cancelled.
func (m *NetlinkVRFMonitor) Run(ctx context.Context) error {
	defer close(m.events)

	updates := make(chan netlink.LinkUpdate, linkUpdateBuffer)
	done := make(chan struct{})
	defer close(done)

	opts := netlink.LinkSubscribeOptions{
		ListExisting: true,
		ErrorCallback: func(err error) {
			m.logger.Error("netlink subscription error", slog.String("error", err.Error()))
		},
	}
	if err := netlink.LinkSubscribeWithOptions(updates, done, opts); err != nil {
		return fmt.Errorf("subscribe to link updates: %w", err)
	}

	if !m.emit(ctx, VRFEvent{Kind: VRFAdded, VRF: defaultVRF(m.defaultName)}) {
		return nil
	}
	m.logger.Info("vrf monitor started")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("vrf monitor stopped")
			return nil

		case u, ok := <-updates:
			if !ok {
				return fmt.Errorf("netlink link subscription closed: %w", ErrSubscriptionClosed)
			}
			deleted := u.Header.Type == unix.RTM_DELLINK
			for _, ev := range m.tracker.update(u.Link, deleted) {
				m.logger.Debug("vrf event",
					slog.String("kind", ev.Kind.String()),
					slog.String("vrf", ev.VRF.Name),
					slog.Uint64("id", uint64(ev.VRF.ID)),
				)
				if !m.emit(ctx, ev) {
					return nil
				}
			}
		}
	}
}

func (m *NetlinkVRFMonitor) emit(ctx context.Context, ev VRFEvent) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Events returns the event channel.
func (m *NetlinkVRFMonitor) Events() <-chan VRFEvent { return m.events }

// Close is a no-op; the subscription ends with Run.
func (m *NetlinkVRFMonitor) Close() error { return nil }
