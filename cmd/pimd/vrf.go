package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dantte-lp/gopimd/internal/loop"
	"github.com/dantte-lp/gopimd/internal/netio"
	"github.com/dantte-lp/gopimd/internal/pim"
)

// pumpVRFEvents feeds VRF events to the controller on the event loop until
// events is closed or ctx is cancelled.
func pumpVRFEvents(ctx context.Context, events <-chan netio.VRFEvent, lp *loop.Loop, ctrl *pim.Controller, logger *slog.Logger) {
	for ev := range events {
		err := lp.Do(ctx, func() error {
			return applyVRFEvent(ctx, ctrl, ev)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("vrf event failed",
				slog.String("kind", ev.Kind.String()),
				slog.String("vrf", ev.VRF.Name),
				slog.String("error", err.Error()),
			)
		}
	}
}

// applyVRFEvent dispatches one VRF event to the controller. It must run
// on the event loop.
func applyVRFEvent(ctx context.Context, ctrl *pim.Controller, ev netio.VRFEvent) error {
	switch ev.Kind {
	case netio.VRFAdded:
		return ctrl.VRFCreated(ctx, ev.VRF)
	case netio.VRFUp:
		return ctrl.VRFUp(ctx, ev.VRF.ID)
	case netio.VRFDown:
		ctrl.VRFDown(ev.VRF.ID)
	case netio.VRFRemoved:
		ctrl.VRFDeleted(ev.VRF.ID)
	default:
		return fmt.Errorf("vrf %s: unknown event kind %d", ev.VRF.Name, ev.Kind)
	}
	return nil
}
