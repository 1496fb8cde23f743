package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"

	"github.com/dantte-lp/gopimd/internal/loop"
	"github.com/dantte-lp/gopimd/internal/pim"
	"github.com/dantte-lp/gopimd/pkg/pimapi"
)

// ErrUnknownService indicates a health check for a service that is not
// served.
var ErrUnknownService = errors.New("unknown health check service")

// HealthChecker reports the PIM service as serving while the event loop
// runs, and each instance as serving while it is Active.
//
//	""                     -> serving while the loop runs
//	"pim.v1.PimService"    -> serving while the loop runs
//	"pim.v1.Instance/red"  -> serving iff instance red is Active
type HealthChecker struct {
	ctrl *pim.Controller
	loop *loop.Loop
}

// verify interface compliance at compile time.
var _ grpchealth.Checker = (*HealthChecker)(nil)

// NewHealthChecker creates a checker over the controller's registry.
func NewHealthChecker(ctrl *pim.Controller, lp *loop.Loop) *HealthChecker {
	return &HealthChecker{ctrl: ctrl, loop: lp}
}

// Check implements grpchealth.Checker.
func (h *HealthChecker) Check(ctx context.Context, req *grpchealth.CheckRequest) (*grpchealth.CheckResponse, error) {
	name, isInstance := strings.CutPrefix(req.Service, pimapi.InstanceHealthPrefix)
	if !isInstance && req.Service != "" && req.Service != pimapi.ServiceName {
		return nil, connect.NewError(connect.CodeNotFound,
			fmt.Errorf("%q: %w", req.Service, ErrUnknownService))
	}

	status := grpchealth.StatusNotServing
	err := h.loop.Do(ctx, func() error {
		if !isInstance {
			status = grpchealth.StatusServing
			return nil
		}
		inst, ok := h.ctrl.Registry().Lookup(name)
		if !ok {
			return connect.NewError(connect.CodeNotFound,
				fmt.Errorf("instance %q: %w", name, pim.ErrInstanceNotFound))
		}
		if inst.Active() {
			status = grpchealth.StatusServing
		}
		return nil
	})

	var connectErr *connect.Error
	switch {
	case err == nil:
	case errors.As(err, &connectErr):
		return nil, err
	case errors.Is(err, loop.ErrStopped):
		// A stopped loop means the daemon is shutting down.
	default:
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}

	return &grpchealth.CheckResponse{Status: status}, nil
}
