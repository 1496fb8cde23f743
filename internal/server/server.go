// Package server implements the ConnectRPC server for the PIM daemon.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"

	"connectrpc.com/connect"

	"github.com/dantte-lp/gopimd/internal/loop"
	"github.com/dantte-lp/gopimd/internal/pim"
	"github.com/dantte-lp/gopimd/pkg/pimapi"
)

var (
	// ErrInvalidGroup indicates an unparsable or non-multicast group address.
	ErrInvalidGroup = errors.New("invalid multicast group")

	// ErrFamilyMismatch indicates a group of the wrong address family.
	ErrFamilyMismatch = errors.New("group does not match instance address family")
)

// PIMServer serves pim.v1.PimService.
//
// Every RPC runs on the daemon event loop, so handlers observe and mutate
// the registry without further locking.
type PIMServer struct {
	ctrl   *pim.Controller
	loop   *loop.Loop
	logger *slog.Logger
}

// New creates a PIMServer and returns the HTTP handler and its path prefix.
func New(ctrl *pim.Controller, lp *loop.Loop, logger *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	srv := &PIMServer{
		ctrl:   ctrl,
		loop:   lp,
		logger: logger.With(slog.String("component", "server")),
	}

	opts = append([]connect.HandlerOption{connect.WithCodec(pimapi.Codec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(pimapi.ListInstancesProcedure,
		connect.NewUnaryHandler(pimapi.ListInstancesProcedure, srv.ListInstances, opts...))
	mux.Handle(pimapi.GetInstanceProcedure,
		connect.NewUnaryHandler(pimapi.GetInstanceProcedure, srv.GetInstance, opts...))
	mux.Handle(pimapi.ShowRunningConfigProcedure,
		connect.NewUnaryHandler(pimapi.ShowRunningConfigProcedure, srv.ShowRunningConfig, opts...))
	mux.Handle(pimapi.SetSSMRangeProcedure,
		connect.NewUnaryHandler(pimapi.SetSSMRangeProcedure, srv.SetSSMRange, opts...))
	mux.Handle(pimapi.ClassifyGroupProcedure,
		connect.NewUnaryHandler(pimapi.ClassifyGroupProcedure, srv.ClassifyGroup, opts...))

	return "/" + pimapi.ServiceName + "/", mux
}

// ListInstances returns every instance in registry order.
func (s *PIMServer) ListInstances(
	ctx context.Context,
	_ *connect.Request[pimapi.ListInstancesRequest],
) (*connect.Response[pimapi.ListInstancesResponse], error) {
	resp := &pimapi.ListInstancesResponse{}
	err := s.do(ctx, func() error {
		s.ctrl.Registry().Ascend(func(inst *pim.Instance) bool {
			resp.Instances = append(resp.Instances, instanceSummary(inst))
			return true
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// GetInstance returns the named instance.
func (s *PIMServer) GetInstance(
	ctx context.Context,
	req *connect.Request[pimapi.GetInstanceRequest],
) (*connect.Response[pimapi.GetInstanceResponse], error) {
	resp := &pimapi.GetInstanceResponse{}
	err := s.do(ctx, func() error {
		inst, err := s.lookup(req.Msg.Name)
		if err != nil {
			return err
		}
		resp.Instance = instanceDetail(inst)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// ShowRunningConfig returns the configuration dump of all instances.
func (s *PIMServer) ShowRunningConfig(
	ctx context.Context,
	_ *connect.Request[pimapi.ShowRunningConfigRequest],
) (*connect.Response[pimapi.ShowRunningConfigResponse], error) {
	var buf bytes.Buffer
	err := s.do(ctx, func() error {
		if err := s.ctrl.WriteConfig(&buf, nil); err != nil {
			return connect.NewError(connect.CodeInternal, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&pimapi.ShowRunningConfigResponse{Config: buf.String()}), nil
}

// SetSSMRange replaces the SSM range prefix list of an instance.
func (s *PIMServer) SetSSMRange(
	ctx context.Context,
	req *connect.Request[pimapi.SetSSMRangeRequest],
) (*connect.Response[pimapi.SetSSMRangeResponse], error) {
	resp := &pimapi.SetSSMRangeResponse{}
	err := s.do(ctx, func() error {
		inst, err := s.lookup(req.Msg.VRF)
		if err != nil {
			return err
		}
		inst.SSM().SetRange(req.Msg.PrefixList)
		resp.Reevaluated = inst.Active()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "ssm range changed",
		slog.String("vrf", req.Msg.VRF),
		slog.String("prefix_list", req.Msg.PrefixList),
		slog.Bool("reevaluated", resp.Reevaluated),
	)
	return connect.NewResponse(resp), nil
}

// ClassifyGroup reports whether a group is SSM within an instance.
func (s *PIMServer) ClassifyGroup(
	ctx context.Context,
	req *connect.Request[pimapi.ClassifyGroupRequest],
) (*connect.Response[pimapi.ClassifyGroupResponse], error) {
	group, err := netip.ParseAddr(req.Msg.Group)
	if err != nil || !group.Unmap().IsMulticast() {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("group %q: %w", req.Msg.Group, ErrInvalidGroup))
	}
	group = group.Unmap()

	resp := &pimapi.ClassifyGroupResponse{Group: group.String()}
	err = s.do(ctx, func() error {
		inst, err := s.lookup(req.Msg.VRF)
		if err != nil {
			return err
		}
		if inst.Family().String() != familyOf(group) {
			return connect.NewError(connect.CodeInvalidArgument,
				fmt.Errorf("group %s in %s instance: %w", group, inst.Family(), ErrFamilyMismatch))
		}
		resp.SSM = inst.SSM().Classify(group)
		resp.Range, _ = inst.SSM().Range()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

// do runs fn on the event loop and maps loop errors to connect codes.
func (s *PIMServer) do(ctx context.Context, fn func() error) error {
	err := s.loop.Do(ctx, fn)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, loop.ErrStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return err
	}
}

func (s *PIMServer) lookup(name string) (*pim.Instance, error) {
	inst, ok := s.ctrl.Registry().Lookup(name)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound,
			fmt.Errorf("instance %q: %w", name, pim.ErrInstanceNotFound))
	}
	return inst, nil
}

func familyOf(addr netip.Addr) string {
	if addr.Is4() {
		return "ipv4"
	}
	return "ipv6"
}

func instanceSummary(inst *pim.Instance) pimapi.InstanceSummary {
	sum := pimapi.InstanceSummary{
		Name:    inst.Name(),
		State:   inst.State().String(),
		Created: inst.Created(),
	}
	if vrf, ok := inst.Binding(); ok {
		sum.Bound = true
		sum.VRFID = uint32(vrf.ID)
		sum.Table = vrf.Table
	}
	return sum
}

func instanceDetail(inst *pim.Instance) pimapi.InstanceDetail {
	settings := inst.Settings()
	detail := pimapi.InstanceDetail{
		InstanceSummary: instanceSummary(inst),
		Family:          inst.Family().String(),
		KeepAlive:       settings.KeepAlive,
		RPKeepAlive:     settings.RPKeepAlive,
		SPTSwitchover:   settings.SPT.Mode.String(),
		ECMP:            settings.ECMP,
		ECMPRebalance:   settings.ECMPRebalance,
		SendV6Secondary: settings.SendV6Secondary,
		RPFEntries:      inst.RPF().Len(),
	}
	detail.SSMRange, _ = inst.SSM().Range()

	for _, ifc := range inst.Interfaces() {
		detail.Interfaces = append(detail.Interfaces, ifc.Name)
	}

	for _, sock := range inst.SSMPing().Sockets() {
		detail.SSMPing = append(detail.SSMPing, pimapi.SSMPingInfo{
			Source:   sock.Source().String(),
			Running:  sock.Running(),
			Requests: sock.Requests(),
			Created:  sock.Created(),
		})
	}

	for _, p := range inst.MSDP().Peers() {
		role := "connect"
		if p.Listener() {
			role = "listen"
		}
		detail.MSDPPeers = append(detail.MSDPPeers, pimapi.MSDPPeer{
			Peer:           p.Addr().String(),
			Source:         p.Local().String(),
			State:          p.State().String(),
			Role:           role,
			Uptime:         p.Uptime(),
			Establishments: p.Establishments(),
			KeepalivesSent: p.KeepalivesSent(),
			KeepalivesRecv: p.KeepalivesReceived(),
		})
	}

	for _, r := range inst.StaticRoutes().Routes() {
		detail.StaticRoutes = append(detail.StaticRoutes, r.String())
	}

	return detail
}
