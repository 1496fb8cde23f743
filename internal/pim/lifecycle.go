package pim

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dantte-lp/gopimd/internal/rpf"
)

// -------------------------------------------------------------------------
// Enable
// -------------------------------------------------------------------------

// Enable allocates the resources of a Bound instance whose VRF is
// operational and moves it to Active.
//
// Steps run in order: bootstrap init, upstream init, register socket,
// multicast routing socket, register VIF, per-interface protocol start,
// ssmpingd sockets, MSDP peers. When acquiring a kernel resource fails the
// completed steps are undone in reverse and the instance stays Bound.
func (c *Controller) Enable(ctx context.Context, inst *Instance) error {
	switch {
	case inst.state == StateTerminated:
		return fmt.Errorf("enable %q: %w", inst.name, ErrTerminated)
	case inst.state == StateActive:
		return fmt.Errorf("enable %q: %w", inst.name, ErrAlreadyActive)
	case inst.binding == nil:
		return fmt.Errorf("enable %q: %w", inst.name, ErrNotBound)
	case !inst.binding.Operational:
		return fmt.Errorf("enable %q: %w", inst.name, ErrVRFNotOperational)
	}

	if err := c.enable(ctx, inst); err != nil {
		c.metrics.IncEnableFailures(inst.name)
		c.logger.Error("failed to enable instance",
			slog.String("vrf", inst.name),
			slog.String("error", err.Error()),
		)
		return err
	}

	c.setState(inst, StateActive)
	return nil
}

func (c *Controller) enable(ctx context.Context, inst *Instance) error {
	vrf := *inst.binding

	var undo []func()
	fail := func(step string, err error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return fmt.Errorf("enable %q: %s: %w", inst.name, step, err)
	}

	c.subsystems.Bootstrap.Init(inst)
	undo = append(undo, func() { c.subsystems.Bootstrap.Terminate(inst) })

	c.subsystems.Upstream.Init(inst)
	undo = append(undo, func() { c.subsystems.Upstream.Terminate(inst) })

	reg, err := c.dataplane.OpenRegisterSocket(ctx, vrf)
	if err != nil {
		return fail("open register socket", err)
	}
	inst.regSock = reg
	undo = append(undo, func() { c.closeRegisterSocket(inst) })

	mr, err := c.dataplane.OpenMrouteSocket(ctx, vrf)
	if err != nil {
		return fail("open multicast routing socket", err)
	}
	inst.mroute = mr
	undo = append(undo, func() { c.closeMrouteSocket(inst) })

	if err := mr.AddRegisterVIF(); err != nil {
		return fail("add register vif", err)
	}

	c.startInterfaces(inst, vrf)

	if err := inst.ssmping.StartAll(ctx); err != nil {
		inst.logger.Warn("failed to start ssmpingd sockets", slog.String("error", err.Error()))
	}
	if err := inst.msdp.Start(ctx); err != nil {
		inst.logger.Warn("failed to start msdp peers", slog.String("error", err.Error()))
	}
	return nil
}

// startInterfaces starts protocol processing on every up interface of vrf.
func (c *Controller) startInterfaces(inst *Instance, vrf VRF) {
	ifaces, err := c.dataplane.Interfaces(vrf)
	if err != nil {
		inst.logger.Warn("failed to list vrf interfaces", slog.String("error", err.Error()))
		return
	}

	for _, ifc := range ifaces {
		if !ifc.Up {
			continue
		}
		if err := c.subsystems.Interfaces.Start(inst, ifc); err != nil {
			inst.logger.Warn("failed to start pim on interface",
				slog.String("interface", ifc.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		inst.ifaces = append(inst.ifaces, ifc)
	}
}

// -------------------------------------------------------------------------
// Disable
// -------------------------------------------------------------------------

// Disable releases the resources of an Active instance in reverse order
// of Enable and moves it to Bound. Release failures are logged.
func (c *Controller) Disable(inst *Instance) error {
	if inst.state != StateActive {
		return fmt.Errorf("disable %q: %w", inst.name, ErrNotActive)
	}
	c.disable(inst)
	return nil
}

func (c *Controller) disable(inst *Instance) {
	// Leave Active first so nothing below triggers a reevaluation cascade.
	c.setState(inst, StateBound)

	inst.msdp.Stop()
	inst.ssmping.StopAll()

	for i := len(inst.ifaces) - 1; i >= 0; i-- {
		c.subsystems.Interfaces.Stop(inst, inst.ifaces[i])
	}
	inst.ifaces = nil

	if inst.mroute != nil {
		if err := inst.mroute.DelRegisterVIF(); err != nil {
			inst.logger.Warn("failed to delete register vif", slog.String("error", err.Error()))
		}
	}
	c.closeMrouteSocket(inst)
	c.closeRegisterSocket(inst)

	c.subsystems.Upstream.Terminate(inst)
	c.subsystems.Bootstrap.Terminate(inst)
}

func (c *Controller) closeMrouteSocket(inst *Instance) {
	if inst.mroute == nil {
		return
	}
	if err := inst.mroute.Close(); err != nil {
		inst.logger.Warn("failed to close multicast routing socket", slog.String("error", err.Error()))
	}
	inst.mroute = nil
}

func (c *Controller) closeRegisterSocket(inst *Instance) {
	if inst.regSock == nil {
		return
	}
	if err := inst.regSock.Close(); err != nil {
		inst.logger.Warn("failed to close register socket", slog.String("error", err.Error()))
	}
	inst.regSock = nil
}

// -------------------------------------------------------------------------
// Terminate
// -------------------------------------------------------------------------

// terminate disables inst if Active, removes it from the registry and
// releases everything it owns.
func (c *Controller) terminate(inst *Instance) {
	if inst.state == StateTerminated {
		return
	}
	if inst.state == StateActive {
		c.disable(inst)
	}

	if err := c.registry.Remove(inst); err != nil {
		inst.logger.Warn("failed to remove instance from registry", slog.String("error", err.Error()))
	}

	inst.ssmping.Destroy()
	inst.msdp.Destroy()

	c.subsystems.BootstrapMLAG.Release(inst)
	c.subsystems.OIL.Release(inst)
	c.subsystems.RP.Release(inst)

	inst.static.Clear()

	released := inst.rpf.Drain(rpf.ReleaseNexthop)
	c.metrics.AddRPFReleased(inst.name, released)

	c.subsystems.VXLAN.Release(inst)
	c.subsystems.MSDP.Release(inst)

	inst.ssm.Reset()
	inst.settings.SPT.PrefixList = ""
	inst.settings.RegisterAcceptList = ""

	c.subsystems.Interfaces.Terminate(inst)

	inst.binding = nil
	c.setState(inst, StateTerminated)
	c.logger.Info("instance terminated",
		slog.String("vrf", inst.name),
		slog.Int("rpf_entries_released", released),
	)
}
