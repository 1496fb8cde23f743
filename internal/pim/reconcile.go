package pim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
)

// MSDPPeer is a configured MSDP peering.
type MSDPPeer struct {
	Peer   netip.Addr
	Source netip.Addr
}

// InstanceSpec is the desired configuration of one instance.
type InstanceSpec struct {
	Name          string
	Settings      Settings
	SSMPrefixList string
	MSDPPeers     []MSDPPeer
	SSMPingd      []netip.Addr
	StaticRoutes  []StaticRoute
}

// ReconcileResult counts the changes made by Reconcile.
type ReconcileResult struct {
	Created   int
	Updated   int
	Destroyed int
}

// Reconcile makes the registry match desired. Instances not listed are
// terminated, missing ones are created and existing ones are updated in
// place. With auto-create on, an unlisted instance whose VRF exists is
// kept with default settings instead. Bound instances of operational VRFs
// are enabled again, which retries a failed Enable. Errors of individual
// instances are joined; the rest proceed.
func (c *Controller) Reconcile(ctx context.Context, desired []InstanceSpec) (ReconcileResult, error) {
	var (
		res  ReconcileResult
		errs error
	)

	desired = slices.Clone(desired)
	want := make(map[string]struct{}, len(desired))
	for _, spec := range desired {
		want[spec.Name] = struct{}{}
	}

	for _, inst := range c.registry.Instances() {
		if _, ok := want[inst.name]; ok {
			continue
		}
		if _, ok := c.VRF(inst.name); ok && c.autoCreate {
			desired = append(desired, InstanceSpec{Name: inst.name, Settings: DefaultSettings()})
			continue
		}
		c.terminate(inst)
		res.Destroyed++
	}

	for _, spec := range desired {
		inst, ok := c.registry.Lookup(spec.Name)
		if !ok {
			created, err := c.CreateInstance(ctx, spec.Name, WithSettings(spec.Settings))
			if created == nil {
				errs = errors.Join(errs, err)
				continue
			}
			if err != nil {
				errs = errors.Join(errs, err)
			}
			inst = created
			res.Created++
		} else {
			res.Updated++
		}

		if err := c.apply(ctx, inst, spec); err != nil {
			errs = errors.Join(errs, err)
		}
		if inst.state == StateBound && inst.binding.Operational {
			if err := c.Enable(ctx, inst); err != nil {
				errs = errors.Join(errs, err)
			}
		}
	}

	c.logger.Info("instances reconciled",
		slog.Int("created", res.Created),
		slog.Int("updated", res.Updated),
		slog.Int("destroyed", res.Destroyed),
	)
	return res, errs
}

// apply updates inst to spec.
func (c *Controller) apply(ctx context.Context, inst *Instance, spec InstanceSpec) error {
	var errs error

	if spec.Settings != inst.settings {
		if err := inst.SetSettings(spec.Settings); err != nil {
			errs = errors.Join(errs, err)
		}
	}

	if cur, _ := inst.ssm.Range(); cur != spec.SSMPrefixList {
		inst.ssm.SetRange(spec.SSMPrefixList)
	}

	errs = errors.Join(errs, syncSSMPing(ctx, inst, spec.SSMPingd))
	errs = errors.Join(errs, syncMSDP(ctx, inst, spec.MSDPPeers))
	errs = errors.Join(errs, syncStatic(inst, spec.StaticRoutes))

	if errs != nil {
		return fmt.Errorf("apply %q: %w", inst.name, errs)
	}
	return nil
}

func syncSSMPing(ctx context.Context, inst *Instance, want []netip.Addr) error {
	var errs error
	for _, sock := range inst.ssmping.Sockets() {
		if !slices.Contains(want, sock.Source()) {
			errs = errors.Join(errs, inst.ssmping.Remove(sock.Source()))
		}
	}
	for _, src := range want {
		if _, ok := inst.ssmping.Lookup(src); ok {
			continue
		}
		errs = errors.Join(errs, inst.AddSSMPing(ctx, src))
	}
	return errs
}

func syncMSDP(ctx context.Context, inst *Instance, want []MSDPPeer) error {
	var errs error
	for _, p := range inst.msdp.Peers() {
		keep := slices.ContainsFunc(want, func(w MSDPPeer) bool {
			return w.Peer == p.Addr() && w.Source == p.Local()
		})
		if !keep {
			errs = errors.Join(errs, inst.msdp.RemovePeer(p.Addr()))
		}
	}
	for _, w := range want {
		if _, ok := inst.msdp.Lookup(w.Peer); ok {
			continue
		}
		errs = errors.Join(errs, inst.AddMSDPPeer(ctx, w.Peer, w.Source))
	}
	return errs
}

func syncStatic(inst *Instance, want []StaticRoute) error {
	var errs error
	inst.static.Clear()
	for _, r := range want {
		errs = errors.Join(errs, inst.static.Add(r))
	}
	return errs
}
