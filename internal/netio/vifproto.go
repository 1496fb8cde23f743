package netio

import (
	"log/slog"

	"github.com/dantte-lp/gopimd/internal/pim"
)

// vifManager is implemented by multicast routing sockets that manage
// per-interface virtual interfaces.
type vifManager interface {
	AddVIF(ifc pim.Interface) error
	DelVIF(ifc pim.Interface) error
}

// VIFProtocol starts PIM on an interface by adding it as a multicast
// virtual interface of the instance's routing socket. It satisfies
// pim.InterfaceProtocol.
type VIFProtocol struct {
	logger *slog.Logger
}

// NewVIFProtocol creates a VIFProtocol.
func NewVIFProtocol(logger *slog.Logger) *VIFProtocol {
	return &VIFProtocol{logger: logger.With(slog.String("component", "netio.vif"))}
}

func (p *VIFProtocol) manager(inst *pim.Instance) (vifManager, bool) {
	sock, ok := inst.MrouteSocket()
	if !ok {
		return nil, false
	}
	m, ok := sock.(vifManager)
	return m, ok
}

// Start adds ifc as a VIF.
func (p *VIFProtocol) Start(inst *pim.Instance, ifc pim.Interface) error {
	m, ok := p.manager(inst)
	if !ok {
		return nil
	}
	if err := m.AddVIF(ifc); err != nil {
		return err
	}
	p.logger.Info("pim enabled on interface",
		slog.String("vrf", inst.Name()),
		slog.String("interface", ifc.Name),
	)
	return nil
}

// Stop removes the VIF of ifc.
func (p *VIFProtocol) Stop(inst *pim.Instance, ifc pim.Interface) {
	m, ok := p.manager(inst)
	if !ok {
		return
	}
	if err := m.DelVIF(ifc); err != nil {
		p.logger.Warn("failed to remove vif",
			slog.String("vrf", inst.Name()),
			slog.String("interface", ifc.Name),
			slog.String("error", err.Error()),
		)
	}
}

// Terminate has nothing to release; VIFs disappear with the socket.
func (p *VIFProtocol) Terminate(inst *pim.Instance) {
	p.logger.Debug("interface state released", slog.String("vrf", inst.Name()))
}
