package netio

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/dantte-lp/gopimd/internal/msdp"
	"github.com/dantte-lp/gopimd/internal/ssmping"
)

// -------------------------------------------------------------------------
// VRF Sockets — ssmpingd and MSDP sockets scoped to a VRF device
// -------------------------------------------------------------------------

// VRFSockets opens the ssmpingd and MSDP sockets of an instance inside its
// VRF. Every socket is bound to the VRF device before bind(2) and carries
// SO_REUSEPORT, so instances of different VRFs share the well-known ports.
// An empty device selects the default VRF.
type VRFSockets struct {
	msdpPort uint16
}

// VRFSocketsOption configures VRFSockets.
type VRFSocketsOption func(*VRFSockets)

// WithMSDPPort overrides the MSDP port. Port 0 selects an ephemeral port.
func WithMSDPPort(port uint16) VRFSocketsOption {
	return func(v *VRFSockets) { v.msdpPort = port }
}

// NewVRFSockets creates the socket factory used by the daemon.
func NewVRFSockets(opts ...VRFSocketsOption) *VRFSockets {
	v := &VRFSockets{msdpPort: msdp.Port}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *VRFSockets) listenConfig(device string) *net.ListenConfig {
	return &net.ListenConfig{Control: socketControl(device)}
}

// SSMPingListen returns the ssmpingd packet socket constructor of device.
func (v *VRFSockets) SSMPingListen(device string) ssmping.ListenFunc {
	lc := v.listenConfig(device)
	return func(ctx context.Context, laddr netip.AddrPort) (net.PacketConn, error) {
		pc, err := lc.ListenPacket(ctx, "udp", laddr.String())
		if err != nil {
			return nil, fmt.Errorf("listen %s in vrf %q: %w", laddr, device, err)
		}
		return pc, nil
	}
}

// MSDPListen returns the MSDP listener constructor of device.
func (v *VRFSockets) MSDPListen(device string) msdp.ListenFunc {
	lc := v.listenConfig(device)
	addr := fmt.Sprintf(":%d", v.msdpPort)
	return func(ctx context.Context) (net.Listener, error) {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen %s in vrf %q: %w", addr, device, err)
		}
		return ln, nil
	}
}

// MSDPDial returns the MSDP connection constructor of device.
func (v *VRFSockets) MSDPDial(device string) msdp.DialFunc {
	control := socketControl(device)
	port := v.msdpPort
	return func(ctx context.Context, local, remote netip.Addr) (net.Conn, error) {
		d := net.Dialer{
			LocalAddr: net.TCPAddrFromAddrPort(netip.AddrPortFrom(local, 0)),
			Control:   control,
		}
		return d.DialContext(ctx, "tcp", netip.AddrPortFrom(remote, port).String())
	}
}
