//go:build linux

package netio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gopimd/internal/filter"
	"github.com/dantte-lp/gopimd/internal/pim"
)

// -------------------------------------------------------------------------
// Dataplane — kernel resources of a PIM instance
// -------------------------------------------------------------------------

// Dataplane acquires PIM register and multicast routing sockets through
// the Linux kernel. It satisfies pim.Dataplane.
type Dataplane struct {
	family filter.AFI
	logger *slog.Logger
}

// NewDataplane creates a Dataplane for the given address family.
func NewDataplane(afi filter.AFI, logger *slog.Logger) *Dataplane {
	return &Dataplane{
		family: afi,
		logger: logger.With(slog.String("component", "netio.dataplane")),
	}
}

// socketParams returns the domain, multicast routing protocol and option
// level of the family.
func (d *Dataplane) socketParams() (domain, mrouteProto, level int) {
	if d.family == filter.AFIIPv6 {
		return unix.AF_INET6, unix.IPPROTO_ICMPV6, unix.IPPROTO_IPV6
	}
	return unix.AF_INET, unix.IPPROTO_IGMP, unix.IPPROTO_IP
}

// OpenRegisterSocket opens a raw IPPROTO_PIM socket bound to the VRF
// device. Register messages are unicast PIM, so they need their own socket
// next to the multicast routing socket.
func (d *Dataplane) OpenRegisterSocket(_ context.Context, vrf pim.VRF) (io.Closer, error) {
	domain, _, _ := d.socketParams()

	fd, err := unix.Socket(domain, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_PIM)
	if err != nil {
		return nil, fmt.Errorf("open pim register socket: %w", err)
	}

	if err := bindToVRF(fd, vrf); err != nil {
		return nil, errors.Join(err, unix.Close(fd))
	}

	d.logger.Debug("register socket opened", slog.String("vrf", vrf.Name), slog.Int("fd", fd))
	return &rawSocket{fd: fd, what: "pim register socket"}, nil
}

// OpenMrouteSocket opens the multicast routing socket of vrf, selects its
// multicast routing table and enables multicast routing with PIM.
func (d *Dataplane) OpenMrouteSocket(_ context.Context, vrf pim.VRF) (pim.MrouteSocket, error) {
	domain, proto, level := d.socketParams()

	fd, err := unix.Socket(domain, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, fmt.Errorf("open multicast routing socket: %w", err)
	}

	if err := initMroute(fd, level, vrf); err != nil {
		return nil, errors.Join(err, unix.Close(fd))
	}

	d.logger.Debug("multicast routing socket opened",
		slog.String("vrf", vrf.Name),
		slog.Uint64("table", uint64(vrf.Table)),
	)
	return &MrouteSocket{
		fd:    fd,
		level: level,
		ipv6:  d.family == filter.AFIIPv6,
		vifs:  newVIFTable(),
	}, nil
}

// initMroute runs the MRT_TABLE, MRT_INIT, MRT_PIM sequence. MRT_TABLE
// must precede MRT_INIT.
func initMroute(fd, level int, vrf pim.VRF) error {
	if err := bindToVRF(fd, vrf); err != nil {
		return err
	}
	if !vrf.IsDefault() && vrf.Table != 0 && vrf.Table != rtTableMain {
		if err := unix.SetsockoptInt(fd, level, mrtTable, int(vrf.Table)); err != nil {
			return fmt.Errorf("set MRT_TABLE(%d): %w", vrf.Table, err)
		}
	}
	if err := unix.SetsockoptInt(fd, level, mrtInit, 1); err != nil {
		return fmt.Errorf("set MRT_INIT: %w", err)
	}
	if err := unix.SetsockoptInt(fd, level, mrtPIM, 1); err != nil {
		return fmt.Errorf("set MRT_PIM: %w", err)
	}
	return nil
}

// bindToVRF applies SO_BINDTODEVICE for non-default VRFs.
func bindToVRF(fd int, vrf pim.VRF) error {
	if vrf.IsDefault() {
		return nil
	}
	return bindToDevice(fd, vrf.Name)
}

// bindToDevice applies SO_BINDTODEVICE.
func bindToDevice(fd int, device string) error {
	if err := unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, device); err != nil {
		return fmt.Errorf("set SO_BINDTODEVICE(%s): %w", device, err)
	}
	return nil
}

// Interfaces lists the interfaces enslaved to vrf.
func (d *Dataplane) Interfaces(vrf pim.VRF) ([]pim.Interface, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return vrfInterfaces(links, vrf), nil
}

// -------------------------------------------------------------------------
// rawSocket
// -------------------------------------------------------------------------

type rawSocket struct {
	fd   int
	what string
}

func (s *rawSocket) Close() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close %s: %w", s.what, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// MrouteSocket
// -------------------------------------------------------------------------

// MrouteSocket is an initialized multicast routing socket. It satisfies
// pim.MrouteSocket and adds per-interface VIF management.
type MrouteSocket struct {
	fd    int
	level int
	ipv6  bool
	vifs  *vifTable
}

func (s *MrouteSocket) setVIF(opt int, arg []byte) error {
	return unix.SetsockoptString(s.fd, s.level, opt, string(arg))
}

func (s *MrouteSocket) vifArg(vifi uint16, register bool, ifindex int) []byte {
	if s.ipv6 {
		var flags uint8
		if register {
			flags = miffRegister
		}
		return encodeMif6ctl(vifi, flags, ifindex)
	}

	flags := uint8(viffUseIfindex)
	if register {
		flags = viffRegister
	}
	return encodeVifctl(vifi, flags, ifindex)
}

func (s *MrouteSocket) delArg(vifi uint16) []byte {
	if s.ipv6 {
		return encodeMifi(vifi)
	}
	return encodeVifctl(vifi, 0, 0)
}

// AddRegisterVIF creates the register VIF at index 0.
func (s *MrouteSocket) AddRegisterVIF() error {
	if err := s.setVIF(mrtAddVIF, s.vifArg(registerVIF, true, 0)); err != nil {
		return fmt.Errorf("add register vif: %w", err)
	}
	return nil
}

// DelRegisterVIF deletes the register VIF.
func (s *MrouteSocket) DelRegisterVIF() error {
	if err := s.setVIF(mrtDelVIF, s.delArg(registerVIF)); err != nil {
		return fmt.Errorf("delete register vif: %w", err)
	}
	return nil
}

// AddVIF adds ifc as a multicast virtual interface.
func (s *MrouteSocket) AddVIF(ifc pim.Interface) error {
	vifi, err := s.vifs.alloc(ifc.Index)
	if err != nil {
		return err
	}
	if err := s.setVIF(mrtAddVIF, s.vifArg(vifi, false, ifc.Index)); err != nil {
		s.vifs.release(ifc.Index)
		return fmt.Errorf("add vif %d for %s: %w", vifi, ifc.Name, err)
	}
	return nil
}

// DelVIF removes the virtual interface of ifc.
func (s *MrouteSocket) DelVIF(ifc pim.Interface) error {
	vifi, ok := s.vifs.release(ifc.Index)
	if !ok {
		return nil
	}
	if err := s.setVIF(mrtDelVIF, s.delArg(vifi)); err != nil {
		return fmt.Errorf("delete vif %d for %s: %w", vifi, ifc.Name, err)
	}
	return nil
}

// Close disables multicast routing on the socket and closes it.
func (s *MrouteSocket) Close() error {
	if s.fd < 0 {
		return nil
	}
	fd := s.fd
	s.fd = -1

	doneErr := unix.SetsockoptInt(fd, s.level, mrtDone, 1)
	if doneErr != nil {
		doneErr = fmt.Errorf("set MRT_DONE: %w", doneErr)
	}
	return errors.Join(doneErr, unix.Close(fd))
}
