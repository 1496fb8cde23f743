//go:build linux

package netio

import (
	"net"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/dantte-lp/gopimd/internal/pim"
)

// vrfInterfaces returns the interfaces of links enslaved to vrf, sorted as
// the kernel listed them. Interfaces of the default VRF are those without
// a VRF master. VRF devices and loopbacks are skipped.
func vrfInterfaces(links []netlink.Link, vrf pim.VRF) []pim.Interface {
	vrfDevs := make(map[int]struct{})
	for _, l := range links {
		if _, ok := l.(*netlink.Vrf); ok {
			vrfDevs[l.Attrs().Index] = struct{}{}
		}
	}

	var out []pim.Interface
	for _, l := range links {
		attrs := l.Attrs()
		if _, isVRF := vrfDevs[attrs.Index]; isVRF || attrs.Flags&net.FlagLoopback != 0 {
			continue
		}

		_, enslaved := vrfDevs[attrs.MasterIndex]
		if vrf.IsDefault() {
			if enslaved {
				continue
			}
		} else if attrs.MasterIndex != int(vrf.ID) {
			continue
		}

		out = append(out, pim.Interface{
			Name:  attrs.Name,
			Index: attrs.Index,
			Up:    linkUp(attrs),
		})
	}
	return out
}

// linkUp reports IFF_UP and IFF_RUNNING.
func linkUp(attrs *netlink.LinkAttrs) bool {
	return attrs.Flags&net.FlagUp != 0 && attrs.RawFlags&unix.IFF_RUNNING != 0
}
