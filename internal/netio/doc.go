// Package netio provides the kernel side of a PIM instance.
//
// The Linux implementation uses golang.org/x/sys/unix for the raw PIM
// register socket and the multicast routing socket (MRT_INIT, MRT_TABLE,
// MRT_ADD_VIF), and github.com/vishvananda/netlink to enumerate VRF
// devices and their enslaved interfaces.
package netio
