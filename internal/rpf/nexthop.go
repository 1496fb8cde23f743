package rpf

import (
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Key identifies an RPF lookup: the address whose reverse path is tracked
// (a multicast source or rendezvous point), optionally scoped to a group
// range.
type Key struct {
	Addr  netip.Addr
	Group netip.Prefix
}

// String returns "addr" or "addr/group".
func (k Key) String() string {
	if !k.Group.IsValid() {
		return k.Addr.String()
	}
	return fmt.Sprintf("%s/%s", k.Addr, k.Group)
}

// KeyHasher hashes Key with xxhash over its fixed-size encoding.
type KeyHasher struct{}

// keyWireLen is 16 bytes of address, 16 bytes of group address, the group
// length and a family tag.
const keyWireLen = 34

// Hash implements Hasher.
func (KeyHasher) Hash(k Key) uint64 {
	var buf [keyWireLen]byte

	a := k.Addr.As16()
	copy(buf[0:16], a[:])

	g := k.Group.Addr().As16()
	copy(buf[16:32], g[:])

	buf[32] = byte(k.Group.Bits())
	if k.Addr.Is4() {
		buf[33] = 4
	} else if k.Addr.Is6() {
		buf[33] = 6
	}

	return xxhash.Sum64(buf[:])
}

// Equal implements Hasher.
func (KeyHasher) Equal(a, b Key) bool { return a == b }

// Nexthop is the cached RPF result for a Key.
type Nexthop struct {
	// Interface and IfIndex name the accepted incoming interface.
	Interface string
	IfIndex   int

	// Neighbor is the upstream PIM neighbor towards the address.
	Neighbor netip.Addr

	Metric   uint32
	Distance uint8

	// RPs lists the rendezvous points resolved through this entry.
	RPs []netip.Addr

	// Upstreams lists the (S,G) flows resolved through this entry.
	Upstreams []string

	Updated time.Time
}

// AddRP records that rp depends on this entry.
func (n *Nexthop) AddRP(rp netip.Addr) {
	if !slices.Contains(n.RPs, rp) {
		n.RPs = append(n.RPs, rp)
	}
}

// AddUpstream records that the flow sg depends on this entry.
func (n *Nexthop) AddUpstream(sg string) {
	if !slices.Contains(n.Upstreams, sg) {
		n.Upstreams = append(n.Upstreams, sg)
	}
}

// Release drops the dependency lists held by the entry.
func (n *Nexthop) Release() {
	n.RPs = nil
	n.Upstreams = nil
}

// NexthopCache is the per-instance RPF cache.
type NexthopCache = Cache[Key, *Nexthop]

// NewNexthopCache creates the RPF cache of the named instance.
func NewNexthopCache(instance string, capacity int) (*NexthopCache, error) {
	return New(fmt.Sprintf("PIM %s RPF Hash", instance), capacity, KeyHasher{}, ReleaseNexthop)
}

// ReleaseNexthop is the cleanup action for NexthopCache entries.
func ReleaseNexthop(_ Key, nh *Nexthop) {
	if nh != nil {
		nh.Release()
	}
}
