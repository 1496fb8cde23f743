package netio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Multicast routing constants (linux/mroute.h, linux/mroute6.h)
// -------------------------------------------------------------------------

// Socket options of the multicast routing socket. The IPv6 MRT6_* options
// share the numeric values of their IPv4 counterparts.
const (
	mrtInit   = 200 // MRT_INIT / MRT6_INIT
	mrtDone   = 201 // MRT_DONE / MRT6_DONE
	mrtAddVIF = 202 // MRT_ADD_VIF / MRT6_ADD_MIF
	mrtDelVIF = 203 // MRT_DEL_VIF / MRT6_DEL_MIF
	mrtPIM    = 208 // MRT_PIM / MRT6_PIM
	mrtTable  = 209 // MRT_TABLE / MRT6_TABLE
)

// VIF flags.
const (
	viffRegister    = 0x4 // VIFF_REGISTER
	viffUseIfindex  = 0x8 // VIFF_USE_IFINDEX
	miffRegister    = 0x1 // MIFF_REGISTER
	vifctlLen       = 16  // sizeof(struct vifctl)
	mif6ctlLen      = 12  // sizeof(struct mif6ctl)
	maxVIFs         = 32  // MAXVIFS / MAXMIFS
	registerVIF     = 0   // index reserved for the register interface
	rtTableMain     = 254 // RT_TABLE_MAIN
	defaultVIFThres = 1
)

// ErrVIFExhausted indicates every virtual interface index is in use.
var ErrVIFExhausted = errors.New("no free multicast virtual interface")

// encodeVifctl builds struct vifctl. A zero ifindex leaves the local
// address and ifindex union empty.
func encodeVifctl(vifi uint16, flags uint8, ifindex int) []byte {
	b := make([]byte, vifctlLen)
	binary.NativeEndian.PutUint16(b[0:2], vifi)
	b[2] = flags
	b[3] = defaultVIFThres
	// vifc_rate_limit (4:8) stays zero.
	if ifindex > 0 {
		binary.NativeEndian.PutUint32(b[8:12], uint32(ifindex))
	}
	// vifc_rmt_addr (12:16) stays zero.
	return b
}

// encodeMif6ctl builds struct mif6ctl.
func encodeMif6ctl(mifi uint16, flags uint8, ifindex int) []byte {
	b := make([]byte, mif6ctlLen)
	binary.NativeEndian.PutUint16(b[0:2], mifi)
	b[2] = flags
	b[3] = defaultVIFThres
	binary.NativeEndian.PutUint16(b[4:6], uint16(ifindex))
	// two bytes of padding, then vifc_rate_limit (8:12) stays zero.
	return b
}

// encodeMifi builds the mifi_t argument of MRT6_DEL_MIF.
func encodeMifi(mifi uint16) []byte {
	b := make([]byte, 2)
	binary.NativeEndian.PutUint16(b, mifi)
	return b
}

// vifTable allocates virtual interface indexes. Index 0 belongs to the
// register interface.
type vifTable struct {
	byIfindex map[int]uint16
	used      [maxVIFs]bool
}

func newVIFTable() *vifTable {
	return &vifTable{byIfindex: make(map[int]uint16)}
}

// alloc returns the index for ifindex, allocating the lowest free one.
func (t *vifTable) alloc(ifindex int) (uint16, error) {
	if vifi, ok := t.byIfindex[ifindex]; ok {
		return vifi, nil
	}
	for i := registerVIF + 1; i < maxVIFs; i++ {
		if !t.used[i] {
			t.used[i] = true
			t.byIfindex[ifindex] = uint16(i)
			return uint16(i), nil
		}
	}
	return 0, fmt.Errorf("ifindex %d: %w", ifindex, ErrVIFExhausted)
}

// release frees the index of ifindex.
func (t *vifTable) release(ifindex int) (uint16, bool) {
	vifi, ok := t.byIfindex[ifindex]
	if !ok {
		return 0, false
	}
	delete(t.byIfindex, ifindex)
	t.used[vifi] = false
	return vifi, true
}
