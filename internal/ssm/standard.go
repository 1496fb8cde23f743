package ssm

import "net/netip"

// StandardRangeIPv4 is the IPv4 SSM range (RFC 4607).
var StandardRangeIPv4 = netip.MustParsePrefix("232.0.0.0/8")

// IsStandardSSM reports whether addr lies in the well-known SSM range:
// 232.0.0.0/8 for IPv4, FF3x:0000::/32 (any scope) for IPv6.
func IsStandardSSM(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.Is4() {
		return StandardRangeIPv4.Contains(addr)
	}
	if !addr.Is6() {
		return false
	}

	b := addr.As16()
	return b[0] == 0xff && b[1]&0xf0 == 0x30 && b[2] == 0 && b[3] == 0
}
