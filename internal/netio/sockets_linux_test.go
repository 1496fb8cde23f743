//go:build linux

package netio_test

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/dantte-lp/gopimd/internal/netio"
)

func TestVRFSocketsShareMSDPPort(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	first, err := netio.NewVRFSockets(netio.WithMSDPPort(0)).MSDPListen("")(ctx)
	if err != nil {
		t.Fatalf("first listener: %v", err)
	}
	defer first.Close()

	port := first.Addr().(*net.TCPAddr).AddrPort().Port()
	sockets := netio.NewVRFSockets(netio.WithMSDPPort(port))

	second, err := sockets.MSDPListen("")(ctx)
	if err != nil {
		t.Fatalf("second listener on port %d: %v", port, err)
	}
	defer second.Close()

	loopback := netip.MustParseAddr("127.0.0.1")
	conn, err := sockets.MSDPDial("")(ctx, loopback, loopback)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()
}

func TestVRFSocketsSSMPingListen(t *testing.T) {
	t.Parallel()

	listen := netio.NewVRFSockets().SSMPingListen("")
	pc, err := listen(context.Background(), netip.MustParseAddrPort("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()

	if got := pc.LocalAddr().(*net.UDPAddr).AddrPort().Addr(); got != netip.MustParseAddr("127.0.0.1") {
		t.Errorf("local address = %s, want 127.0.0.1", got)
	}
}

func TestVRFSocketsUnknownDevice(t *testing.T) {
	t.Parallel()

	listen := netio.NewVRFSockets(netio.WithMSDPPort(0)).MSDPListen("pimd-no-such-vrf")
	if ln, err := listen(context.Background()); err == nil {
		ln.Close()
		t.Fatal("listen in a missing vrf succeeded, want error")
	}
}
