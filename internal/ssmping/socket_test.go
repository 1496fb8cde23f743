package ssmping_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/dantte-lp/gopimd/internal/ssmping"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var loopback = netip.MustParseAddr("127.0.0.1")

func TestSocketAnswersRequests(t *testing.T) {
	t.Parallel()

	sock, err := ssmping.NewSocket(loopback, slog.Default(), ssmping.WithPort(0))
	if err != nil {
		t.Fatalf("NewSocket: %v", err)
	}
	if err := sock.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sock.Stop()

	client, err := net.DialUDP("udp", nil, sock.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("Qping")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := client.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("Read reply: %v", err)
	}

	if got := string(buf[:n]); got != "Aping" {
		t.Errorf("reply = %q, want %q", got, "Aping")
	}
	if sock.Requests() != 1 {
		t.Errorf("Requests = %d, want 1", sock.Requests())
	}
}

func TestSocketStopIsSynchronous(t *testing.T) {
	t.Parallel()

	sock, err := ssmping.NewSocket(loopback, slog.Default(), ssmping.WithPort(0))
	if err != nil {
		t.Fatalf("NewSocket: %v", err)
	}

	ctx := context.Background()
	if err := sock.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sock.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	sock.Stop()
	if sock.Running() {
		t.Error("Running after Stop")
	}
	sock.Stop()
}

func TestNewSocketRejectsInvalidSource(t *testing.T) {
	t.Parallel()

	for _, src := range []string{"232.1.1.1", "0.0.0.0", "::"} {
		_, err := ssmping.NewSocket(netip.MustParseAddr(src), slog.Default())
		if !errors.Is(err, ssmping.ErrInvalidSource) {
			t.Errorf("NewSocket(%s) error = %v, want ErrInvalidSource", src, err)
		}
	}
}

// failingListen never opens a socket.
func failingListen(context.Context, netip.AddrPort) (net.PacketConn, error) {
	return nil, errors.New("no sockets today")
}

func TestSetLifecycle(t *testing.T) {
	t.Parallel()

	set := ssmping.NewSet(slog.Default(), ssmping.WithPort(0))
	a := netip.MustParseAddr("127.0.0.1")
	b := netip.MustParseAddr("127.0.0.2")

	if _, err := set.Add(a); err != nil {
		t.Fatalf("Add(a): %v", err)
	}
	if _, err := set.Add(a); !errors.Is(err, ssmping.ErrExists) {
		t.Errorf("duplicate Add error = %v, want ErrExists", err)
	}
	if _, err := set.Add(b); err != nil {
		t.Fatalf("Add(b): %v", err)
	}

	if err := set.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	for _, s := range set.Sockets() {
		if !s.Running() {
			t.Errorf("%s not running after StartAll", s.Source())
		}
	}

	set.StopAll()
	for _, s := range set.Sockets() {
		if s.Running() {
			t.Errorf("%s running after StopAll", s.Source())
		}
	}

	if err := set.Remove(a); err != nil {
		t.Errorf("Remove(a): %v", err)
	}
	if err := set.Remove(a); !errors.Is(err, ssmping.ErrNotFound) {
		t.Errorf("second Remove error = %v, want ErrNotFound", err)
	}

	set.Destroy()
	if set.Len() != 0 {
		t.Errorf("Len after Destroy = %d", set.Len())
	}
}

func TestSetStartAllJoinsErrors(t *testing.T) {
	t.Parallel()

	set := ssmping.NewSet(slog.Default(), ssmping.WithListenFunc(failingListen))
	if _, err := set.Add(loopback); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := set.StartAll(context.Background()); err == nil {
		t.Error("StartAll succeeded with a failing listener")
	}
	if set.Sockets()[0].Running() {
		t.Error("socket running after failed start")
	}
}
