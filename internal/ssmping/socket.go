// Package ssmping implements ssmpingd responder sockets.
//
// An ssmpingd socket listens on UDP port 4321 of a configured source
// address. Every request ('Q') is answered with a reply ('A') sent both
// unicast to the requester and to the well-known ssmping SSM group, which
// lets a receiver verify SSM reachability of the source.
package ssmping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// -------------------------------------------------------------------------
// Protocol Constants
// -------------------------------------------------------------------------

const (
	// Port is the ssmpingd UDP port.
	Port = 4321

	// msgRequest and msgReply are the first byte of a request and reply.
	msgRequest = 'Q'
	msgReply   = 'A'

	// replyTTL is the multicast TTL / hop limit of replies.
	replyTTL = 64

	// maxMessage bounds the size of a request.
	maxMessage = 1000
)

var (
	// GroupIPv4 is the IPv4 ssmping reply group.
	GroupIPv4 = netip.MustParseAddr("232.43.211.234")

	// GroupIPv6 is the IPv6 ssmping reply group.
	GroupIPv6 = netip.MustParseAddr("ff3e::4321:1234")
)

// ErrInvalidSource indicates a source address that is not a valid unicast
// address.
var ErrInvalidSource = errors.New("ssmpingd source must be a valid unicast address")

// -------------------------------------------------------------------------
// Socket
// -------------------------------------------------------------------------

// ListenFunc opens the packet socket of a responder.
type ListenFunc func(ctx context.Context, laddr netip.AddrPort) (net.PacketConn, error)

// listenUDP is the default ListenFunc.
func listenUDP(ctx context.Context, laddr netip.AddrPort) (net.PacketConn, error) {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", laddr, err)
	}
	return pc, nil
}

// Option configures a Socket.
type Option func(*Socket)

// WithPort overrides the listening port. Port 0 selects an ephemeral port.
func WithPort(port uint16) Option {
	return func(s *Socket) { s.port = port }
}

// WithListenFunc overrides how the packet socket is opened.
func WithListenFunc(fn ListenFunc) Option {
	return func(s *Socket) {
		if fn != nil {
			s.listen = fn
		}
	}
}

// Socket is one ssmpingd responder bound to a source address.
//
// Start and Stop are called from the daemon's event loop. The read
// goroutine only touches the socket and the request counter.
type Socket struct {
	source  netip.Addr
	port    uint16
	listen  ListenFunc
	created time.Time
	logger  *slog.Logger

	requests atomic.Int64

	conn net.PacketConn
	done chan struct{}
}

// NewSocket creates a stopped responder for source.
func NewSocket(source netip.Addr, logger *slog.Logger, opts ...Option) (*Socket, error) {
	source = source.Unmap()
	if !source.IsValid() || source.IsMulticast() || source.IsUnspecified() {
		return nil, fmt.Errorf("ssmpingd %s: %w", source, ErrInvalidSource)
	}

	s := &Socket{
		source:  source,
		port:    Port,
		listen:  listenUDP,
		created: time.Now(),
		logger: logger.With(
			slog.String("component", "ssmpingd"),
			slog.String("source", source.String()),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Source returns the configured source address.
func (s *Socket) Source() netip.Addr { return s.source }

// Created returns when the responder was configured.
func (s *Socket) Created() time.Time { return s.created }

// Requests returns the number of requests answered.
func (s *Socket) Requests() int64 { return s.requests.Load() }

// Running reports whether the responder socket is open.
func (s *Socket) Running() bool { return s.conn != nil }

// LocalAddr returns the bound socket address, or nil when stopped.
func (s *Socket) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// group returns the reply group for the source family.
func (s *Socket) group() netip.Addr {
	if s.source.Is4() {
		return GroupIPv4
	}
	return GroupIPv6
}

// Start opens the socket and starts answering requests. Starting a running
// responder is a no-op.
func (s *Socket) Start(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}

	conn, err := s.listen(ctx, netip.AddrPortFrom(s.source, s.port))
	if err != nil {
		return fmt.Errorf("start ssmpingd %s: %w", s.source, err)
	}
	s.configureMulticast(conn)

	s.conn = conn
	s.done = make(chan struct{})
	go s.serve(conn, s.done)

	s.logger.Info("ssmpingd started", slog.String("addr", conn.LocalAddr().String()))
	return nil
}

// configureMulticast sets the hop limit of group replies and disables
// loopback. Failures only affect the multicast copy, so they are logged.
func (s *Socket) configureMulticast(conn net.PacketConn) {
	var err error
	if s.source.Is4() {
		p := ipv4.NewPacketConn(conn)
		err = errors.Join(p.SetMulticastTTL(replyTTL), p.SetMulticastLoopback(false))
	} else {
		p := ipv6.NewPacketConn(conn)
		err = errors.Join(p.SetMulticastHopLimit(replyTTL), p.SetMulticastLoopback(false))
	}
	if err != nil {
		s.logger.Warn("failed to set multicast socket options",
			slog.String("error", err.Error()),
		)
	}
}

// Stop closes the socket and waits for the read goroutine to exit. After
// Stop returns no callback of this responder is running.
func (s *Socket) Stop() {
	if s.conn == nil {
		return
	}

	if err := s.conn.Close(); err != nil {
		s.logger.Warn("failed to close ssmpingd socket",
			slog.String("error", err.Error()),
		)
	}
	<-s.done

	s.conn = nil
	s.done = nil
	s.logger.Info("ssmpingd stopped", slog.Int64("requests", s.requests.Load()))
}

// serve answers requests until the socket is closed.
func (s *Socket) serve(conn net.PacketConn, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, maxMessage)
	group := net.UDPAddrFromAddrPort(netip.AddrPortFrom(s.group(), Port))

	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("ssmpingd read failed", slog.String("error", err.Error()))
			continue
		}

		if n == 0 || buf[0] != msgRequest {
			s.logger.Debug("ignoring non-request packet",
				slog.String("from", from.String()),
				slog.Int("len", n),
			)
			continue
		}

		s.requests.Add(1)
		buf[0] = msgReply

		if _, err := conn.WriteTo(buf[:n], from); err != nil {
			s.logger.Debug("ssmpingd unicast reply failed",
				slog.String("to", from.String()),
				slog.String("error", err.Error()),
			)
		}
		if _, err := conn.WriteTo(buf[:n], group); err != nil {
			s.logger.Debug("ssmpingd group reply failed",
				slog.String("to", group.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}
