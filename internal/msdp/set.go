package msdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Port is the MSDP TCP port.
const Port = 639

// Sentinel errors for Set operations.
var (
	// ErrPeerExists indicates the peer address is already configured.
	ErrPeerExists = errors.New("msdp peer already configured")

	// ErrPeerNotFound indicates the peer address is not configured.
	ErrPeerNotFound = errors.New("msdp peer not configured")

	// ErrInvalidPeer indicates an unusable peer or source address.
	ErrInvalidPeer = errors.New("invalid msdp peer")
)

// -------------------------------------------------------------------------
// Configuration
// -------------------------------------------------------------------------

// Timers holds the MSDP session timers.
type Timers struct {
	// HoldTime tears down a session that received nothing for this long.
	HoldTime time.Duration

	// KeepAlive is the keepalive transmission interval.
	KeepAlive time.Duration

	// ConnectRetry is the wait between connection attempts.
	ConnectRetry time.Duration
}

// DefaultTimers returns the RFC 3618 timer values.
func DefaultTimers() Timers {
	return Timers{
		HoldTime:     75 * time.Second,
		KeepAlive:    60 * time.Second,
		ConnectRetry: 30 * time.Second,
	}
}

// DialFunc opens the connection of an active peering.
type DialFunc func(ctx context.Context, local, remote netip.Addr) (net.Conn, error)

// ListenFunc opens the listener shared by passive peerings.
type ListenFunc func(ctx context.Context) (net.Listener, error)

func dialTCP(ctx context.Context, local, remote netip.Addr) (net.Conn, error) {
	d := net.Dialer{LocalAddr: net.TCPAddrFromAddrPort(netip.AddrPortFrom(local, 0))}
	return d.DialContext(ctx, "tcp", netip.AddrPortFrom(remote, Port).String())
}

func listenTCP(ctx context.Context) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", Port))
}

// Option configures a Set.
type Option func(*Set)

// WithDialFunc overrides how active peerings connect.
func WithDialFunc(fn DialFunc) Option {
	return func(s *Set) {
		if fn != nil {
			s.dial = fn
		}
	}
}

// WithListenFunc overrides how the passive listener is opened.
func WithListenFunc(fn ListenFunc) Option {
	return func(s *Set) {
		if fn != nil {
			s.listen = fn
		}
	}
}

// -------------------------------------------------------------------------
// Set
// -------------------------------------------------------------------------

// Set is the collection of MSDP peerings owned by one instance.
//
// Configuration methods, Start and Stop are called from the daemon's event
// loop. mu guards the peer map against the accept goroutine.
type Set struct {
	dial   DialFunc
	listen ListenFunc
	logger *slog.Logger

	mu     sync.Mutex
	timers Timers
	peers  map[netip.Addr]*Peer

	// Non-nil while running.
	ctx      context.Context
	cancel   context.CancelFunc
	ln       net.Listener
	acceptWG sync.WaitGroup
}

// NewSet creates a stopped, empty peer set.
func NewSet(timers Timers, logger *slog.Logger, opts ...Option) *Set {
	s := &Set{
		dial:   dialTCP,
		listen: listenTCP,
		logger: logger.With(slog.String("component", "msdp")),
		timers: timers,
		peers:  make(map[netip.Addr]*Peer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timers returns the session timers.
func (s *Set) Timers() Timers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers
}

// SetTimers replaces the session timers. Sessions pick up new values
// when they next (re)connect.
func (s *Set) SetTimers(t Timers) {
	s.mu.Lock()
	s.timers = t
	s.mu.Unlock()
}

// AddPeer configures a peering with remote from local. When the set is
// running the peering starts immediately.
func (s *Set) AddPeer(ctx context.Context, remote, local netip.Addr) (*Peer, error) {
	remote, local = remote.Unmap(), local.Unmap()
	if !remote.IsValid() || !local.IsValid() || remote == local ||
		remote.Is4() != local.Is4() || remote.IsMulticast() {
		return nil, fmt.Errorf("peer %s source %s: %w", remote, local, ErrInvalidPeer)
	}

	s.mu.Lock()
	if _, ok := s.peers[remote]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("add peer %s: %w", remote, ErrPeerExists)
	}
	p := newPeer(remote, local)
	s.peers[remote] = p
	s.mu.Unlock()

	if s.ctx != nil {
		if err := s.startPeer(ctx, p); err != nil {
			return p, err
		}
	}
	return p, nil
}

// RemovePeer stops and deletes the peering with remote.
func (s *Set) RemovePeer(remote netip.Addr) error {
	remote = remote.Unmap()

	s.mu.Lock()
	p, ok := s.peers[remote]
	delete(s.peers, remote)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("remove peer %s: %w", remote, ErrPeerNotFound)
	}
	stopPeer(p)

	if p.Listener() && !s.hasListenerPeer() {
		s.closeListener()
	}
	return nil
}

// hasListenerPeer reports whether any peering waits for inbound sessions.
func (s *Set) hasListenerPeer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		if p.Listener() {
			return true
		}
	}
	return false
}

// Lookup returns the peering with remote.
func (s *Set) Lookup(remote netip.Addr) (*Peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[remote.Unmap()]
	return p, ok
}

// Peers returns the peerings ordered by remote address.
func (s *Set) Peers() []*Peer {
	s.mu.Lock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b *Peer) int { return a.addr.Compare(b.addr) })
	return out
}

// Len returns the number of configured peerings.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Running reports whether Start has been called without a matching Stop.
func (s *Set) Running() bool { return s.ctx != nil }

// ListenAddr returns the passive listener address, or nil when none is
// open.
func (s *Set) ListenAddr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start runs every configured peering. Starting a running set is a no-op.
func (s *Set) Start(ctx context.Context) error {
	if s.ctx != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	var errs error
	for _, p := range s.Peers() {
		errs = errors.Join(errs, s.startPeer(ctx, p))
	}
	return errs
}

// Stop tears down every session and waits for all peer goroutines to exit.
func (s *Set) Stop() {
	if s.ctx == nil {
		return
	}
	s.cancel()
	s.closeListener()

	for _, p := range s.Peers() {
		stopPeer(p)
	}
	s.ctx, s.cancel = nil, nil
}

// Destroy stops the set and deletes every peering.
func (s *Set) Destroy() {
	s.Stop()
	s.mu.Lock()
	clear(s.peers)
	s.mu.Unlock()
}

// -------------------------------------------------------------------------
// Session management
// -------------------------------------------------------------------------

func (s *Set) startPeer(ctx context.Context, p *Peer) error {
	if p.running() {
		return nil
	}
	if p.Listener() {
		if err := s.ensureListener(ctx); err != nil {
			return err
		}
	}

	pctx, cancel := context.WithCancel(s.ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go s.runPeer(pctx, p)
	return nil
}

func stopPeer(p *Peer) {
	if !p.running() {
		return
	}
	p.cancel()
	<-p.done
	p.cancel, p.done = nil, nil
	p.setState(StateInactive)

	select {
	case conn := <-p.accepted:
		_ = conn.Close()
	default:
	}
}

// closeListener closes the passive listener and waits for its accept loop.
func (s *Set) closeListener() {
	if s.ln == nil {
		return
	}
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("failed to close msdp listener", slog.String("error", err.Error()))
	}
	s.acceptWG.Wait()
	s.ln = nil
}

func (s *Set) ensureListener(ctx context.Context) error {
	if s.ln != nil {
		return nil
	}
	ln, err := s.listen(ctx)
	if err != nil {
		return fmt.Errorf("open msdp listener: %w", err)
	}
	s.ln = ln
	s.acceptWG.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// acceptLoop hands inbound connections to the matching listening peer.
func (s *Set) acceptLoop(ln net.Listener) {
	defer s.acceptWG.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Debug("msdp accept failed", slog.String("error", err.Error()))
			continue
		}

		remote := addrOf(conn.RemoteAddr())
		p, ok := s.Lookup(remote)
		if !ok || !p.Listener() {
			s.logger.Info("rejecting connection from unconfigured msdp peer",
				slog.String("remote", remote.String()),
			)
			_ = conn.Close()
			continue
		}

		select {
		case p.accepted <- conn:
		default:
			_ = conn.Close()
		}
	}
}

func addrOf(a net.Addr) netip.Addr {
	if tcp, ok := a.(*net.TCPAddr); ok {
		return tcp.AddrPort().Addr().Unmap()
	}
	return netip.Addr{}
}

// runPeer keeps one peering connected until ctx is cancelled.
func (s *Set) runPeer(ctx context.Context, p *Peer) {
	defer close(p.done)

	for {
		conn, ok := s.connect(ctx, p)
		if !ok {
			return
		}

		err := s.session(ctx, p, conn)
		p.setState(StateInactive)
		if ctx.Err() != nil {
			return
		}
		s.logger.Info("msdp session down", p.logAttrs(), slog.String("reason", err.Error()))

		if !p.Listener() && !s.waitRetry(ctx) {
			return
		}
	}
}

// connect obtains a session connection for p, dialing or waiting for the
// listener as the role requires. It returns false when ctx is cancelled.
func (s *Set) connect(ctx context.Context, p *Peer) (net.Conn, bool) {
	for {
		if p.Listener() {
			p.setState(StateListen)
			select {
			case <-ctx.Done():
				return nil, false
			case conn := <-p.accepted:
				return conn, true
			}
		}

		p.setState(StateConnecting)
		conn, err := s.dial(ctx, p.local, p.addr)
		if err == nil {
			return conn, true
		}
		if ctx.Err() != nil {
			return nil, false
		}
		s.logger.Debug("msdp connect failed", p.logAttrs(), slog.String("error", err.Error()))
		if !s.waitRetry(ctx) {
			return nil, false
		}
	}
}

func (s *Set) waitRetry(ctx context.Context) bool {
	t := time.NewTimer(s.Timers().ConnectRetry)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// session runs an established connection until it fails, the hold timer
// expires, or ctx is cancelled.
func (s *Set) session(ctx context.Context, p *Peer, conn net.Conn) error {
	timers := s.Timers()

	p.setState(StateEstablished)
	p.establishments.Add(1)
	p.upSince.Store(time.Now().UnixNano())
	s.logger.Info("msdp session established", p.logAttrs())

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	g.Go(func() error {
		return s.sendKeepalives(gctx, p, conn, timers.KeepAlive)
	})
	g.Go(func() error {
		return s.receive(p, conn, timers.HoldTime)
	})

	return g.Wait()
}

func (s *Set) sendKeepalives(ctx context.Context, p *Peer, conn net.Conn, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := conn.Write(keepaliveMessage); err != nil {
			return fmt.Errorf("send keepalive: %w", err)
		}
		p.keepalivesSent.Add(1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Set) receive(p *Peer, conn net.Conn, hold time.Duration) error {
	buf := make([]byte, maxMessageLen)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(hold)); err != nil {
			return fmt.Errorf("arm hold timer: %w", err)
		}

		typ, err := readMessage(conn, buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return fmt.Errorf("hold timer expired: %w", err)
			}
			return fmt.Errorf("read message: %w", err)
		}

		p.messagesRecv.Add(1)
		if typ == TypeKeepalive {
			p.keepalivesRecv.Add(1)
		}
	}
}
