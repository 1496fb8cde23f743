package msdp

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync/atomic"
	"time"
)

// -------------------------------------------------------------------------
// Peer State
// -------------------------------------------------------------------------

// PeerState is the connection state of a peering.
type PeerState int32

const (
	// StateInactive means the peering is configured but not running.
	StateInactive PeerState = iota

	// StateListen means the peering waits for the remote end to connect.
	StateListen

	// StateConnecting means the peering is dialing the remote end.
	StateConnecting

	// StateEstablished means the session is up.
	StateEstablished
)

// String returns the display name of the state.
func (s PeerState) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateListen:
		return "listen"
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	default:
		return "unknown"
	}
}

// -------------------------------------------------------------------------
// Peer
// -------------------------------------------------------------------------

// Peer is one configured MSDP peering.
//
// The configuration fields are immutable. Counters and state are updated
// by the session goroutine and read by anyone.
type Peer struct {
	addr  netip.Addr
	local netip.Addr

	state          atomic.Int32
	establishments atomic.Uint64
	keepalivesSent atomic.Uint64
	keepalivesRecv atomic.Uint64
	messagesRecv   atomic.Uint64
	upSince        atomic.Int64

	// accepted hands inbound connections from the listener to the session
	// goroutine of a listening peer.
	accepted chan net.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

func newPeer(addr, local netip.Addr) *Peer {
	return &Peer{
		addr:     addr,
		local:    local,
		accepted: make(chan net.Conn, 1),
	}
}

// Addr returns the remote address.
func (p *Peer) Addr() netip.Addr { return p.addr }

// Local returns the local source address.
func (p *Peer) Local() netip.Addr { return p.local }

// Listener reports whether this end waits for the remote to connect.
// The endpoint with the higher address listens.
func (p *Peer) Listener() bool { return p.local.Compare(p.addr) > 0 }

// State returns the current connection state.
func (p *Peer) State() PeerState { return PeerState(p.state.Load()) }

// Establishments returns how many times the session came up.
func (p *Peer) Establishments() uint64 { return p.establishments.Load() }

// KeepalivesSent returns the number of keepalives written.
func (p *Peer) KeepalivesSent() uint64 { return p.keepalivesSent.Load() }

// KeepalivesReceived returns the number of keepalives read.
func (p *Peer) KeepalivesReceived() uint64 { return p.keepalivesRecv.Load() }

// MessagesReceived returns the number of messages of any type read.
func (p *Peer) MessagesReceived() uint64 { return p.messagesRecv.Load() }

// Uptime returns how long the current session has been established.
func (p *Peer) Uptime() time.Duration {
	since := p.upSince.Load()
	if since == 0 || p.State() != StateEstablished {
		return 0
	}
	return time.Since(time.Unix(0, since))
}

func (p *Peer) setState(s PeerState) { p.state.Store(int32(s)) }

func (p *Peer) running() bool { return p.done != nil }

// logAttrs returns the attributes identifying the peering in log records.
func (p *Peer) logAttrs() slog.Attr {
	return slog.Group("peer",
		slog.String("addr", p.addr.String()),
		slog.String("local", p.local.String()),
	)
}
