package ssmping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
)

// Sentinel errors for Set operations.
var (
	// ErrExists indicates a responder already exists for the source.
	ErrExists = errors.New("ssmpingd source already configured")

	// ErrNotFound indicates no responder exists for the source.
	ErrNotFound = errors.New("ssmpingd source not configured")
)

// Set is the ordered collection of responders owned by one instance.
// Responders are kept in configuration order.
type Set struct {
	sockets []*Socket
	opts    []Option
	logger  *slog.Logger
}

// NewSet creates an empty set. opts apply to every responder added.
func NewSet(logger *slog.Logger, opts ...Option) *Set {
	return &Set{
		opts:   opts,
		logger: logger,
	}
}

// Add configures a stopped responder for source.
func (s *Set) Add(source netip.Addr) (*Socket, error) {
	source = source.Unmap()
	if _, ok := s.Lookup(source); ok {
		return nil, fmt.Errorf("add ssmpingd %s: %w", source, ErrExists)
	}

	sock, err := NewSocket(source, s.logger, s.opts...)
	if err != nil {
		return nil, err
	}
	s.sockets = append(s.sockets, sock)
	return sock, nil
}

// Remove stops and deletes the responder for source.
func (s *Set) Remove(source netip.Addr) error {
	source = source.Unmap()
	i := slices.IndexFunc(s.sockets, func(sock *Socket) bool { return sock.source == source })
	if i < 0 {
		return fmt.Errorf("remove ssmpingd %s: %w", source, ErrNotFound)
	}

	s.sockets[i].Stop()
	s.sockets = slices.Delete(s.sockets, i, i+1)
	return nil
}

// Lookup returns the responder for source.
func (s *Set) Lookup(source netip.Addr) (*Socket, bool) {
	source = source.Unmap()
	for _, sock := range s.sockets {
		if sock.source == source {
			return sock, true
		}
	}
	return nil, false
}

// StartAll starts every responder. A responder that fails to start is
// reported in the joined error; the others still start.
func (s *Set) StartAll(ctx context.Context) error {
	var errs error
	for _, sock := range s.sockets {
		if err := sock.Start(ctx); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// StopAll stops every responder.
func (s *Set) StopAll() {
	for _, sock := range s.sockets {
		sock.Stop()
	}
}

// Destroy stops and deletes every responder.
func (s *Set) Destroy() {
	s.StopAll()
	s.sockets = nil
}

// Sockets returns the responders in configuration order.
func (s *Set) Sockets() []*Socket { return slices.Clone(s.sockets) }

// Len returns the number of configured responders.
func (s *Set) Len() int { return len(s.sockets) }
