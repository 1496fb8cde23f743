//go:build !linux

package netio

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/dantte-lp/gopimd/internal/filter"
	"github.com/dantte-lp/gopimd/internal/pim"
)

// ErrUnsupportedPlatform indicates kernel multicast routing is unavailable.
var ErrUnsupportedPlatform = errors.New("multicast routing requires linux")

// Dataplane fails every acquisition outside Linux.
type Dataplane struct{}

// NewDataplane returns a Dataplane whose acquisitions fail.
func NewDataplane(filter.AFI, *slog.Logger) *Dataplane { return &Dataplane{} }

// OpenRegisterSocket returns ErrUnsupportedPlatform.
func (*Dataplane) OpenRegisterSocket(context.Context, pim.VRF) (io.Closer, error) {
	return nil, ErrUnsupportedPlatform
}

// OpenMrouteSocket returns ErrUnsupportedPlatform.
func (*Dataplane) OpenMrouteSocket(context.Context, pim.VRF) (pim.MrouteSocket, error) {
	return nil, ErrUnsupportedPlatform
}

// Interfaces returns ErrUnsupportedPlatform.
func (*Dataplane) Interfaces(pim.VRF) ([]pim.Interface, error) {
	return nil, ErrUnsupportedPlatform
}

// NewVRFMonitor returns a monitor reporting only the default VRF.
func NewVRFMonitor(defaultName string, logger *slog.Logger) *StubVRFMonitor {
	return NewStubVRFMonitor(defaultName, logger)
}
