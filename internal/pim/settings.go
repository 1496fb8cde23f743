package pim

import (
	"errors"
	"fmt"
	"time"

	"github.com/dantte-lp/gopimd/internal/msdp"
)

// -------------------------------------------------------------------------
// Protocol defaults
// -------------------------------------------------------------------------

const (
	// DefaultKeepAlive is the (S,G) keepalive period.
	DefaultKeepAlive = 210 * time.Second

	// DefaultRPKeepAlive is the keepalive period of (S,G) state at the RP.
	DefaultRPKeepAlive = 185 * time.Second

	// maxTimer bounds every configurable timer.
	maxTimer = 65535 * time.Second
)

// ErrInvalidSettings indicates an out-of-range instance setting.
var ErrInvalidSettings = errors.New("invalid instance settings")

// SPTMode selects when last-hop routers switch to the shortest path tree.
type SPTMode uint8

const (
	// SPTImmediate switches on the first packet.
	SPTImmediate SPTMode = iota

	// SPTInfinity never switches, optionally only for groups permitted by
	// a prefix list.
	SPTInfinity
)

// String returns the configuration keyword of the mode.
func (m SPTMode) String() string {
	switch m {
	case SPTImmediate:
		return "immediate"
	case SPTInfinity:
		return "infinity-and-beyond"
	default:
		return "unknown"
	}
}

// ParseSPTMode parses the configuration keyword of a mode.
func ParseSPTMode(s string) (SPTMode, error) {
	switch s {
	case "", "immediate":
		return SPTImmediate, nil
	case "infinity", "infinity-and-beyond":
		return SPTInfinity, nil
	default:
		return 0, fmt.Errorf("spt switchover mode %q: %w", s, ErrInvalidSettings)
	}
}

// SPTSwitchover configures shortest path tree switchover.
type SPTSwitchover struct {
	Mode SPTMode

	// PrefixList restricts SPTInfinity to the groups it permits.
	PrefixList string
}

// Settings holds the administrative parameters of an instance.
type Settings struct {
	KeepAlive   time.Duration
	RPKeepAlive time.Duration

	MSDP msdp.Timers
	SPT  SPTSwitchover

	// RegisterAcceptList names the prefix list of sources whose register
	// messages are accepted.
	RegisterAcceptList string

	ECMP          bool
	ECMPRebalance bool

	// SendV6Secondary advertises IPv6 secondary addresses in hellos.
	SendV6Secondary bool
}

// DefaultSettings returns the protocol default settings.
func DefaultSettings() Settings {
	return Settings{
		KeepAlive:       DefaultKeepAlive,
		RPKeepAlive:     DefaultRPKeepAlive,
		MSDP:            msdp.DefaultTimers(),
		SPT:             SPTSwitchover{Mode: SPTImmediate},
		SendV6Secondary: true,
	}
}

// Validate checks timer ranges.
func (s Settings) Validate() error {
	timers := []struct {
		name string
		d    time.Duration
	}{
		{"keep-alive-timer", s.KeepAlive},
		{"rp keep-alive-timer", s.RPKeepAlive},
		{"msdp hold-time", s.MSDP.HoldTime},
		{"msdp keep-alive", s.MSDP.KeepAlive},
		{"msdp connection-retry", s.MSDP.ConnectRetry},
	}
	for _, t := range timers {
		if t.d < time.Second || t.d > maxTimer {
			return fmt.Errorf("%s %s out of range [1s, %s]: %w", t.name, t.d, maxTimer, ErrInvalidSettings)
		}
	}

	if s.MSDP.HoldTime <= s.MSDP.KeepAlive {
		return fmt.Errorf("msdp hold-time %s must exceed keep-alive %s: %w",
			s.MSDP.HoldTime, s.MSDP.KeepAlive, ErrInvalidSettings)
	}
	if s.ECMPRebalance && !s.ECMP {
		return fmt.Errorf("ecmp rebalance requires ecmp: %w", ErrInvalidSettings)
	}
	if s.SPT.PrefixList != "" && s.SPT.Mode != SPTInfinity {
		return fmt.Errorf("spt switchover prefix-list requires infinity mode: %w", ErrInvalidSettings)
	}
	return nil
}
