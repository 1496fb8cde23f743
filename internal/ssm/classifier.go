// Package ssm decides whether a multicast group is Source-Specific (SSM) or
// Any-Source (ASM) and triggers reevaluation of established multicast state
// when that decision may have changed.
package ssm

import (
	"net/netip"
	"strings"

	"github.com/dantte-lp/gopimd/internal/filter"
)

// FilterLookup resolves prefix lists by family and name.
// *filter.Registry satisfies it.
type FilterLookup interface {
	Lookup(afi filter.AFI, name string) (*filter.PrefixList, bool)
}

// Hooks connects a Classifier to its owning instance.
type Hooks interface {
	// Active reports whether the owning instance is currently Active.
	Active() bool

	// Reevaluate rechecks register state of established any-source flows
	// and source-forwarding state of group memberships.
	Reevaluate()
}

// Classifier holds the optional SSM range prefix list of one instance.
type Classifier struct {
	afi       filter.AFI
	rangeName string
	filters   FilterLookup
	hooks     Hooks
}

// NewClassifier creates a classifier with no range configured, which
// classifies using the well-known SSM range of afi.
func NewClassifier(afi filter.AFI, filters FilterLookup, hooks Hooks) *Classifier {
	return &Classifier{
		afi:     afi,
		filters: filters,
		hooks:   hooks,
	}
}

// Classify reports whether group is an SSM group.
//
// Without a configured range the well-known SSM range is used. With a
// range configured, a missing prefix list denies and otherwise the list
// decides in address mode.
func (c *Classifier) Classify(group netip.Addr) bool {
	if c.rangeName == "" {
		return IsStandardSSM(group)
	}

	if c.filters == nil {
		return false
	}
	pl, ok := c.filters.Lookup(c.afi, c.rangeName)
	if !ok {
		return false
	}
	return pl.ApplyAddr(group) == filter.Permit
}

// SetRange replaces the SSM range prefix list name. An empty name reverts
// to the well-known range. An Active owner is reevaluated.
func (c *Classifier) SetRange(name string) {
	c.rangeName = strings.Clone(name)

	if c.hooks.Active() {
		c.hooks.Reevaluate()
	}
}

// Range returns the configured prefix list name, if any.
func (c *Classifier) Range() (string, bool) {
	return c.rangeName, c.rangeName != ""
}

// OnFilterChanged handles a prefix list change notification. Only a change
// to the configured range list of the same family, on an Active owner,
// triggers reevaluation. It reports whether reevaluation ran.
func (c *Classifier) OnFilterChanged(afi filter.AFI, name string) bool {
	if c.rangeName == "" || afi != c.afi || name != c.rangeName {
		return false
	}
	if !c.hooks.Active() {
		return false
	}

	c.hooks.Reevaluate()
	return true
}

// Reset drops the configured range without triggering reevaluation.
// It is used when the owning instance is terminated.
func (c *Classifier) Reset() {
	c.rangeName = ""
}
