package filter

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"

	"go4.org/netipx"
)

// -------------------------------------------------------------------------
// Address Family & Action
// -------------------------------------------------------------------------

// AFI is the address family a prefix list applies to.
type AFI uint8

const (
	// AFIIPv4 selects IPv4 prefix lists ("ip prefix-list").
	AFIIPv4 AFI = iota + 1

	// AFIIPv6 selects IPv6 prefix lists ("ipv6 prefix-list").
	AFIIPv6
)

// String returns the human-readable name of the address family.
func (a AFI) String() string {
	switch a {
	case AFIIPv4:
		return "ipv4"
	case AFIIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// maxBits returns the address length of the family in bits.
func (a AFI) maxBits() int {
	if a == AFIIPv6 {
		return 128
	}
	return 32
}

// matches reports whether addr belongs to the family.
func (a AFI) matches(addr netip.Addr) bool {
	switch a {
	case AFIIPv4:
		return addr.Is4()
	case AFIIPv6:
		return addr.Is6() && !addr.Is4In6()
	default:
		return false
	}
}

// Action is the decision of a prefix list rule.
type Action uint8

const (
	// Deny rejects the matched address. It is also the implicit result
	// when no rule matches.
	Deny Action = iota

	// Permit accepts the matched address.
	Permit
)

// String returns "permit" or "deny".
func (a Action) String() string {
	if a == Permit {
		return "permit"
	}
	return "deny"
}

// ParseAction maps "permit"/"deny" to an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "permit":
		return Permit, nil
	case "deny":
		return Deny, nil
	default:
		return Deny, fmt.Errorf("action %q: %w", s, ErrInvalidAction)
	}
}

// -------------------------------------------------------------------------
// Errors
// -------------------------------------------------------------------------

// Sentinel errors for prefix list construction.
var (
	// ErrEmptyName indicates a prefix list was created without a name.
	ErrEmptyName = errors.New("prefix list name must not be empty")

	// ErrInvalidAFI indicates an unknown address family.
	ErrInvalidAFI = errors.New("invalid address family")

	// ErrInvalidAction indicates an action string other than permit/deny.
	ErrInvalidAction = errors.New("action must be permit or deny")

	// ErrFamilyMismatch indicates a rule prefix of the wrong address family.
	ErrFamilyMismatch = errors.New("rule prefix does not match list address family")

	// ErrInvalidLength indicates ge/le bounds that violate len < ge <= le <= max.
	ErrInvalidLength = errors.New("invalid ge/le prefix length bounds")

	// ErrDuplicateSeq indicates two rules share a sequence number.
	ErrDuplicateSeq = errors.New("duplicate rule sequence number")
)

// seqStep is the increment used when a rule has no explicit sequence number.
const seqStep = 5

// -------------------------------------------------------------------------
// Rule & PrefixList
// -------------------------------------------------------------------------

// Rule is a single prefix list entry.
type Rule struct {
	// Seq orders rules within the list. Zero means "previous + 5".
	Seq uint32

	// Action is the decision returned when the rule matches.
	Action Action

	// Prefix is the network the rule matches against.
	Prefix netip.Prefix

	// GE and LE bound the matched prefix length in prefix mode.
	// Zero means unset.
	GE uint8
	LE uint8
}

// PrefixList is an immutable, compiled prefix list. Updates are made by
// building a new list and replacing it in the Registry.
type PrefixList struct {
	name  string
	afi   AFI
	rules []Rule

	// permitted holds every address accepted in address mode. It is
	// compiled once at construction so that group classification is a
	// single set lookup.
	permitted *netipx.IPSet
}

// NewPrefixList validates and compiles a prefix list.
func NewPrefixList(name string, afi AFI, rules []Rule) (*PrefixList, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if afi != AFIIPv4 && afi != AFIIPv6 {
		return nil, fmt.Errorf("prefix list %s: %w", name, ErrInvalidAFI)
	}

	normalized, err := normalizeRules(afi, rules)
	if err != nil {
		return nil, fmt.Errorf("prefix list %s: %w", name, err)
	}

	set, err := compile(normalized)
	if err != nil {
		return nil, fmt.Errorf("compile prefix list %s: %w", name, err)
	}

	return &PrefixList{
		name:      name,
		afi:       afi,
		rules:     normalized,
		permitted: set,
	}, nil
}

// normalizeRules assigns implicit sequence numbers, validates each rule and
// returns the rules sorted by sequence.
func normalizeRules(afi AFI, rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	seen := make(map[uint32]struct{}, len(rules))

	var last uint32
	for i, r := range rules {
		if r.Seq == 0 {
			r.Seq = last + seqStep
		}
		last = max(last, r.Seq)

		if _, dup := seen[r.Seq]; dup {
			return nil, fmt.Errorf("rule %d seq %d: %w", i, r.Seq, ErrDuplicateSeq)
		}
		seen[r.Seq] = struct{}{}

		if err := validateRule(afi, r); err != nil {
			return nil, fmt.Errorf("rule %d seq %d: %w", i, r.Seq, err)
		}

		r.Prefix = r.Prefix.Masked()
		out = append(out, r)
	}

	slices.SortFunc(out, func(a, b Rule) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})

	return out, nil
}

func validateRule(afi AFI, r Rule) error {
	if r.Action != Permit && r.Action != Deny {
		return ErrInvalidAction
	}
	if !r.Prefix.IsValid() || !afi.matches(r.Prefix.Addr()) {
		return fmt.Errorf("prefix %s: %w", r.Prefix, ErrFamilyMismatch)
	}

	bits := r.Prefix.Bits()
	maxLen := afi.maxBits()

	if r.GE != 0 && (int(r.GE) <= bits || int(r.GE) > maxLen) {
		return fmt.Errorf("ge %d for %s: %w", r.GE, r.Prefix, ErrInvalidLength)
	}
	if r.LE != 0 && (int(r.LE) < max(bits, int(r.GE)) || int(r.LE) > maxLen) {
		return fmt.Errorf("le %d for %s: %w", r.LE, r.Prefix, ErrInvalidLength)
	}
	return nil
}

// compile folds the rules into the set of permitted addresses. Rules are
// applied from the lowest priority (last) to the highest (first) so that
// earlier rules override later ones, reproducing first-match semantics.
func compile(rules []Rule) (*netipx.IPSet, error) {
	var sb netipx.IPSetBuilder
	for i := len(rules) - 1; i >= 0; i-- {
		switch rules[i].Action {
		case Permit:
			sb.AddPrefix(rules[i].Prefix)
		case Deny:
			sb.RemovePrefix(rules[i].Prefix)
		}
	}
	return sb.IPSet()
}

// Name returns the prefix list name.
func (pl *PrefixList) Name() string { return pl.name }

// AFI returns the address family of the list.
func (pl *PrefixList) AFI() AFI { return pl.afi }

// Rules returns a copy of the rules in sequence order.
func (pl *PrefixList) Rules() []Rule { return slices.Clone(pl.rules) }

// ApplyAddr evaluates the list in address mode: a rule matches when its
// prefix contains addr, regardless of ge/le. A list without rules permits
// everything; otherwise addresses of another family are denied.
func (pl *PrefixList) ApplyAddr(addr netip.Addr) Action {
	if len(pl.rules) == 0 {
		return Permit
	}
	addr = addr.Unmap()
	if !pl.afi.matches(addr) {
		return Deny
	}
	if pl.permitted.Contains(addr) {
		return Permit
	}
	return Deny
}

// Apply evaluates the list in prefix mode, honouring ge/le bounds. A list
// without rules permits everything.
func (pl *PrefixList) Apply(p netip.Prefix) Action {
	if len(pl.rules) == 0 {
		return Permit
	}
	if !p.IsValid() || !pl.afi.matches(p.Addr()) {
		return Deny
	}
	for _, r := range pl.rules {
		if r.matchPrefix(p) {
			return r.Action
		}
	}
	return Deny
}

// matchPrefix reports whether p falls inside the rule prefix with a length
// accepted by the ge/le bounds. Without bounds only an exact length match
// is accepted.
func (r Rule) matchPrefix(p netip.Prefix) bool {
	if p.Bits() < r.Prefix.Bits() || !r.Prefix.Contains(p.Addr()) {
		return false
	}

	bits := uint8(p.Bits()) //nolint:gosec // prefix length is at most 128.
	if r.GE == 0 && r.LE == 0 {
		return p.Bits() == r.Prefix.Bits()
	}
	if r.GE != 0 && bits < r.GE {
		return false
	}
	if r.LE != 0 && bits > r.LE {
		return false
	}
	return true
}

// Equal reports whether two lists have the same name, family and rules.
func (pl *PrefixList) Equal(other *PrefixList) bool {
	if pl == nil || other == nil {
		return pl == other
	}
	return pl.name == other.name && pl.afi == other.afi && slices.Equal(pl.rules, other.rules)
}
