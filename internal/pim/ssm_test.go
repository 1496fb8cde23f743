package pim_test

import (
	"context"
	"log/slog"
	"net/netip"
	"testing"

	"github.com/dantte-lp/gopimd/internal/filter"
	"github.com/dantte-lp/gopimd/internal/pim"
)

func ssmFilter(t *testing.T, name string, rules ...filter.Rule) *filter.PrefixList {
	t.Helper()
	pl, err := filter.NewPrefixList(name, filter.AFIIPv4, rules)
	if err != nil {
		t.Fatalf("NewPrefixList: %v", err)
	}
	return pl
}

func TestSSMRangeCascade(t *testing.T) {
	t.Parallel()

	filters := filter.NewRegistry(slog.Default())
	filters.Set(ssmFilter(t, "FILTER1",
		filter.Rule{Action: filter.Permit, Prefix: netip.MustParsePrefix("239.0.0.0/8")},
	))

	h := newHarness(t, pim.WithFilterSource(filters))
	ctx := context.Background()

	inst, err := h.ctrl.CreateInstance(ctx, "red")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	// Not Active: no cascade.
	inst.SSM().SetRange("FILTER1")
	if h.rec.reevaluations != 0 {
		t.Fatalf("cascade ran on inactive instance")
	}

	up := redVRF
	up.Operational = true
	if err := h.ctrl.VRFCreated(ctx, up); err != nil {
		t.Fatalf("VRFCreated: %v", err)
	}

	group := netip.MustParseAddr("239.1.1.1")
	if !inst.SSM().Classify(group) {
		t.Errorf("Classify(%s) = false, want true", group)
	}

	// Change to an unrelated list: no cascade.
	filters.Set(ssmFilter(t, "OTHER",
		filter.Rule{Action: filter.Permit, Prefix: netip.MustParsePrefix("224.0.0.0/4")},
	))
	if h.rec.reevaluations != 0 {
		t.Errorf("unrelated filter change ran %d cascades, want 0", h.rec.reevaluations)
	}

	// Change to the configured list: exactly one cascade.
	filters.Set(ssmFilter(t, "FILTER1",
		filter.Rule{Action: filter.Deny, Prefix: netip.MustParsePrefix("239.1.0.0/16")},
		filter.Rule{Action: filter.Permit, Prefix: netip.MustParsePrefix("239.0.0.0/8")},
	))
	if h.rec.reevaluations != 1 || h.rec.membership != 1 {
		t.Errorf("cascades = %d/%d, want 1/1", h.rec.reevaluations, h.rec.membership)
	}
	if inst.SSM().Classify(group) {
		t.Errorf("Classify(%s) after filter change = true, want false", group)
	}

	// Clearing the range on an Active instance reevaluates too.
	inst.SSM().SetRange("")
	if h.rec.reevaluations != 2 {
		t.Errorf("cascades after clear = %d, want 2", h.rec.reevaluations)
	}
	if h.metrics.reevaluations != 2 {
		t.Errorf("reported reevaluations = %d, want 2", h.metrics.reevaluations)
	}
}

func TestSSMCascadeSuppressedAfterDisable(t *testing.T) {
	t.Parallel()

	filters := filter.NewRegistry(slog.Default())
	h := newHarness(t, pim.WithFilterSource(filters))
	inst := activeInstance(t, h)
	inst.SSM().SetRange("FILTER1")
	before := h.rec.reevaluations

	h.ctrl.VRFDown(redVRF.ID)
	filters.Set(ssmFilter(t, "FILTER1",
		filter.Rule{Action: filter.Permit, Prefix: netip.MustParsePrefix("232.0.0.0/8")},
	))

	if h.rec.reevaluations != before {
		t.Errorf("cascade ran on disabled instance")
	}
}
