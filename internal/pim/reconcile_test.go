package pim_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/dantte-lp/gopimd/internal/pim"
)

func TestReconcile(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.ctrl.CreateInstance(ctx, "stale"); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if _, err := h.ctrl.CreateInstance(ctx, "red"); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	settings := pim.DefaultSettings()
	settings.RPKeepAlive = 200 * time.Second

	desired := []pim.InstanceSpec{
		{
			Name:          "red",
			Settings:      settings,
			SSMPrefixList: "SSM1",
			MSDPPeers:     []pim.MSDPPeer{{Peer: msdpPeer, Source: msdpSelf}},
			SSMPingd:      []netip.Addr{loopback},
		},
		{
			Name:     "blue",
			Settings: pim.DefaultSettings(),
			StaticRoutes: []pim.StaticRoute{{
				IIF:   "eth0",
				OIF:   "eth1",
				Group: netip.MustParseAddr("239.2.2.2"),
			}},
		},
	}

	res, err := h.ctrl.Reconcile(ctx, desired)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	want := pim.ReconcileResult{Created: 1, Updated: 1, Destroyed: 1}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}

	if _, ok := h.ctrl.Registry().Lookup("stale"); ok {
		t.Error("stale instance survived")
	}

	red, _ := h.ctrl.Registry().Lookup("red")
	if red.Settings().RPKeepAlive != 200*time.Second {
		t.Errorf("red rp keepalive = %s, want 200s", red.Settings().RPKeepAlive)
	}
	if name, _ := red.SSM().Range(); name != "SSM1" {
		t.Errorf("red ssm range = %q, want SSM1", name)
	}
	if red.MSDP().Len() != 1 || red.SSMPing().Len() != 1 {
		t.Errorf("red subordinates = %d msdp, %d ssmpingd; want 1, 1", red.MSDP().Len(), red.SSMPing().Len())
	}

	blue, ok := h.ctrl.Registry().Lookup("blue")
	if !ok {
		t.Fatal("blue not created")
	}
	if blue.StaticRoutes().Len() != 1 {
		t.Errorf("blue static routes = %d, want 1", blue.StaticRoutes().Len())
	}

	// Removing subordinates on a second pass.
	desired[0].MSDPPeers = nil
	desired[0].SSMPingd = nil
	if _, err := h.ctrl.Reconcile(ctx, desired); err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if red.MSDP().Len() != 0 || red.SSMPing().Len() != 0 {
		t.Error("subordinates not removed")
	}
}

func TestReconcileReportsInvalidInstances(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	bad := pim.DefaultSettings()
	bad.KeepAlive = 0

	res, err := h.ctrl.Reconcile(context.Background(), []pim.InstanceSpec{
		{Name: "bad", Settings: bad},
		{Name: "good", Settings: pim.DefaultSettings()},
	})
	if !errors.Is(err, pim.ErrInvalidSettings) {
		t.Errorf("Reconcile error = %v, want ErrInvalidSettings", err)
	}
	if res.Created != 1 {
		t.Errorf("created = %d, want 1", res.Created)
	}
}

func TestStaticRoutes(t *testing.T) {
	t.Parallel()

	var routes pim.StaticRoutes
	r := pim.StaticRoute{IIF: "eth0", OIF: "eth1", Group: netip.MustParseAddr("239.1.1.1")}

	if err := routes.Add(r); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := routes.Add(r); !errors.Is(err, pim.ErrStaticRouteExists) {
		t.Errorf("duplicate Add error = %v, want ErrStaticRouteExists", err)
	}

	invalid := []pim.StaticRoute{
		{IIF: "eth0", OIF: "eth0", Group: netip.MustParseAddr("239.1.1.1")},
		{IIF: "eth0", OIF: "eth1", Group: netip.MustParseAddr("10.1.1.1")},
		{IIF: "eth0", OIF: "eth1", Group: netip.MustParseAddr("239.1.1.1"), Source: netip.MustParseAddr("2001:db8::1")},
		{OIF: "eth1", Group: netip.MustParseAddr("239.1.1.1")},
	}
	for _, bad := range invalid {
		if err := routes.Add(bad); !errors.Is(err, pim.ErrInvalidStaticRoute) {
			t.Errorf("Add(%s) error = %v, want ErrInvalidStaticRoute", bad, err)
		}
	}

	if err := routes.Remove(r); err != nil {
		t.Errorf("Remove: %v", err)
	}
	if err := routes.Remove(r); !errors.Is(err, pim.ErrStaticRouteNotFound) {
		t.Errorf("second Remove error = %v, want ErrStaticRouteNotFound", err)
	}
}

func TestReconcileKeepsAutoCreatedInstances(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pim.WithAutoCreate(true))
	ctx := context.Background()

	up := redVRF
	up.Operational = true
	if err := h.ctrl.VRFCreated(ctx, up); err != nil {
		t.Fatalf("VRFCreated: %v", err)
	}
	if _, err := h.ctrl.CreateInstance(ctx, "stale"); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	configured := pim.DefaultSettings()
	configured.KeepAlive = 300 * time.Second
	if _, err := h.ctrl.Reconcile(ctx, []pim.InstanceSpec{{Name: "red", Settings: configured}}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	res, err := h.ctrl.Reconcile(ctx, nil)
	if err != nil {
		t.Fatalf("Reconcile(nil): %v", err)
	}
	if want := (pim.ReconcileResult{Updated: 1}); res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}

	red, ok := h.ctrl.Registry().Lookup("red")
	if !ok {
		t.Fatal("instance of a live vrf was destroyed")
	}
	if red.State() != pim.StateActive {
		t.Errorf("state = %s, want Active", red.State())
	}
	if red.Settings() != pim.DefaultSettings() {
		t.Errorf("settings = %+v, want defaults", red.Settings())
	}

	h.ctrl.VRFDeleted(redVRF.ID)
	res, err = h.ctrl.Reconcile(ctx, nil)
	if err != nil {
		t.Fatalf("Reconcile after vrf delete: %v", err)
	}
	if res.Destroyed != 1 {
		t.Errorf("destroyed = %d, want 1", res.Destroyed)
	}
	if _, ok := h.ctrl.Registry().Lookup("red"); ok {
		t.Error("instance of a deleted vrf survived")
	}
}

func TestReconcileRetriesEnable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	errBusy := errors.New("mrt table busy")
	h.dp.regErr = errBusy

	inst, err := h.ctrl.CreateInstance(ctx, "red")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	up := redVRF
	up.Operational = true
	if err := h.ctrl.VRFCreated(ctx, up); !errors.Is(err, errBusy) {
		t.Fatalf("VRFCreated error = %v, want %v", err, errBusy)
	}
	if inst.State() != pim.StateBound {
		t.Fatalf("state = %s, want Bound", inst.State())
	}

	spec := []pim.InstanceSpec{{Name: "red", Settings: pim.DefaultSettings()}}
	if _, err := h.ctrl.Reconcile(ctx, spec); !errors.Is(err, errBusy) {
		t.Errorf("Reconcile error = %v, want %v", err, errBusy)
	}
	if inst.State() != pim.StateBound {
		t.Errorf("state = %s, want Bound while the socket fails", inst.State())
	}

	h.dp.regErr = nil
	if _, err := h.ctrl.Reconcile(ctx, spec); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if inst.State() != pim.StateActive {
		t.Errorf("state = %s, want Active after retry", inst.State())
	}
}
