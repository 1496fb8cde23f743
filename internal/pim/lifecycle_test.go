package pim_test

import (
	"context"
	"errors"
	"net/netip"
	"slices"
	"testing"

	"github.com/dantte-lp/gopimd/internal/msdp"
	"github.com/dantte-lp/gopimd/internal/pim"
	"github.com/dantte-lp/gopimd/internal/rpf"
)

var (
	enableSequence = []string{
		"bsm-init",
		"upstream-init",
		"register-open",
		"mroute-open",
		"register-vif-add",
		"if-start eth0",
		"if-start eth2",
	}
	disableSequence = []string{
		"if-stop eth2",
		"if-stop eth0",
		"register-vif-del",
		"mroute-close",
		"register-close",
		"upstream-terminate",
		"bsm-terminate",
	}
	releaseSequence = []string{
		"bsm-mlag-release",
		"oil-release",
		"rp-release",
		"vxlan-release",
		"msdp-release",
		"if-terminate",
	}
)

func assertCalls(t *testing.T, got, want []string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Errorf("calls:\n got  %v\n want %v", got, want)
	}
}

// activeInstance creates "red" with one ssmpingd socket and one MSDP peer
// and brings it to Active.
func activeInstance(t *testing.T, h *harness) *pim.Instance {
	t.Helper()
	ctx := context.Background()

	inst, err := h.ctrl.CreateInstance(ctx, "red")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if err := inst.AddSSMPing(ctx, loopback); err != nil {
		t.Fatalf("AddSSMPing: %v", err)
	}
	if err := inst.AddMSDPPeer(ctx, msdpPeer, msdpSelf); err != nil {
		t.Fatalf("AddMSDPPeer: %v", err)
	}

	if err := h.ctrl.VRFCreated(ctx, redVRF); err != nil {
		t.Fatalf("VRFCreated: %v", err)
	}
	if inst.State() != pim.StateBound {
		t.Fatalf("state after VRFCreated = %s, want Bound", inst.State())
	}
	if err := h.ctrl.VRFUp(ctx, redVRF.ID); err != nil {
		t.Fatalf("VRFUp: %v", err)
	}
	if inst.State() != pim.StateActive {
		t.Fatalf("state after VRFUp = %s, want Active", inst.State())
	}
	return inst
}

func assertSubordinatesStopped(t *testing.T, inst *pim.Instance) {
	t.Helper()
	for _, sock := range inst.SSMPing().Sockets() {
		if sock.Running() {
			t.Errorf("ssmpingd %s still running", sock.Source())
		}
	}
	if inst.MSDP().Running() {
		t.Error("msdp peer set still running")
	}
	for _, p := range inst.MSDP().Peers() {
		if p.State() != msdp.StateInactive {
			t.Errorf("msdp peer %s state = %s, want inactive", p.Addr(), p.State())
		}
	}
}

func TestEnableRunsStepsInOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	inst := activeInstance(t, h)

	assertCalls(t, h.rec.calls, enableSequence)

	for _, sock := range inst.SSMPing().Sockets() {
		if !sock.Running() {
			t.Errorf("ssmpingd %s not running after enable", sock.Source())
		}
	}
	if !inst.MSDP().Running() {
		t.Error("msdp peers not started after enable")
	}
	if got := len(inst.Interfaces()); got != 2 {
		t.Errorf("started interfaces = %d, want 2", got)
	}
	if _, ok := inst.MrouteSocket(); !ok {
		t.Error("no multicast routing socket while Active")
	}
}

func TestVRFDownDisablesInReverseOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	inst := activeInstance(t, h)
	h.rec.reset()

	h.ctrl.VRFDown(redVRF.ID)

	if inst.State() != pim.StateBound {
		t.Errorf("state after VRFDown = %s, want Bound", inst.State())
	}
	assertCalls(t, h.rec.calls, disableSequence)
	assertSubordinatesStopped(t, inst)

	vrf, ok := inst.Binding()
	if !ok || vrf.Operational {
		t.Errorf("binding after VRFDown = %+v, %v; want non-operational binding", vrf, ok)
	}

	// Coming back up enables again.
	if err := h.ctrl.VRFUp(context.Background(), redVRF.ID); err != nil {
		t.Fatalf("VRFUp: %v", err)
	}
	if inst.State() != pim.StateActive {
		t.Errorf("state after second VRFUp = %s, want Active", inst.State())
	}
	if h.rec.registerOpens != 2 {
		t.Errorf("register socket opened %d times, want 2", h.rec.registerOpens)
	}
}

func TestEnableTwiceDoesNotReacquire(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	inst := activeInstance(t, h)

	err := h.ctrl.Enable(context.Background(), inst)
	if !errors.Is(err, pim.ErrAlreadyActive) {
		t.Errorf("second Enable error = %v, want ErrAlreadyActive", err)
	}
	if h.rec.registerOpens != 1 {
		t.Errorf("register socket opened %d times, want 1", h.rec.registerOpens)
	}
}

func TestLifecyclePreconditions(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	inst, err := h.ctrl.CreateInstance(ctx, "red")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	if err := h.ctrl.Enable(ctx, inst); !errors.Is(err, pim.ErrNotBound) {
		t.Errorf("Enable unbound error = %v, want ErrNotBound", err)
	}
	if err := h.ctrl.Disable(inst); !errors.Is(err, pim.ErrNotActive) {
		t.Errorf("Disable created error = %v, want ErrNotActive", err)
	}

	if err := h.ctrl.VRFCreated(ctx, redVRF); err != nil {
		t.Fatalf("VRFCreated: %v", err)
	}
	if err := h.ctrl.Enable(ctx, inst); !errors.Is(err, pim.ErrVRFNotOperational) {
		t.Errorf("Enable on down vrf error = %v, want ErrVRFNotOperational", err)
	}
	if h.rec.registerOpens != 0 {
		t.Errorf("register socket opened %d times, want 0", h.rec.registerOpens)
	}

	if err := h.ctrl.DeleteInstance("red"); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	if err := h.ctrl.Enable(ctx, inst); !errors.Is(err, pim.ErrTerminated) {
		t.Errorf("Enable terminated error = %v, want ErrTerminated", err)
	}
}

func TestEnableFailureRollsBack(t *testing.T) {
	t.Parallel()

	errNoSocket := errors.New("mrt table busy")

	tests := []struct {
		name      string
		setup     func(*fakeDataplane)
		wantCalls []string
	}{
		{
			name:  "register socket",
			setup: func(d *fakeDataplane) { d.regErr = errNoSocket },
			wantCalls: []string{
				"bsm-init", "upstream-init",
				"upstream-terminate", "bsm-terminate",
			},
		},
		{
			name:  "multicast routing socket",
			setup: func(d *fakeDataplane) { d.mrouteErr = errNoSocket },
			wantCalls: []string{
				"bsm-init", "upstream-init", "register-open",
				"register-close", "upstream-terminate", "bsm-terminate",
			},
		},
		{
			name:  "register vif",
			setup: func(d *fakeDataplane) { d.vifErr = errNoSocket },
			wantCalls: []string{
				"bsm-init", "upstream-init", "register-open", "mroute-open",
				"mroute-close", "register-close", "upstream-terminate", "bsm-terminate",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			tt.setup(h.dp)
			ctx := context.Background()

			inst, err := h.ctrl.CreateInstance(ctx, "red")
			if err != nil {
				t.Fatalf("CreateInstance: %v", err)
			}

			up := redVRF
			up.Operational = true
			err = h.ctrl.VRFCreated(ctx, up)
			if !errors.Is(err, errNoSocket) {
				t.Fatalf("VRFCreated error = %v, want %v", err, errNoSocket)
			}

			if inst.State() != pim.StateBound {
				t.Errorf("state = %s, want Bound", inst.State())
			}
			assertCalls(t, h.rec.calls, tt.wantCalls)
			if h.metrics.enableFailures != 1 {
				t.Errorf("enable failures = %d, want 1", h.metrics.enableFailures)
			}

			// A later retry succeeds once the resource is available.
			*h.dp = fakeDataplane{r: h.rec}
			if err := h.ctrl.Enable(ctx, inst); err != nil {
				t.Fatalf("retry Enable: %v", err)
			}
			if inst.State() != pim.StateActive {
				t.Errorf("state after retry = %s, want Active", inst.State())
			}
		})
	}
}

func TestVRFDeletedUnbinds(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	inst := activeInstance(t, h)
	h.rec.reset()

	h.ctrl.VRFDeleted(redVRF.ID)

	if inst.State() != pim.StateCreated {
		t.Errorf("state after VRFDeleted = %s, want Created", inst.State())
	}
	if _, ok := inst.Binding(); ok {
		t.Error("instance still bound")
	}
	if _, ok := h.ctrl.Registry().LookupByVRF(redVRF.ID); ok {
		t.Error("LookupByVRF still finds the instance")
	}
	assertCalls(t, h.rec.calls, disableSequence)
	assertSubordinatesStopped(t, inst)

	// The instance binds again when the VRF is recreated.
	recreated := redVRF
	recreated.ID = 11
	if err := h.ctrl.VRFCreated(context.Background(), recreated); err != nil {
		t.Fatalf("VRFCreated: %v", err)
	}
	if got, ok := h.ctrl.Registry().LookupByVRF(11); !ok || got != inst {
		t.Error("instance not rebound to recreated vrf")
	}
}

func TestDeleteActiveInstanceTerminates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	inst := activeInstance(t, h)

	nh := &rpf.Nexthop{Interface: "eth0"}
	nh.AddRP(netip.MustParseAddr("10.9.9.9"))
	key := rpf.Key{Addr: netip.MustParseAddr("10.1.1.1")}
	inst.RPF().Put(key, nh)
	inst.RPF().Put(rpf.Key{Addr: netip.MustParseAddr("10.1.1.2")}, &rpf.Nexthop{})
	inst.SSM().SetRange("SSM-RANGE")
	h.rec.reset()

	if err := h.ctrl.DeleteInstance("red"); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}

	assertCalls(t, h.rec.calls, append(slices.Clone(disableSequence), releaseSequence...))

	if inst.State() != pim.StateTerminated {
		t.Errorf("state = %s, want Terminated", inst.State())
	}
	if _, ok := h.ctrl.Registry().Lookup("red"); ok {
		t.Error("Lookup finds terminated instance")
	}
	if _, ok := h.ctrl.Registry().LookupByVRF(redVRF.ID); ok {
		t.Error("LookupByVRF finds terminated instance")
	}
	if inst.RPF().Len() != 0 {
		t.Errorf("RPF cache has %d entries after terminate", inst.RPF().Len())
	}
	if nh.RPs != nil {
		t.Error("cached nexthop not released")
	}
	if h.metrics.rpfReleased != 2 {
		t.Errorf("rpf released = %d, want 2", h.metrics.rpfReleased)
	}
	if inst.SSMPing().Len() != 0 || inst.MSDP().Len() != 0 {
		t.Error("subordinate sets not destroyed")
	}
	if _, ok := inst.SSM().Range(); ok {
		t.Error("ssm range survives terminate")
	}
	if err := h.ctrl.DeleteInstance("red"); !errors.Is(err, pim.ErrInstanceNotFound) {
		t.Errorf("second DeleteInstance error = %v, want ErrInstanceNotFound", err)
	}
}

func TestStateTransitionsReported(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	activeInstance(t, h)
	h.ctrl.VRFDown(redVRF.ID)
	if err := h.ctrl.DeleteInstance("red"); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}

	want := []string{
		"Created->Bound",
		"Bound->Active",
		"Active->Bound",
		"Bound->Terminated",
	}
	assertCalls(t, h.metrics.transitions, want)
}

func TestShutdownTerminatesAll(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	for _, name := range []string{"blue", "green"} {
		if _, err := h.ctrl.CreateInstance(ctx, name); err != nil {
			t.Fatalf("CreateInstance(%s): %v", name, err)
		}
	}
	active := activeInstance(t, h)

	h.ctrl.Shutdown()

	if h.ctrl.Registry().Len() != 0 {
		t.Errorf("registry holds %d instances after Shutdown", h.ctrl.Registry().Len())
	}
	if active.State() != pim.StateTerminated {
		t.Errorf("active instance state = %s, want Terminated", active.State())
	}
	assertSubordinatesStopped(t, active)
}

func TestCreateInstanceForKnownVRF(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	up := redVRF
	up.Operational = true
	if err := h.ctrl.VRFCreated(ctx, up); err != nil {
		t.Fatalf("VRFCreated: %v", err)
	}
	if h.ctrl.Registry().Len() != 0 {
		t.Fatal("instance created without auto-create")
	}

	inst, err := h.ctrl.CreateInstance(ctx, "red")
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	if inst.State() != pim.StateActive {
		t.Errorf("state = %s, want Active", inst.State())
	}
}

func TestAutoCreate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pim.WithAutoCreate(true))
	if err := h.ctrl.VRFCreated(context.Background(), redVRF); err != nil {
		t.Fatalf("VRFCreated: %v", err)
	}

	inst, ok := h.ctrl.Registry().Lookup("red")
	if !ok {
		t.Fatal("instance not auto-created")
	}
	if inst.State() != pim.StateBound {
		t.Errorf("state = %s, want Bound", inst.State())
	}
}

func TestSocketsScopedPerVRF(t *testing.T) {
	t.Parallel()

	sockets := &fakeSockets{}
	h := newHarness(t, pim.WithSocketFactory(sockets))
	ctx := context.Background()

	vrfs := []pim.VRF{
		{ID: 10, Name: "red", Table: 1010, Operational: true},
		{ID: 11, Name: "blue", Table: 1011, Operational: true},
	}

	var listeners []string
	for _, vrf := range vrfs {
		inst, err := h.ctrl.CreateInstance(ctx, vrf.Name)
		if err != nil {
			t.Fatalf("CreateInstance(%s): %v", vrf.Name, err)
		}
		// The higher local address makes the peering passive.
		if err := inst.AddMSDPPeer(ctx, msdpSelf, msdpPeer); err != nil {
			t.Fatalf("AddMSDPPeer(%s): %v", vrf.Name, err)
		}
		if err := h.ctrl.VRFCreated(ctx, vrf); err != nil {
			t.Fatalf("VRFCreated(%s): %v", vrf.Name, err)
		}
		if inst.State() != pim.StateActive {
			t.Fatalf("%s state = %s, want Active", vrf.Name, inst.State())
		}

		addr := inst.MSDP().ListenAddr()
		if addr == nil {
			t.Fatalf("%s has no msdp listener", vrf.Name)
		}
		listeners = append(listeners, addr.String())
	}

	if listeners[0] == listeners[1] {
		t.Errorf("red and blue share listener %s", listeners[0])
	}

	if _, err := h.ctrl.CreateInstance(ctx, "default"); err != nil {
		t.Fatalf("CreateInstance(default): %v", err)
	}

	want := []string{"red", "blue", ""}
	for _, kind := range []string{"ssmping", "msdp-listen", "msdp-dial"} {
		if got := sockets.recorded(kind); !slices.Equal(got, want) {
			t.Errorf("%s devices = %q, want %q", kind, got, want)
		}
	}
}

func TestVRFNameIndex(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	steps := []pim.VRF{
		{ID: 10, Name: "red", Table: 1010},
		{ID: 10, Name: "green", Table: 1010},
		{ID: 12, Name: "red", Table: 1012},
	}
	for _, vrf := range steps {
		if err := h.ctrl.VRFCreated(ctx, vrf); err != nil {
			t.Fatalf("VRFCreated(%+v): %v", vrf, err)
		}
	}

	if v, ok := h.ctrl.VRF("red"); !ok || v.ID != 12 {
		t.Errorf("VRF(red) = %+v, %t; want id 12", v, ok)
	}
	if v, ok := h.ctrl.VRF("green"); !ok || v.ID != 10 {
		t.Errorf("VRF(green) = %+v, %t; want id 10", v, ok)
	}

	h.ctrl.VRFDeleted(10)
	if _, ok := h.ctrl.VRF("green"); ok {
		t.Error("VRF(green) found after delete")
	}
	if v, ok := h.ctrl.VRF("red"); !ok || v.ID != 12 {
		t.Errorf("VRF(red) after deleting id 10 = %+v, %t; want id 12", v, ok)
	}
}
