package pim_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/dantte-lp/gopimd/internal/pim"
)

func TestRegistryIteratesInNameOrder(t *testing.T) {
	t.Parallel()

	reg := pim.NewRegistry()
	for _, name := range []string{"zzz", "aaa", "mmm"} {
		if _, err := reg.Create(name); err != nil {
			t.Fatalf("Create(%s): %v", name, err)
		}
	}

	var got []string
	reg.Ascend(func(inst *pim.Instance) bool {
		got = append(got, inst.Name())
		return true
	})

	want := []string{"aaa", "mmm", "zzz"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Ascend order = %v, want %v", got, want)
	}
	if reg.Len() != 3 {
		t.Errorf("Len = %d, want 3", reg.Len())
	}
}

func TestRegistryLookupReturnsCreatedInstance(t *testing.T) {
	t.Parallel()

	reg := pim.NewRegistry()
	inst, err := reg.Create("blue")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, ok := reg.Lookup("blue")
	if !ok || got != inst {
		t.Fatalf("Lookup(blue) = %p, %v; want %p, true", got, ok, inst)
	}
	if _, ok := reg.Lookup("green"); ok {
		t.Error("Lookup(green) found an instance")
	}

	if err := reg.Remove(inst); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := reg.Lookup("blue"); ok {
		t.Error("Lookup after Remove found the instance")
	}
	if err := reg.Remove(inst); !errors.Is(err, pim.ErrInstanceNotFound) {
		t.Errorf("second Remove error = %v, want ErrInstanceNotFound", err)
	}
}

func TestRegistryCreateRejects(t *testing.T) {
	t.Parallel()

	reg := pim.NewRegistry()
	if _, err := reg.Create("red"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name    string
		inst    string
		wantErr error
	}{
		{"duplicate", "red", pim.ErrDuplicateInstance},
		{"empty", "", pim.ErrInvalidInstanceName},
		{"too long", strings.Repeat("x", pim.MaxNameLen+1), pim.ErrInvalidInstanceName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := reg.Create(tt.inst); !errors.Is(err, tt.wantErr) {
				t.Errorf("Create(%q) error = %v, want %v", tt.inst, err, tt.wantErr)
			}
		})
	}
}

func TestRegistryCreateAppliesDefaults(t *testing.T) {
	t.Parallel()

	inst, err := pim.NewRegistry().Create("red")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if inst.State() != pim.StateCreated {
		t.Errorf("State = %s, want Created", inst.State())
	}
	if _, ok := inst.Binding(); ok {
		t.Error("new instance is bound")
	}
	if got := inst.Settings(); got != pim.DefaultSettings() {
		t.Errorf("Settings = %+v, want defaults", got)
	}
	if !inst.Settings().SendV6Secondary {
		t.Error("send-v6-secondary disabled by default")
	}
	if _, ok := inst.SSM().Range(); ok {
		t.Error("ssm range configured by default")
	}
}

func TestRegistryCreateRejectsInvalidSettings(t *testing.T) {
	t.Parallel()

	s := pim.DefaultSettings()
	s.MSDP.HoldTime = s.MSDP.KeepAlive

	_, err := pim.NewRegistry().Create("red", pim.WithSettings(s))
	if !errors.Is(err, pim.ErrInvalidSettings) {
		t.Errorf("Create error = %v, want ErrInvalidSettings", err)
	}
}
