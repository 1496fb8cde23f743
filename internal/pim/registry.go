package pim

import (
	"errors"
	"fmt"

	"github.com/google/btree"
)

// Sentinel errors for Registry operations.
var (
	// ErrDuplicateInstance indicates an instance with the name exists.
	ErrDuplicateInstance = errors.New("instance already exists")

	// ErrInvalidInstanceName indicates an empty or over-long name.
	ErrInvalidInstanceName = errors.New("invalid instance name")

	// ErrInstanceNotFound indicates no instance matches.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceActive indicates an Active instance was removed without
	// being disabled.
	ErrInstanceActive = errors.New("instance is active")

	// ErrVRFBound indicates the VRF is already bound to another instance.
	ErrVRFBound = errors.New("vrf already bound to an instance")
)

// btreeDegree is the branching factor of the name index.
const btreeDegree = 8

func lessByName(a, b *Instance) bool { return a.name < b.name }

// Registry indexes instances by name, in lexicographic order, and by
// bound VRF.
type Registry struct {
	byName *btree.BTreeG[*Instance]
	byVRF  map[VRFID]*Instance
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: btree.NewG(btreeDegree, lessByName),
		byVRF:  make(map[VRFID]*Instance),
	}
}

// Create allocates an instance named name with default parameters and
// inserts it. It fails when the name is taken.
func (r *Registry) Create(name string, opts ...InstanceOption) (*Instance, error) {
	if name == "" || len(name) > MaxNameLen {
		return nil, fmt.Errorf("create %q: %w", name, ErrInvalidInstanceName)
	}
	if _, ok := r.Lookup(name); ok {
		return nil, fmt.Errorf("create %q: %w", name, ErrDuplicateInstance)
	}

	inst, err := newInstance(name, opts...)
	if err != nil {
		return nil, err
	}
	r.byName.ReplaceOrInsert(inst)
	return inst, nil
}

// Lookup returns the instance named name.
func (r *Registry) Lookup(name string) (*Instance, bool) {
	return r.byName.Get(&Instance{name: name})
}

// LookupByVRF returns the instance bound to the VRF id.
func (r *Registry) LookupByVRF(id VRFID) (*Instance, bool) {
	inst, ok := r.byVRF[id]
	return inst, ok
}

// Remove deletes inst from the registry. The caller must have disabled it.
func (r *Registry) Remove(inst *Instance) error {
	cur, ok := r.Lookup(inst.name)
	if !ok || cur != inst {
		return fmt.Errorf("remove %q: %w", inst.name, ErrInstanceNotFound)
	}
	if inst.state == StateActive {
		return fmt.Errorf("remove %q: %w", inst.name, ErrInstanceActive)
	}

	r.byName.Delete(inst)
	if inst.binding != nil && r.byVRF[inst.binding.ID] == inst {
		delete(r.byVRF, inst.binding.ID)
	}
	return nil
}

// Ascend calls fn for every instance in name order until fn returns
// false. fn must not add or remove instances.
func (r *Registry) Ascend(fn func(*Instance) bool) {
	r.byName.Ascend(fn)
}

// Instances returns every instance in name order.
func (r *Registry) Instances() []*Instance {
	out := make([]*Instance, 0, r.byName.Len())
	r.byName.Ascend(func(inst *Instance) bool {
		out = append(out, inst)
		return true
	})
	return out
}

// Len returns the number of instances.
func (r *Registry) Len() int { return r.byName.Len() }

// bind associates inst with vrf.
func (r *Registry) bind(inst *Instance, vrf VRF) error {
	if other, ok := r.byVRF[vrf.ID]; ok && other != inst {
		return fmt.Errorf("bind %q to vrf %s(%d): %w", inst.name, vrf.Name, vrf.ID, ErrVRFBound)
	}
	if inst.binding != nil && inst.binding.ID != vrf.ID {
		delete(r.byVRF, inst.binding.ID)
	}

	inst.binding = &vrf
	r.byVRF[vrf.ID] = inst
	return nil
}

// unbind clears the VRF association of inst.
func (r *Registry) unbind(inst *Instance) {
	if inst.binding == nil {
		return
	}
	if r.byVRF[inst.binding.ID] == inst {
		delete(r.byVRF, inst.binding.ID)
	}
	inst.binding = nil
}
