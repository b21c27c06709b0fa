// Package resource defines the type-level label every timeline, history
// sub-map, and operation node read/write slot is indexed by.
//
// Go has no associated-type mechanism, so a resource's identity (ID,
// STATIC flag, stable label) is split from its typed behavior (Read/Write
// conversion): the closed Descriptor lives in a reflection-friendly
// registry, and the typed half is supplied per call site via Go generics.
package resource

import "fmt"

// ID is a globally unique 64-bit resource identifier.
type ID uint64

// Descriptor is the type-erased half of a resource's identity: the part
// needed for registries, timelines, and serialization without knowing
// the concrete Read/Write Go types.
type Descriptor struct {
	ID ID

	// Label is a stable, human-readable name used in error context and
	// in serialized history labels (see history.Plugin).
	Label string

	// Static states whether, between writes, the value is truly
	// unchanging. False means the value drifts over time (e.g. it is a
	// continuous profile). The flag is recorded in the registry only:
	// the evaluation engine does not read it, and history lookups treat
	// STATIC and non-STATIC resources alike.
	Static bool
}

// Registry is a process-wide type-erased catalogue of resource
// descriptors, used for validation (initial-condition coverage, dangling
// reads) and for driving serialization plugin lookup by label.
type Registry struct {
	byID    map[ID]Descriptor
	byLabel map[string]ID
}

func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[ID]Descriptor),
		byLabel: make(map[string]ID),
	}
}

// Register adds d to the registry. It is idempotent for an identical
// descriptor re-registered under the same ID, and an error for any
// conflicting re-registration (duplicate ID with different label/static,
// or duplicate label under a different ID).
func (r *Registry) Register(d Descriptor) error {
	if existing, ok := r.byID[d.ID]; ok {
		if existing != d {
			return fmt.Errorf("resource: conflicting re-registration of id %d: %+v vs %+v", d.ID, existing, d)
		}
		return nil
	}
	if otherID, ok := r.byLabel[d.Label]; ok && otherID != d.ID {
		return fmt.Errorf("resource: label %q already registered to id %d", d.Label, otherID)
	}
	r.byID[d.ID] = d
	r.byLabel[d.Label] = d.ID
	return nil
}

func (r *Registry) Lookup(id ID) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

func (r *Registry) LookupLabel(label string) (Descriptor, bool) {
	id, ok := r.byLabel[label]
	if !ok {
		return Descriptor{}, false
	}
	d, ok := r.byID[id]
	return d, ok
}

// IDs returns every registered resource id, in ascending order, so that
// callers that iterate the registry (e.g. initial-condition coverage
// checks, serialization) get deterministic ordering.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []ID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
