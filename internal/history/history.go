// Package history implements the content-addressed, concurrent,
// append-only cache a Plan's node evaluations read and write through.
//
// One sharded concurrent map exists per resource's Write type, keyed
// directly by the node's 64-bit structural hash. Because that hash is
// already uniform (it folds the non-cryptographic xxhash function over
// node type identity and upstream hashes), the map uses a pass-through
// sharding function instead of re-hashing the key.
package history

import (
	"fmt"
	"sort"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/joelcourtney/peregrine/internal/resource"
)

// passthroughShard treats the low bits of an already-uniform hash as the
// shard selector, avoiding a second hash pass over a value that is itself
// a hash.
func passthroughShard(key uint64) uint32 {
	return uint32(key)
}

// Store is the per-resource sub-history: a concurrent hash map from
// structural hash to the first Write value ever inserted under it.
//
// Insert is idempotent on collision: the first writer wins and later
// writers silently discard their (redundant, by the cache-hit contract)
// copy. This is what makes Store safe to write into from many concurrent
// node evaluations racing to populate the same hash.
type Store[W any] struct {
	m cmap.ConcurrentMap[uint64, W]
}

// New creates an empty Store for one resource's Write type.
func New[W any]() *Store[W] {
	return &Store[W]{m: cmap.NewWithCustomShardingFunction[uint64, W](passthroughShard)}
}

// Insert stores value under hash h if no value is present yet, and
// returns the Read view corresponding to whichever value is now
// canonically stored at h (the caller's value if it won the race, or an
// existing value if another goroutine inserted first).
//
// toRead must be callable without moving the stored Write value, so
// that Read references handed out here remain valid across any number
// of further Store insertions.
func Insert[W any, Rd any](s *Store[W], h uint64, value W, toRead func(W) Rd) Rd {
	var winner W
	s.m.Upsert(h, value, func(exists bool, valueInMap W, newValue W) W {
		if exists {
			winner = valueInMap
			return valueInMap
		}
		winner = newValue
		return newValue
	})
	return toRead(winner)
}

// Get performs a point lookup. A miss (ok == false) means the caller
// must execute the node body.
func (s *Store[W]) Get(h uint64) (W, bool) {
	return s.m.Get(h)
}

// Has reports presence without copying the value out, for cache-hit
// probes that only need a boolean.
func (s *Store[W]) Has(h uint64) bool {
	return s.m.Has(h)
}

func (s *Store[W]) Len() int {
	return s.m.Count()
}

// Items returns every hash->value pair currently stored, for a
// history.Plugin's Encode to walk deterministically (callers sort the
// keys themselves; Store makes no ordering promise).
func (s *Store[W]) Items() map[uint64]W {
	return s.m.Items()
}

// Seed inserts value under hash h unconditionally, bypassing the
// idempotent-first-writer-wins race arbitration Insert performs. Meant
// only for a history.Plugin's Decode, reconstructing a store before it
// is ever shared across goroutines.
func (s *Store[W]) Seed(h uint64, value W) {
	s.m.Set(h, value)
}

// Snapshot is the portable, label-keyed representation of an entire
// history: a map from each resource's stable serialization label to the
// bytes its registered Plugin produced. It is the only thing that
// crosses a process boundary.
type Snapshot struct {
	mu      sync.Mutex
	Sources map[string][]byte
}

func NewSnapshot() *Snapshot {
	return &Snapshot{Sources: make(map[string][]byte)}
}

func (s *Snapshot) set(label string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Sources[label] = data
}

// Get looks up label's encoded bytes, used by Session seeding a
// resource's store from a snapshot produced by a prior session.
func (s *Snapshot) Get(label string) ([]byte, bool) {
	return s.get(label)
}

func (s *Snapshot) get(label string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.Sources[label]
	return b, ok
}

// Plugin is the serialization boundary for exactly one resource's
// sub-history: a stable label plus encode/decode, letting a Store's
// concrete Write type stay hidden behind an `any` downcast rather than
// forcing every resource through one shared wire format.
type Plugin interface {
	// Label returns the stable name this resource's sub-history is filed
	// under in a Snapshot. Must never change across versions once data
	// has been serialized under it.
	Label() string

	// Encode serializes the live *Store[W] (passed as `any`, downcast
	// internally by the concrete plugin) into bytes.
	Encode(store any) ([]byte, error)

	// Decode reconstructs a *Store[W] from previously encoded bytes.
	Decode(data []byte) (any, error)
}

// Registry drives serialization of an entire process's history: one
// Plugin per resource, looked up by label, iterated in sorted-label
// order for deterministic snapshot encoding.
type Registry struct {
	mu      sync.Mutex
	plugins map[string]Plugin
	stores  map[string]any
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin), stores: make(map[string]any)}
}

// RegisterResource ties a resource label to both its live Store and the
// Plugin that knows how to serialize it. Re-registering the same label
// with an identical plugin succeeds and points the label at the given
// store; registering a different plugin under an already-used label is
// an error.
func (r *Registry) RegisterResource(label string, store any, plugin Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.plugins[label]; ok && existing != plugin {
		return fmt.Errorf("history: label %q already registered with a different plugin", label)
	}
	r.plugins[label] = plugin
	r.stores[label] = store
	return nil
}

// IntoSnapshot serializes every registered resource's store into a
// portable Snapshot.
func (r *Registry) IntoSnapshot() (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := NewSnapshot()
	labels := make([]string, 0, len(r.stores))
	for label := range r.stores {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		store := r.stores[label]
		plugin := r.plugins[label]
		data, err := plugin.Encode(store)
		if err != nil {
			return nil, fmt.Errorf("history: encoding %q: %w", label, err)
		}
		snap.set(label, data)
	}
	return snap, nil
}

// FromSnapshot decodes every label present in snap for which a plugin is
// registered, returning stores keyed by label. Labels present in snap but
// unknown to this registry are skipped (forward-compatible: a history
// produced by a model with more resources can seed a session that only
// cares about a subset).
func (r *Registry) FromSnapshot(snap *Snapshot) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]any, len(r.plugins))
	for label, plugin := range r.plugins {
		data, ok := snap.get(label)
		if !ok {
			continue
		}
		store, err := plugin.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("history: decoding %q: %w", label, err)
		}
		out[label] = store
	}
	return out, nil
}

// DescriptorLabel is a small helper so callers building a Plugin can
// reuse a resource.Descriptor's stable Label rather than hand-rolling
// one, keeping history labels and resource labels in sync.
func DescriptorLabel(d resource.Descriptor) string {
	return d.Label
}
