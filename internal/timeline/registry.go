package timeline

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/joelcourtney/peregrine/internal/opnode"
	"github.com/joelcourtney/peregrine/internal/resource"
)

// Registry is the type-indexed collection of per-resource Timelines a
// Plan owns. Mutation (insert/remove writer) is serialized per-resource
// by each Timeline's own lock; Registry itself only guards the map of
// which resources exist.
type Registry struct {
	mu        sync.RWMutex
	timelines map[resource.ID]*Timeline
	resolveSF singleflight.Group
}

func NewRegistry() *Registry {
	return &Registry{timelines: make(map[resource.ID]*Timeline)}
}

// Init registers resourceID's timeline, seeded with its initial
// condition. Required before any Insert/Remove/Query against that
// resource.
func (r *Registry) Init(resourceID resource.ID, epoch Duration, initialCondition opnode.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.timelines[resourceID]; exists {
		return fmt.Errorf("timeline: resource %d already initialized", resourceID)
	}
	r.timelines[resourceID] = NewInitialized(resourceID, epoch, initialCondition)
	return nil
}

func (r *Registry) get(resourceID resource.ID) (*Timeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tl, ok := r.timelines[resourceID]
	if !ok {
		return nil, fmt.Errorf("timeline: resource %d has no timeline; missing initial condition", resourceID)
	}
	return tl, nil
}

// QueryUpstream implements opnode.UpstreamResolver, satisfied
// structurally: a *Registry can be handed directly to opnode.NewNode as
// the resolver, without opnode ever importing this package.
//
// Two readers racing to resolve the same (resourceID, at) pair share one
// Timeline.QueryUpstream call via singleflight: the walk itself is read-only
// and idempotent, so the only thing worth saving is the redundant btree
// traversal, not correctness — a node's own mutex remains the sole
// authority over its request/respond state.
func (r *Registry) QueryUpstream(resourceID resource.ID, at Duration) (opnode.Writer, error) {
	key := strconv.FormatUint(uint64(resourceID), 10) + ":" + strconv.FormatInt(int64(at), 10)
	v, err, _ := r.resolveSF.Do(key, func() (any, error) {
		tl, err := r.get(resourceID)
		if err != nil {
			return nil, err
		}
		return tl.QueryUpstream(resourceID, at)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(opnode.Writer), nil
}

// InsertGrounded writes w at (resourceID, at) and notifies any
// previously-superseded writer's downstreams: any downstream node whose
// reads at times after t had previously resolved to an upstream before
// t must invalidate that cached binding.
func (r *Registry) InsertGrounded(resourceID resource.ID, at Duration, w opnode.Writer) error {
	tl, err := r.get(resourceID)
	if err != nil {
		return err
	}
	affected := tl.InsertGrounded(at, w)
	for _, a := range affected {
		notify(a, at)
	}
	return nil
}

// InsertUngrounded writes w across [min,max) and notifies every writer
// whose entries were extended to carry it.
func (r *Registry) InsertUngrounded(resourceID resource.ID, min, max Duration, w opnode.Writer) error {
	tl, err := r.get(resourceID)
	if err != nil {
		return err
	}
	touched := tl.InsertUngrounded(min, max, w)
	for _, t := range touched {
		notify(t, min)
	}
	return nil
}

func (r *Registry) RemoveGrounded(resourceID resource.ID, at Duration) error {
	tl, err := r.get(resourceID)
	if err != nil {
		return err
	}
	removed := tl.RemoveGrounded(at)
	if n, ok := removed.(*opnode.Node); ok && n != nil {
		n.NotifyDownstreams(at)
	}
	return nil
}

func (r *Registry) RemoveUngrounded(resourceID resource.ID, min, max Duration) error {
	tl, err := r.get(resourceID)
	if err != nil {
		return err
	}
	tl.RemoveUngrounded(min, max)
	return nil
}

// notify asks w (if it is an *opnode.Node — an UngroundedResolver is
// never itself a retained timeline entry) to notify its own retained
// downstreams of a change at changeTime.
func notify(w opnode.Writer, changeTime Duration) {
	if n, ok := w.(*opnode.Node); ok && n != nil {
		n.NotifyDownstreams(changeTime)
	}
}

// Writers exposes the underlying Timeline.Writers query for Plan.View.
func (r *Registry) Writers(resourceID resource.ID, start, end Duration) ([]TimedWriter, error) {
	tl, err := r.get(resourceID)
	if err != nil {
		return nil, err
	}
	return tl.Writers(start, end), nil
}

// ResourceIDs returns every initialized resource id, sorted, for
// deterministic iteration during serialization or diagnostics.
func (r *Registry) ResourceIDs() []resource.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]resource.ID, 0, len(r.timelines))
	for id := range r.timelines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
