// Package activity defines the external contract a model author
// implements to add behavior to a plan: a pure function from a start
// grounding and a node builder to a duration and the set of operation
// nodes it allocated.
package activity

import (
	"fmt"

	"github.com/joelcourtney/peregrine/internal/arena"
	"github.com/joelcourtney/peregrine/internal/chrono"
	"github.com/joelcourtney/peregrine/internal/opnode"
	"github.com/joelcourtney/peregrine/internal/resource"
)

// Duration and Grounding are re-exported under activity's own names so a
// model package importing only pkg/activity never needs to reach into
// internal/chrono or internal/opnode directly.
type Duration = chrono.Duration
type Grounding = opnode.Grounding

// StaticGrounding and DynamicGrounding mirror opnode's constructors.
func StaticGrounding(t Duration) Grounding { return opnode.StaticGrounding(t) }
func DynamicGrounding(min, max Duration, grounder opnode.Writer) Grounding {
	return opnode.DynamicGrounding(min, max, grounder)
}

// ID identifies one activity within a plan, assigned by Plan.Insert.
type ID uint64

// Activity is the pure decomposition contract every model type
// implements: deterministic in its arguments and start grounding, free
// of hidden state, allocating every node it produces through the given
// Builder.
type Activity interface {
	Decompose(start Grounding, b *Builder) (duration Duration, nodes []*opnode.Node, err error)
}

// Builder is the capability an Activity's Decompose is given to turn
// declared reads/writes into a real *opnode.Node: arena registration,
// upstream resolution, and resource-specific write-history glue, all
// supplied by the Plan/Session that owns this decomposition. Model code
// never constructs these itself.
type Builder struct {
	arena    *arena.Arena[opnode.Node]
	resolver opnode.UpstreamResolver
	adapters map[resource.ID]opnode.WriteAdapter
}

// NewBuilder is called by internal/plan; exported so a test harness in
// another package can construct activities directly against a fake
// resolver/adapter set without going through a full Plan.
func NewBuilder(a *arena.Arena[opnode.Node], resolver opnode.UpstreamResolver, adapters map[resource.ID]opnode.WriteAdapter) *Builder {
	return &Builder{arena: a, resolver: resolver, adapters: adapters}
}

// NewNode constructs and arena-registers one operation node: reads and
// writes are resource ids in the node body's declared argument/return
// order, matching opnode.Body's contract.
func (b *Builder) NewNode(label string, typeID uint64, g Grounding, reads []resource.ID, writes []resource.ID, body opnode.Body) (*opnode.Node, error) {
	adapters := make([]opnode.WriteAdapter, len(writes))
	for i, rid := range writes {
		wa, ok := b.adapters[rid]
		if !ok {
			return nil, fmt.Errorf("activity: %s declares a write to unregistered resource %d", label, rid)
		}
		adapters[i] = wa
	}
	n := opnode.NewNode(label, typeID, g, reads, adapters, body, b.resolver)
	b.arena.Put(n)
	return n, nil
}

// TypeID derives a stable structural type identity for the opIndex-th
// node an activity of kind activityType decomposes into.
func TypeID(activityType string, opIndex int) uint64 {
	return opnode.TypeIdentityHash(activityType, opIndex)
}
