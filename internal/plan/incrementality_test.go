package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joelcourtney/peregrine/examples/potatosat"
	"github.com/joelcourtney/peregrine/internal/plan"
)

// Invariant 2: after an edit, the number of node bodies that actually
// execute equals the number of nodes whose structural hash changed.
// Replacing a node with a structurally-identical one (different Go
// instance, same TypeID and same upstream hash) must execute zero
// bodies; replacing it with something that changes its output hash must
// cascade execution exactly to the nodes whose hash depends on it.
func TestIncrementalityNoOpReplacementExecutesNothing(t *testing.T) {
	p := newModelPlan(t)
	_, err := p.Insert(secs(0), potatosat.IncA{})
	require.NoError(t, err)
	counter1, count1 := potatosat.NewCounter()
	id1, err := p.Insert(secs(1), counter1)
	require.NoError(t, err)
	_, err = p.Insert(secs(2), potatosat.IncA{})
	require.NoError(t, err)
	counter2, count2 := potatosat.NewCounter()
	_, err = p.Insert(secs(3), counter2)
	require.NoError(t, err)

	a, err := plan.Sample[uint32](p, potatosat.ResourceA, secs(3))
	require.NoError(t, err)
	require.Equal(t, uint32(2), a)
	require.Equal(t, 1, *count1)
	require.Equal(t, 1, *count2)

	require.NoError(t, p.Remove(id1))
	newCounter1, newCount1 := potatosat.NewCounter()
	_, err = p.Insert(secs(1), newCounter1)
	require.NoError(t, err)

	a, err = plan.Sample[uint32](p, potatosat.ResourceA, secs(3))
	require.NoError(t, err)
	require.Equal(t, uint32(2), a)
	require.Equal(t, 0, *newCount1, "structurally identical replacement must be a pure cache hit")
	require.Equal(t, 1, *count2, "downstream of an unchanged hash must not re-execute")
}

// Replacing an upstream node with one that changes its own output hash
// must cascade re-execution exactly to its downstream dependents, and no
// further.
func TestIncrementalityHashChangeCascades(t *testing.T) {
	p := newModelPlan(t)
	incID, err := p.Insert(secs(0), potatosat.IncA{})
	require.NoError(t, err)
	counter1, count1 := potatosat.NewCounter()
	_, err = p.Insert(secs(1), counter1)
	require.NoError(t, err)
	_, err = p.Insert(secs(2), potatosat.IncA{})
	require.NoError(t, err)
	counter2, count2 := potatosat.NewCounter()
	_, err = p.Insert(secs(3), counter2)
	require.NoError(t, err)

	a, err := plan.Sample[uint32](p, potatosat.ResourceA, secs(3))
	require.NoError(t, err)
	require.Equal(t, uint32(2), a)
	require.Equal(t, 1, *count1)
	require.Equal(t, 1, *count2)

	// Replace IncA@0 (a := 0+1 = 1) with a Counter@0 (a := 0, unchanged)
	// — downstream at t=1 now reads a=0 instead of a=1, a different
	// upstream hash, so it must re-execute; its own downstream at t=3
	// must cascade too since its output now differs.
	require.NoError(t, p.Remove(incID))
	seedCounter, seedCount := potatosat.NewCounter()
	_, err = p.Insert(secs(0), seedCounter)
	require.NoError(t, err)

	a, err = plan.Sample[uint32](p, potatosat.ResourceA, secs(3))
	require.NoError(t, err)
	require.Equal(t, uint32(1), a)
	require.Equal(t, 1, *seedCount)
	require.Equal(t, 2, *count1, "upstream hash changed, so this node must re-execute")
	require.Equal(t, 2, *count2, "this node's own upstream hash changed too, so it must re-execute")
}
