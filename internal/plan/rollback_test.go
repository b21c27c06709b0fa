package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joelcourtney/peregrine/examples/potatosat"
	"github.com/joelcourtney/peregrine/internal/plan"
)

// Invariant 4: insert(x); remove(x); view(Q) yields the same execution
// count as view(Q) would have without those edits, so long as nothing
// persistently references the removed node.
func TestRollbackIdempotenceNoIntervening(t *testing.T) {
	baseline := newModelPlan(t)
	_, err := baseline.Insert(secs(0), potatosat.IncA{})
	require.NoError(t, err)
	bCounter, bCount := potatosat.NewCounter()
	_, err = baseline.Insert(secs(3), bCounter)
	require.NoError(t, err)
	a, err := plan.Sample[uint32](baseline, potatosat.ResourceA, secs(3))
	require.NoError(t, err)
	require.Equal(t, 1, *bCount)

	withRollback := newModelPlan(t)
	_, err = withRollback.Insert(secs(0), potatosat.IncA{})
	require.NoError(t, err)
	id, err := withRollback.Insert(secs(1), potatosat.IncB{})
	require.NoError(t, err)
	rCounter, rCount := potatosat.NewCounter()
	_, err = withRollback.Insert(secs(3), rCounter)
	require.NoError(t, err)

	require.NoError(t, withRollback.Remove(id))

	a2, err := plan.Sample[uint32](withRollback, potatosat.ResourceA, secs(3))
	require.NoError(t, err)
	require.Equal(t, a, a2)
	require.Equal(t, *bCount, *rCount)
}

// Rollback must also be idempotent when the inserted-then-removed node
// writes the exact resource a later Counter reads — the removed node
// must leave zero trace once no view observed it in between.
func TestRollbackIdempotenceSameResourceChain(t *testing.T) {
	p := newModelPlan(t)
	_, err := p.Insert(secs(0), potatosat.IncA{})
	require.NoError(t, err)
	id, err := p.Insert(secs(1), potatosat.IncA{})
	require.NoError(t, err)
	counter, count := potatosat.NewCounter()
	_, err = p.Insert(secs(2), counter)
	require.NoError(t, err)

	require.NoError(t, p.Remove(id))

	a, err := plan.Sample[uint32](p, potatosat.ResourceA, secs(2))
	require.NoError(t, err)
	require.Equal(t, uint32(1), a)
	require.Equal(t, 1, *count)
}
