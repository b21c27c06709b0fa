package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joelcourtney/peregrine/examples/potatosat"
	"github.com/joelcourtney/peregrine/internal/opnode"
	"github.com/joelcourtney/peregrine/internal/plan"
	"github.com/joelcourtney/peregrine/internal/resource"
	"github.com/joelcourtney/peregrine/pkg/activity"
)

// A single node writing multiple resources (SwapAB: a,b = b,a) must
// register against both timelines and serve both swapped values — a
// case the named scenarios never touch directly.
func TestMultiWriteNodeSwapsBothResources(t *testing.T) {
	p := newModelPlan(t)
	_, err := p.Insert(secs(0), potatosat.IncA{}) // a: 0 -> 1
	require.NoError(t, err)
	_, err = p.Insert(secs(1), potatosat.IncB{}) // b: 0 -> 1
	require.NoError(t, err)
	_, err = p.Insert(secs(2), potatosat.IncB{}) // b: 1 -> 2
	require.NoError(t, err)
	_, err = p.Insert(secs(3), potatosat.SwapAB{}) // a,b = b,a -> a=2, b=1
	require.NoError(t, err)

	a, err := plan.Sample[uint32](p, potatosat.ResourceA, secs(3))
	require.NoError(t, err)
	require.Equal(t, uint32(2), a)

	b, err := plan.Sample[uint32](p, potatosat.ResourceB, secs(3))
	require.NoError(t, err)
	require.Equal(t, uint32(1), b)
}

// Removing a multi-write node must unwind both of its timeline
// registrations, not just the first.
func TestMultiWriteNodeRollsBackBothResources(t *testing.T) {
	p := newModelPlan(t)
	_, err := p.Insert(secs(0), potatosat.IncA{})
	require.NoError(t, err)
	_, err = p.Insert(secs(1), potatosat.IncB{})
	require.NoError(t, err)
	id, err := p.Insert(secs(2), potatosat.SwapAB{})
	require.NoError(t, err)

	require.NoError(t, p.Remove(id))

	a, err := plan.Sample[uint32](p, potatosat.ResourceA, secs(2))
	require.NoError(t, err)
	require.Equal(t, uint32(1), a)

	b, err := plan.Sample[uint32](p, potatosat.ResourceB, secs(2))
	require.NoError(t, err)
	require.Equal(t, uint32(1), b)

	_, err = p.Insert(secs(3), potatosat.SwapAB{})
	require.NoError(t, err)
	a, err = plan.Sample[uint32](p, potatosat.ResourceA, secs(3))
	require.NoError(t, err)
	require.Equal(t, uint32(1), a)
	b, err = plan.Sample[uint32](p, potatosat.ResourceB, secs(3))
	require.NoError(t, err)
	require.Equal(t, uint32(1), b)
}

// A node declaring a write to a resource the builder never registered
// for this plan must fail insertion with an error, via the
// Builder.NewNode guard.
func TestMultiWriteBuilderRejectsUnregisteredWrite(t *testing.T) {
	p := newModelPlan(t)
	_, err := p.Insert(secs(0), unregisteredWriteActivity{})
	require.Error(t, err)
}

const unregisteredResource resource.ID = 999

type unregisteredWriteActivity struct{}

func (unregisteredWriteActivity) Decompose(g activity.Grounding, b *activity.Builder) (activity.Duration, []*opnode.Node, error) {
	n, err := b.NewNode("unregisteredWriteActivity", activity.TypeID("unregisteredWriteActivity", 0), g,
		[]resource.ID{potatosat.ResourceA}, []resource.ID{unregisteredResource},
		func(reads []any) ([]any, error) { return []any{reads[0]}, nil })
	if err != nil {
		return 0, nil, err
	}
	return 0, []*opnode.Node{n}, nil
}
