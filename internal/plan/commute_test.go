package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joelcourtney/peregrine/examples/potatosat"
	"github.com/joelcourtney/peregrine/internal/plan"
)

// Invariant 6: inserting the same activities (two IncA on a, two IncB
// on b; the a and b chains never read each other's resource) in any
// order yields the same view.
func TestCommutingInsertsOrderIrrelevant(t *testing.T) {
	run := func(order []func(*plan.Plan) error) (uint32, uint32) {
		p := newModelPlan(t)
		for _, step := range order {
			require.NoError(t, step(p))
		}
		a, err := plan.Sample[uint32](p, potatosat.ResourceA, secs(5))
		require.NoError(t, err)
		b, err := plan.Sample[uint32](p, potatosat.ResourceB, secs(5))
		require.NoError(t, err)
		return a, b
	}

	incA0 := func(p *plan.Plan) error { _, err := p.Insert(secs(0), potatosat.IncA{}); return err }
	incA1 := func(p *plan.Plan) error { _, err := p.Insert(secs(1), potatosat.IncA{}); return err }
	incB2 := func(p *plan.Plan) error { _, err := p.Insert(secs(2), potatosat.IncB{}); return err }
	incB3 := func(p *plan.Plan) error { _, err := p.Insert(secs(3), potatosat.IncB{}); return err }

	forward := []func(*plan.Plan) error{incA0, incA1, incB2, incB3}
	reversed := []func(*plan.Plan) error{incB3, incB2, incA1, incA0}
	interleaved := []func(*plan.Plan) error{incB2, incA0, incB3, incA1}

	a1, b1 := run(forward)
	a2, b2 := run(reversed)
	a3, b3 := run(interleaved)

	require.Equal(t, uint32(2), a1)
	require.Equal(t, uint32(2), b1)
	require.Equal(t, a1, a2)
	require.Equal(t, b1, b2)
	require.Equal(t, a1, a3)
	require.Equal(t, b1, b3)
}

// Counter execution totals (a multiset, not a sequence) must also match
// regardless of the order the two Counters (both on a, at 1s and 2s)
// are inserted in.
func TestCommutingInsertsSameExecutionMultiset(t *testing.T) {
	build := func(reverseOrder bool) (int, int) {
		p := newModelPlan(t)
		counterA, countA := potatosat.NewCounter()
		counterB, countB := potatosat.NewCounter()

		aStep := func() error { _, err := p.Insert(secs(1), counterA); return err }
		bStep := func() error { _, err := p.Insert(secs(2), counterB); return err }

		if reverseOrder {
			require.NoError(t, bStep())
			require.NoError(t, aStep())
		} else {
			require.NoError(t, aStep())
			require.NoError(t, bStep())
		}

		_, err := p.Insert(secs(0), potatosat.IncA{})
		require.NoError(t, err)
		_, err = p.Insert(secs(3), potatosat.IncB{})
		require.NoError(t, err)

		_, err = plan.Sample[uint32](p, potatosat.ResourceA, secs(3))
		require.NoError(t, err)
		_, err = plan.Sample[uint32](p, potatosat.ResourceB, secs(3))
		require.NoError(t, err)
		return *countA, *countB
	}

	a1, b1 := build(false)
	a2, b2 := build(true)

	require.Equal(t, 1, a1)
	require.Equal(t, 1, b1)
	require.Equal(t, a1, a2)
	require.Equal(t, b1, b2)
}
