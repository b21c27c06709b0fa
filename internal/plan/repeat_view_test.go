package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joelcourtney/peregrine/examples/potatosat"
	"github.com/joelcourtney/peregrine/internal/chrono"
	"github.com/joelcourtney/peregrine/internal/plan"
)

// Repeated back-to-back view/sample calls with no intervening edit must
// never re-execute a node body: the cache-hit contract guarantees an
// unmodified plan's repeat reads are served entirely from history.
func TestRepeatedViewsWithoutEditsDoNotReexecute(t *testing.T) {
	p := newModelPlan(t)
	counter, count := potatosat.NewCounter()

	_, err := p.Insert(secs(0), potatosat.IncA{})
	require.NoError(t, err)
	_, err = p.Insert(secs(1), counter)
	require.NoError(t, err)
	_, err = p.Insert(secs(2), potatosat.IncA{})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		a, err := plan.Sample[uint32](p, potatosat.ResourceA, secs(2))
		require.NoError(t, err)
		require.Equal(t, uint32(2), a)
	}

	require.Equal(t, 1, *count)
}

// Repeated View calls over a range spanning several writers must also
// stay cache-stable and return a consistent, time-sorted result set
// every time.
func TestRepeatedRangeViewsStable(t *testing.T) {
	p := newModelPlan(t)
	_, err := p.Insert(secs(0), potatosat.IncA{})
	require.NoError(t, err)
	_, err = p.Insert(secs(1), potatosat.IncA{})
	require.NoError(t, err)
	_, err = p.Insert(secs(2), potatosat.IncA{})
	require.NoError(t, err)

	rng := chrono.Range{Start: secs(-1), End: secs(2)}
	var first []plan.TimedRead[uint32]
	for i := 0; i < 5; i++ {
		rows, err := plan.View[uint32](p, potatosat.ResourceA, rng)
		require.NoError(t, err)
		if i == 0 {
			first = rows
			continue
		}
		require.Equal(t, first, rows)
	}
	require.NotEmpty(t, first)
	for i := 1; i < len(first); i++ {
		require.Less(t, first[i-1].Time, first[i].Time)
	}
}
