package plan_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joelcourtney/peregrine/examples/potatosat"
	"github.com/joelcourtney/peregrine/internal/plan"
)

// Scenario 9: a reader whose upstream walk lands inside a dynamically
// grounded writer's [min,max) window resolves through an
// UngroundedResolver, and picks the dynamic writer once its trigger
// resolves to a time strictly before the read.
func TestScenarioDynamicGroundingWins(t *testing.T) {
	p := newModelPlan(t)

	_, err := p.Insert(secs(5), potatosat.DynamicIncA{Min: secs(0), Max: secs(10)})
	require.NoError(t, err)
	_, err = p.Insert(secs(7), potatosat.SetBToA{})
	require.NoError(t, err)

	b, err := plan.Sample[uint32](p, potatosat.ResourceB, secs(7))
	require.NoError(t, err)
	require.Equal(t, uint32(1), b)
}

// Scenario 10: a reader landing before the dynamic writer's trigger has
// resolved falls back to the earlier grounded writer instead.
func TestScenarioDynamicGroundingFallsBackToGrounded(t *testing.T) {
	p := newModelPlan(t)

	_, err := p.Insert(secs(10), potatosat.DynamicIncA{Min: secs(5), Max: secs(20)})
	require.NoError(t, err)
	_, err = p.Insert(secs(6), potatosat.SetBToA{})
	require.NoError(t, err)

	b, err := plan.Sample[uint32](p, potatosat.ResourceB, secs(6))
	require.NoError(t, err)
	require.Equal(t, uint32(0), b)
}
