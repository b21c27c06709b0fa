package history_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joelcourtney/peregrine/internal/history"
)

type fakeU32Plugin struct{ label string }

func (p *fakeU32Plugin) Label() string { return p.label }

func (p *fakeU32Plugin) Encode(store any) ([]byte, error) {
	s, ok := store.(*history.Store[uint32])
	if !ok {
		return nil, fmt.Errorf("wrong store type")
	}
	return json.Marshal(s.Items())
}

func (p *fakeU32Plugin) Decode(data []byte) (any, error) {
	var items map[uint64]uint32
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	s := history.New[uint32]()
	for h, v := range items {
		s.Seed(h, v)
	}
	return s, nil
}

func identity(w uint32) uint32 { return w }

// A Store's content survives an IntoSnapshot/Plugin-Decode roundtrip
// with every hash->value pair intact.
func TestStoreRoundTripsThroughSnapshot(t *testing.T) {
	store := history.New[uint32]()
	history.Insert(store, 1, 10, identity)
	history.Insert(store, 2, 20, identity)
	history.Insert(store, 3, 30, identity)

	reg := history.NewRegistry()
	plugin := &fakeU32Plugin{label: "x"}
	require.NoError(t, reg.RegisterResource("x", store, plugin))

	snap, err := reg.IntoSnapshot()
	require.NoError(t, err)

	reg2 := history.NewRegistry()
	empty := history.New[uint32]()
	require.NoError(t, reg2.RegisterResource("x", empty, plugin))

	decoded, err := reg2.FromSnapshot(snap)
	require.NoError(t, err)

	restored, ok := decoded["x"].(*history.Store[uint32])
	require.True(t, ok)
	require.Equal(t, store.Len(), restored.Len())

	for h, v := range store.Items() {
		got, ok := restored.Get(h)
		require.True(t, ok)
		require.Equal(t, v, got)
	}
}

// Insert is idempotent on collision: the first value inserted under a
// hash wins, and later inserts under the same hash return the original.
func TestStoreInsertFirstWriterWins(t *testing.T) {
	store := history.New[uint32]()
	rd1 := history.Insert(store, 42, 100, identity)
	rd2 := history.Insert(store, 42, 999, identity)

	require.Equal(t, uint32(100), rd1)
	require.Equal(t, uint32(100), rd2, "second insert under the same hash must observe the first writer's value")
	require.Equal(t, 1, store.Len())
}

// A label present in the snapshot but unknown to the registry (a
// forward-compatible history from a model with more resources) must be
// skipped rather than erroring.
func TestFromSnapshotSkipsUnknownLabels(t *testing.T) {
	snap := history.NewSnapshot()
	snap.Sources["unknown"] = []byte(`{"1":1}`)
	reg := history.NewRegistry()
	decoded, err := reg.FromSnapshot(snap)
	require.NoError(t, err)
	require.Empty(t, decoded)
}

// Registering the same label twice with the same plugin is a no-op;
// registering a different plugin under an already-used label errors.
func TestRegisterResourceConflict(t *testing.T) {
	reg := history.NewRegistry()
	store := history.New[uint32]()
	plugin := &fakeU32Plugin{label: "x"}

	require.NoError(t, reg.RegisterResource("x", store, plugin))
	require.NoError(t, reg.RegisterResource("x", store, plugin))

	other := &fakeU32Plugin{label: "x"}
	require.Error(t, reg.RegisterResource("x", store, other))
}
