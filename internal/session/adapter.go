package session

import (
	"encoding/json"
	"fmt"

	"github.com/joelcourtney/peregrine/internal/history"
	"github.com/joelcourtney/peregrine/internal/opnode"
	"github.com/joelcourtney/peregrine/internal/resource"
	"github.com/joelcourtney/peregrine/internal/runtime"
)

// typedAdapter closes over one resource's concrete Write/Read Go types,
// implementing opnode.WriteAdapter so Node itself never needs a type
// parameter (Go cannot parameterize a single struct field over N
// independently-typed writes — see internal/resource's package doc).
type typedAdapter[W any, Rd any] struct {
	resourceID resource.ID
	store      *history.Store[W]
	toRead     func(W) Rd
}

func (a *typedAdapter[W, Rd]) ResourceID() resource.ID { return a.resourceID }

func (a *typedAdapter[W, Rd]) Insert(h uint64, value any) opnode.Response {
	w, ok := value.(W)
	if !ok {
		runtime.PanicInvariant(fmt.Sprintf("write adapter for resource %d received a value of the wrong Go type", a.resourceID))
	}
	rd := history.Insert(a.store, h, w, a.toRead)
	return opnode.Response{Hash: h, Value: rd}
}

func (a *typedAdapter[W, Rd]) Get(h uint64) (opnode.Response, bool) {
	w, ok := a.store.Get(h)
	if !ok {
		return opnode.Response{}, false
	}
	return opnode.Response{Hash: h, Value: a.toRead(w)}, true
}

// serializeForHash produces a stable byte encoding of an initial
// condition value for use as InitialConditionHash's input. This is
// narrower than history.Plugin's serialization boundary: it only ever
// needs to be deterministic for the handful of primitive or struct
// Write types a model actually uses as initial conditions, not
// efficient or forward-compatible, so plain encoding/json is enough.
// The real, versioned persistence path is history.Plugin, not this
// helper.
func serializeForHash(value any) ([]byte, error) {
	return json.Marshal(value)
}
