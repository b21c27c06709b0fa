// Package opnode implements the operation node state machine: the
// request/respond protocol, grounding resolution, structural hashing,
// history cache lookup/insertion, the UngroundedResolver (resolver.go),
// and downstream invalidation (invalidation.go).
package opnode

import (
	"github.com/joelcourtney/peregrine/internal/chrono"
	"github.com/joelcourtney/peregrine/internal/resource"
	"github.com/joelcourtney/peregrine/internal/runtime"
)

// Response is the value a Writer hands back for one resource read: the
// Read value itself, plus the structural hash that value is keyed
// under in history (or, for an initial condition, the hash of its
// serialized value). The hash is a function of the node's type identity
// and the hashes of all read responses, so it encodes the entire
// upstream DAG inductively.
type Response struct {
	Hash  uint64
	Value any
}

// Writer is anything that can be asked to produce a resource value for a
// given read: an operation Node, an initial condition (also a Node, via
// NewInitialCondition), or an UngroundedResolver standing in for several
// time-bounded candidates.
type Writer interface {
	// Request registers cont as wanting this writer's value for
	// resourceID. alreadyRegistered tells the writer whether the caller
	// has already been recorded as one of its downstreams (so retries
	// after an invalidation don't double-register). depth is the
	// current inline-call-stack depth, threaded through for the
	// stack-limit heuristic.
	Request(s *runtime.Scope, cont Continuation, resourceID resource.ID, alreadyRegistered bool, depth int)
}

// UpstreamResolver is the timeline-registry-shaped capability a Node
// needs to turn "read resource R at time t" into a concrete Writer. It
// is satisfied structurally by *timeline.Registry without opnode ever
// importing the timeline package, keeping the dependency arrow one-way
// (timeline depends on opnode's Writer type, not the reverse).
type UpstreamResolver interface {
	QueryUpstream(resourceID resource.ID, at chrono.Duration) (Writer, error)
}

// ContinuationKind tags which of the three consumer shapes a
// Continuation wraps. Go has closures, but a tagged struct is used
// instead of an opaque func so dispatch stays uniform and downstream
// bookkeeping (the retained-downstreams list used for invalidation) has
// a concrete value to store.
type ContinuationKind int

const (
	ContNode ContinuationKind = iota
	ContRoot
	ContGrounding
)

// Continuation is a pending consumer notification held on a Writer
// while it computes.
type Continuation struct {
	Kind ContinuationKind

	// Populated when Kind == ContNode: which node and read-slot index
	// to deliver the response to.
	TargetNode *Node
	SlotIndex  int

	// Populated when Kind == ContRoot: the one-shot channel Plan.View
	// seeded for a single (time, read) pair.
	RootCh chan<- RootResult
	// RootTime is the timeline key the root request was issued under,
	// carried through so the channel receiver can pair value with time
	// even though the Writer itself doesn't know about Plan.View ranges.
	RootTime chrono.Duration
	// RootResourceID is the resource Plan.View queried, needed to pick
	// the right entry out of a multi-write node's Responses map once
	// this continuation is delivered from n.pending rather than answered
	// immediately from the Request call that carried its own resourceID
	// argument.
	RootResourceID resource.ID

	// Populated when Kind == ContGrounding: invoked with the resolved
	// time (or error) once the grounder finishes.
	GroundingCB func(t chrono.Duration, err error)
}

// RootResult is delivered once to the one-shot channel a Plan.View root
// request seeds.
type RootResult struct {
	Time chrono.Duration
	Read any
	Err  error
}

// dispatch runs cont with resp/err, selecting behavior by cont.Kind.
// Called either inline (by the writer that just transitioned Done, or
// immediately for an already-Done writer) or from a spawned goroutine,
// depending on the stack-depth heuristic applied by the caller.
func dispatch(s *runtime.Scope, cont Continuation, resp Response, err error, depth int) {
	switch cont.Kind {
	case ContNode:
		cont.TargetNode.onResponse(cont.SlotIndex, resp, err, s, depth)
	case ContRoot:
		select {
		case cont.RootCh <- RootResult{Time: cont.RootTime, Read: resp.Value, Err: err}:
		default:
			// Root channels are always receive-buffered by one; a
			// blocked send here would indicate the channel was used
			// for more than a single delivery, which Plan.View never
			// does.
		}
	case ContGrounding:
		if err != nil {
			cont.GroundingCB(0, err)
			return
		}
		t, ok := resp.Value.(chrono.Duration)
		if !ok {
			runtime.PanicInvariant("grounding response value was not a chrono.Duration")
		}
		cont.GroundingCB(t, nil)
	}
}

// State is a node's coarse lifecycle stage.
type State int

const (
	Dormant State = iota
	Working
	Done
)

func (s State) String() string {
	switch s {
	case Dormant:
		return "Dormant"
	case Working:
		return "Working"
	case Done:
		return "Done"
	default:
		return "Unknown"
	}
}

// Result is a node's single current output: either a real set of
// write responses, or the ObservedError marker in Err.
type Result struct {
	// Responses maps each declared write resource to the Response it
	// produced, valid only when Err == nil.
	Responses map[resource.ID]Response
	Err       error
}

// Body is the pure function an activity op's node wraps: reads, in the
// node's declared read order, produce writes, in its declared write
// order.
type Body func(reads []any) ([]any, error)

// WriteAdapter is the resource-specific glue between a node's untyped
// write values and its resource's typed history.Store, used so Node
// itself never needs a type parameter (Go cannot parameterize a single
// struct over N independently-typed writes).
type WriteAdapter interface {
	ResourceID() resource.ID
	// Insert stores value under hash h (idempotently) and returns the
	// Response downstream readers will see.
	Insert(hash uint64, value any) Response
	// Get probes the cache without inserting.
	Get(hash uint64) (Response, bool)
}

// readSlot is one declared upstream read: a resource id plus whatever
// binding/response state has accumulated since the last invalidation.
type readSlot struct {
	resourceID resource.ID

	upstream   Writer
	registered bool

	response *Response
	err      error
}

func (s *readSlot) clear() {
	s.upstream = nil
	s.registered = false
	s.response = nil
	s.err = nil
}

// downstreamEdge is one retained (ever-registered) downstream
// continuation, kept distinct from the one-shot pending queue so
// NotifyDownstreams can walk it repeatedly across many edits.
type downstreamEdge struct {
	cont Continuation
}
