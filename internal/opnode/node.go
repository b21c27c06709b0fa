package opnode

import (
	"sync"

	"github.com/joelcourtney/peregrine/internal/chrono"
	"github.com/joelcourtney/peregrine/internal/resource"
	"github.com/joelcourtney/peregrine/internal/runtime"
)

// GroundingKind tags a Node's time assignment.
type GroundingKind int

const (
	GroundingStatic GroundingKind = iota
	GroundingDynamic
)

// Grounding is the tagged union describing when a node runs: either a
// single known instant, or an instant in [Min,Max] determined by
// reading Grounder's output.
type Grounding struct {
	Kind GroundingKind

	At Duration // valid when Kind == GroundingStatic

	Min, Max Duration // valid when Kind == GroundingDynamic
	Grounder Writer    // valid when Kind == GroundingDynamic
}

// Duration is a local alias so this file reads in terms of its own
// vocabulary; it is identical to chrono.Duration.
type Duration = chrono.Duration

// StaticGrounding constructs a Static(t) grounding.
func StaticGrounding(t Duration) Grounding {
	return Grounding{Kind: GroundingStatic, At: t}
}

// DynamicGrounding constructs a Dynamic{min,max,grounder} grounding.
func DynamicGrounding(min, max Duration, grounder Writer) Grounding {
	return Grounding{Kind: GroundingDynamic, Min: min, Max: max, Grounder: grounder}
}

// Node is the atom of execution: a pure function from declared
// resource reads to declared resource writes, plus a structural hash,
// realized as the Dormant->Working->Done state machine.
type Node struct {
	// ActivityLabel and TypeID give error-reporting context and the
	// node's structural type identity, respectively. Both are fixed at
	// construction.
	ActivityLabel string
	TypeID        uint64

	Grounding Grounding
	body      Body

	writeAdapters []WriteAdapter
	resolver      UpstreamResolver

	mu      sync.Mutex
	state   State
	result  *Result
	pending []Continuation

	// downstreams is the retained, ever-registered list used by
	// NotifyDownstreams; distinct from pending, which is one-shot.
	downstreams []downstreamEdge

	reads        []readSlot
	pendingReads int

	resolvedTime      Duration
	groundingResolved bool
	hash              uint64

	// groundingWaiters holds continuations asking for this node's own
	// resolved time — used when this node is another node's Grounder, or
	// a candidate an UngroundedResolver is choosing between — separate
	// from pending, which holds continuations waiting on a declared
	// write's value.
	groundingWaiters []Continuation

	initial bool
}

// IsInitialCondition reports whether this node was constructed by
// NewInitialCondition, used by Plan.Remove to reject attempts to remove
// it.
func (n *Node) IsInitialCondition() bool {
	return n.initial
}

// Hash returns the node's structural hash, valid once the node is Done.
func (n *Node) Hash() (uint64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hash, n.state == Done
}

// NewNode constructs a node with fixed declared reads/writes. reads is
// the ordered list of resources this node's body consumes; writeAdapters
// is the ordered list of resource-specific history glue for what it
// produces, in the same order body's returned []any must follow.
func NewNode(activityLabel string, typeID uint64, grounding Grounding, reads []resource.ID, writeAdapters []WriteAdapter, body Body, resolver UpstreamResolver) *Node {
	slots := make([]readSlot, len(reads))
	for i, rid := range reads {
		slots[i] = readSlot{resourceID: rid}
	}
	return &Node{
		ActivityLabel: activityLabel,
		TypeID:        typeID,
		Grounding:     grounding,
		body:          body,
		writeAdapters: writeAdapters,
		resolver:      resolver,
		reads:         slots,
	}
}

// WriteResourceIDs returns the resource ids this node writes, in the
// order its body's return values must follow — used by Plan.Insert and
// Plan.Remove to register/deregister the node against each write
// timeline without either package reaching into Node's private fields.
func (n *Node) WriteResourceIDs() []resource.ID {
	ids := make([]resource.ID, len(n.writeAdapters))
	for i, wa := range n.writeAdapters {
		ids[i] = wa.ResourceID()
	}
	return ids
}

// EffectiveTime returns the node's resolved grounding time. Valid only
// once grounding has resolved (after the node has left Dormant for a
// Dynamic grounding, or always for a Static one); callers that need it
// earlier should request the node first.
func (n *Node) EffectiveTime() (Duration, bool) {
	if n.Grounding.Kind == GroundingStatic {
		return n.Grounding.At, true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resolvedTime, n.groundingResolved
}

// Request implements Writer, realizing the request protocol. A
// ContGrounding continuation is answered out of band by
// requestGroundingTime: it wants this node's own resolved execution
// time, not a value from one of its declared writes, and must not wait
// on reads or the body to run.
func (n *Node) Request(s *runtime.Scope, cont Continuation, resourceID resource.ID, alreadyRegistered bool, depth int) {
	if cont.Kind == ContGrounding {
		n.requestGroundingTime(s, cont, alreadyRegistered, depth)
		return
	}

	n.mu.Lock()

	if !alreadyRegistered {
		n.downstreams = append(n.downstreams, downstreamEdge{cont: cont})
	}

	switch n.state {
	case Done:
		result := n.result
		n.mu.Unlock()
		resp, err := result.forResource(resourceID)
		dispatch(s, cont, resp, err, depth)
		return

	case Working:
		n.pending = append(n.pending, cont)
		n.mu.Unlock()
		return

	default: // Dormant
		n.pending = append(n.pending, cont)
		n.state = Working
		// Only reads that were actually cleared (or never bound) still
		// need a response; a node re-entering Dormant after a partial
		// invalidation (clearUpstream) may already hold responses for
		// some of its declared reads.
		missing := 0
		for i := range n.reads {
			if n.reads[i].response == nil {
				missing++
			}
		}
		n.pendingReads = missing
		n.mu.Unlock()

		s.RunOnStack(depth, func(depth int) {
			n.start(s, depth)
		})
	}
}

// requestGroundingTime answers a request for this node's own resolved
// execution time: used when this node is another node's Grounder, or a
// candidate an UngroundedResolver's fan-out is choosing between. It
// resolves the instant Grounding itself resolves, never waiting on this
// node's reads or body — those may still be in flight long after its
// time is already fixed.
func (n *Node) requestGroundingTime(s *runtime.Scope, cont Continuation, alreadyRegistered bool, depth int) {
	n.mu.Lock()
	if !alreadyRegistered {
		n.downstreams = append(n.downstreams, downstreamEdge{cont: cont})
	}

	if n.groundingResolved {
		t := n.resolvedTime
		n.mu.Unlock()
		cont.GroundingCB(t, nil)
		return
	}

	if n.state == Done {
		// Grounding never resolved before this node finished — it must
		// have failed (onGroundingResolved's error branch), and every
		// waiter queued before that point was already drained with the
		// same error.
		err := n.result.Err
		n.mu.Unlock()
		cont.GroundingCB(0, err)
		return
	}

	n.groundingWaiters = append(n.groundingWaiters, cont)
	wasDormant := n.state == Dormant
	if wasDormant {
		n.state = Working
		missing := 0
		for i := range n.reads {
			if n.reads[i].response == nil {
				missing++
			}
		}
		n.pendingReads = missing
	}
	n.mu.Unlock()

	if wasDormant {
		s.RunOnStack(depth, func(depth int) {
			n.start(s, depth)
		})
	}
}

// start resolves grounding (if needed) and then dispatches upstream
// requests for every declared read. Only ever called once per Dormant
// -> Working transition.
func (n *Node) start(s *runtime.Scope, depth int) {
	if n.Grounding.Kind == GroundingDynamic {
		n.mu.Lock()
		alreadyResolved := n.groundingResolved
		n.mu.Unlock()
		if !alreadyResolved {
			n.requestGrounding(s, depth)
			return
		}
	} else {
		n.mu.Lock()
		n.resolvedTime = n.Grounding.At
		n.groundingResolved = true
		waiters := n.groundingWaiters
		n.groundingWaiters = nil
		n.mu.Unlock()
		for _, w := range waiters {
			w.GroundingCB(n.Grounding.At, nil)
		}
	}

	if len(n.reads) == 0 {
		n.finishReads(s, depth)
		return
	}
	n.dispatchReads(s, depth)
}

func (n *Node) requestGrounding(s *runtime.Scope, depth int) {
	cont := Continuation{
		Kind: ContGrounding,
		GroundingCB: func(t Duration, err error) {
			n.onGroundingResolved(t, err, s, depth)
		},
	}
	// The grounder answers a ContGrounding request with its own resolved
	// time via requestGroundingTime, which ignores resourceID entirely —
	// the grounder need not have declared any write under this id, or
	// any write at all.
	n.Grounding.Grounder.Request(s, cont, resource.ID(0), false, depth)
}

func (n *Node) onGroundingResolved(t Duration, err error, s *runtime.Scope, depth int) {
	if err != nil {
		n.mu.Lock()
		waiters := n.groundingWaiters
		n.groundingWaiters = nil
		n.mu.Unlock()
		for _, w := range waiters {
			w.GroundingCB(0, err)
		}
		n.finishWithObservedError(s, depth)
		return
	}
	if t < n.Grounding.Min || t > n.Grounding.Max {
		runtime.PanicInvariant("dynamic grounding produced a time outside [min,max]")
	}

	n.mu.Lock()
	n.resolvedTime = t
	n.groundingResolved = true
	waiters := n.groundingWaiters
	n.groundingWaiters = nil
	n.mu.Unlock()
	for _, w := range waiters {
		w.GroundingCB(t, nil)
	}

	if len(n.reads) == 0 {
		n.finishReads(s, depth)
		return
	}
	n.dispatchReads(s, depth)
}

// dispatchReads resolves (if necessary) and requests every declared
// read whose response is still missing.
func (n *Node) dispatchReads(s *runtime.Scope, depth int) {
	n.mu.Lock()
	effectiveTime := n.resolvedTime
	type toRequest struct {
		idx        int
		upstream   Writer
		registered bool
	}
	var work []toRequest
	for i := range n.reads {
		slot := &n.reads[i]
		if slot.response != nil {
			continue
		}
		if slot.upstream == nil {
			up, err := n.resolver.QueryUpstream(slot.resourceID, effectiveTime)
			if err != nil {
				n.mu.Unlock()
				n.onResponse(i, Response{}, err, s, depth)
				return
			}
			slot.upstream = up
		}
		work = append(work, toRequest{idx: i, upstream: slot.upstream, registered: slot.registered})
		slot.registered = true
	}
	resourceIDs := make([]resource.ID, len(n.reads))
	for i := range n.reads {
		resourceIDs[i] = n.reads[i].resourceID
	}
	n.mu.Unlock()

	if len(work) == 0 {
		// Every declared read already holds a response (this node
		// re-entered Dormant via a partial invalidation that only
		// touched its grounding, or all its reads survived clearing);
		// nothing to wait on, so finish immediately.
		n.finishReads(s, depth)
		return
	}

	for i, w := range work {
		isLast := i == len(work)-1
		cont := Continuation{Kind: ContNode, TargetNode: n, SlotIndex: w.idx}
		rid := resourceIDs[w.idx]
		if isLast {
			s.RunOnStack(depth, func(depth int) {
				w.upstream.Request(s, cont, rid, w.registered, depth)
			})
		} else {
			s.Spawn(func() {
				w.upstream.Request(s, cont, rid, w.registered, 0)
			})
		}
	}
}

// onResponse is called (possibly inline, possibly from a spawned
// goroutine) when the upstream bound to read slot idx produces a value
// or an error.
func (n *Node) onResponse(idx int, resp Response, err error, s *runtime.Scope, depth int) {
	n.mu.Lock()
	slot := &n.reads[idx]
	if err != nil {
		slot.err = err
	} else {
		r := resp
		slot.response = &r
	}
	n.pendingReads--
	remaining := n.pendingReads
	n.mu.Unlock()

	if remaining > 0 {
		return
	}
	n.finishReads(s, depth)
}

// finishReads computes the structural hash, checks for an upstream
// error, consults the history cache, executes the body on a miss, and
// transitions to Done.
func (n *Node) finishReads(s *runtime.Scope, depth int) {
	n.mu.Lock()
	var upstreamErr error
	for i := range n.reads {
		if n.reads[i].err != nil {
			upstreamErr = n.reads[i].err
			break
		}
	}
	if upstreamErr != nil {
		n.mu.Unlock()
		n.finishWithObservedError(s, depth)
		return
	}

	h := structuralHash(n.TypeID, n.reads)

	responses := make(map[resource.ID]Response, len(n.writeAdapters))
	allCached := true
	for _, wa := range n.writeAdapters {
		resp, ok := wa.Get(h)
		if !ok {
			allCached = false
			break
		}
		responses[wa.ResourceID()] = resp
	}

	if allCached {
		n.result = &Result{Responses: responses}
		n.state = Done
		n.hash = h
		n.mu.Unlock()
		n.drain(s, depth)
		return
	}

	readValues := make([]any, len(n.reads))
	for i := range n.reads {
		readValues[i] = n.reads[i].response.Value
	}
	n.mu.Unlock()

	writes, bodyErr := n.body(readValues)
	if bodyErr != nil {
		s.Errors().Push(&runtime.BodyError{ActivityLabel: n.ActivityLabel, Time: n.resolvedTime, Cause: bodyErr})
		n.finishWithObservedError(s, depth)
		return
	}
	if len(writes) != len(n.writeAdapters) {
		runtime.PanicInvariant("activity body returned a different number of writes than declared")
	}

	responses = make(map[resource.ID]Response, len(n.writeAdapters))
	for i, wa := range n.writeAdapters {
		responses[wa.ResourceID()] = wa.Insert(h, writes[i])
	}

	n.mu.Lock()
	n.result = &Result{Responses: responses}
	n.state = Done
	n.hash = h
	n.mu.Unlock()
	n.drain(s, depth)
}

func (n *Node) finishWithObservedError(s *runtime.Scope, depth int) {
	n.mu.Lock()
	n.result = &Result{Err: runtime.ErrObservedError}
	n.state = Done
	n.mu.Unlock()
	n.drain(s, depth)
}

// drain runs every pending continuation exactly once: all but one
// spawned, the last run inline if under the stack limit.
func (n *Node) drain(s *runtime.Scope, depth int) {
	n.mu.Lock()
	conts := n.pending
	n.pending = nil
	result := n.result
	n.mu.Unlock()

	for i, cont := range conts {
		c := cont
		resp, err := result.forResource(resourceIDForContinuation(c))
		isLast := i == len(conts)-1
		if isLast {
			s.RunOnStack(depth, func(depth int) {
				dispatch(s, c, resp, err, depth)
			})
		} else {
			s.Spawn(func() {
				dispatch(s, c, resp, err, 0)
			})
		}
	}
}

func resourceIDForContinuation(c Continuation) resource.ID {
	switch c.Kind {
	case ContNode:
		return c.TargetNode.reads[c.SlotIndex].resourceID
	case ContRoot:
		return c.RootResourceID
	default:
		// ContGrounding never reaches drain(): requestGroundingTime queues
		// it into groundingWaiters instead of pending, and answers it
		// directly from resolvedTime.
		return resource.ID(0)
	}
}

func (r *Result) forResource(id resource.ID) (Response, error) {
	if r.Err != nil {
		return Response{}, r.Err
	}
	resp, ok := r.Responses[id]
	if !ok {
		// A writer being requested for a resource it never declared as
		// a write is a wiring bug upstream of this node, not a runtime
		// condition the engine should tolerate silently.
		runtime.PanicInvariant("writer has no response for requested resource")
	}
	return resp, nil
}
