package opnode

import "github.com/joelcourtney/peregrine/internal/resource"

// NotifyDownstreams is called by a timeline when a writer at changeTime
// supersedes or removes a previous writer; it walks n's retained
// downstream edges and asks each to clear its binding to n if the
// change actually affects it.
//
// Downstreams that needed clearing are dropped from the retained list
// (they re-subscribe, if needed, the next time they are evaluated);
// downstreams the change does not reach remain registered so future
// edits continue to be checked against them.
func (n *Node) NotifyDownstreams(changeTime Duration) {
	n.notifyDownstreams(&changeTime)
}

// NotifyRemoval is the unconditional form of NotifyDownstreams used by
// Plan.Remove: the writer itself is being torn out of the plan, so every
// retained downstream must clear its binding regardless of timing
// (changeTime == nil in clearUpstream's contract).
func (n *Node) NotifyRemoval() {
	n.notifyDownstreams(nil)
}

func (n *Node) notifyDownstreams(changeTime *Duration) {
	n.mu.Lock()
	edges := append([]downstreamEdge(nil), n.downstreams...)
	n.mu.Unlock()

	var kept []downstreamEdge
	for _, e := range edges {
		if e.cont.Kind != ContNode {
			// Root/grounding continuations belong to a single, already
			// -finished evaluation scope; they are never valid
			// invalidation targets beyond that scope's lifetime, so
			// they are pruned here rather than carried forward forever.
			continue
		}
		if e.cont.TargetNode.clearUpstream(changeTime, n) {
			kept = append(kept, e)
		}
	}

	n.mu.Lock()
	n.downstreams = kept
	n.mu.Unlock()
}

// clearUpstream is invoked on a downstream node when one of its upstream
// writers (upstream) may have changed at changeTime (nil means
// unconditional: used when an upstream is removed outright by
// Plan.Remove). It returns whether n should remain registered against
// upstream's retained-downstreams list.
//
// If changeTime is nil or strictly before this node's resolved time,
// the affected read slot is cleared, the cached result (if any) is
// dropped, and the clear cascades to n's own downstreams.
func (n *Node) clearUpstream(changeTime *Duration, upstream Writer) bool {
	n.mu.Lock()

	// A Dormant node has no result for anything downstream to have
	// observed, but after a partial invalidation it may still hold
	// bindings and responses for its other reads, so the affected slot
	// is still looked up and cleared below like any other.

	if changeTime != nil && !n.groundingResolved {
		// Grounding itself must be re-resolved before this node's
		// effective time is even known; conservatively treat as
		// affected.
	} else if changeTime != nil && *changeTime >= n.resolvedTime {
		// The change happened at or after this node's own effective
		// time. Upstreams strictly precede downstreams in time, so a
		// change this late can never alter what n's own queries would
		// have resolved to.
		n.mu.Unlock()
		return true
	}

	affected := -1
	for i := range n.reads {
		if n.reads[i].upstream == upstream {
			affected = i
			break
		}
	}
	if affected < 0 {
		n.mu.Unlock()
		return true
	}

	n.reads[affected].clear()
	wasDone := n.state == Done
	if wasDone {
		n.result = nil
		n.state = Dormant
	}
	downstreamsSnapshot := append([]downstreamEdge(nil), n.downstreams...)
	n.mu.Unlock()

	if !wasDone {
		// Dormant, or still Working (the response for the cleared slot
		// simply hasn't arrived yet: a concurrent clear racing the
		// initial evaluation); nothing further downstream has observed
		// a result from n, so there is nothing to cascade.
		return false
	}

	// Cascade: this node's own result is now stale, so anything that
	// read *from* n must also be told.
	var kept []downstreamEdge
	for _, e := range downstreamsSnapshot {
		if e.cont.Kind != ContNode {
			continue
		}
		if e.cont.TargetNode.clearUpstream(changeTime, n) {
			kept = append(kept, e)
		}
	}
	n.mu.Lock()
	n.downstreams = kept
	n.mu.Unlock()

	return false
}

// RemovedUpstream unconditionally clears any binding n's reads hold to
// upstream and cascades, used by Plan.Remove when upstream itself is
// being torn out of the plan.
func (n *Node) RemovedUpstream(upstream Writer) {
	n.clearUpstream(nil, upstream)
}

// DropsDownstream removes any retained edge pointing at target, used
// alongside RemovedUpstream so a removed node stops appearing in its own
// upstreams' retained-downstream lists.
func (n *Node) DropsDownstream(target *Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	kept := n.downstreams[:0:0]
	for _, e := range n.downstreams {
		if e.cont.Kind == ContNode && e.cont.TargetNode == target {
			continue
		}
		kept = append(kept, e)
	}
	n.downstreams = kept
}

// ReadResourceIDs returns the resource ids this node declares as reads,
// in declared order.
func (n *Node) ReadResourceIDs() []resource.ID {
	ids := make([]resource.ID, len(n.reads))
	for i := range n.reads {
		ids[i] = n.reads[i].resourceID
	}
	return ids
}

// Upstreams returns the currently-bound upstream Writer for each read
// slot (nil if unresolved), in declared order.
func (n *Node) Upstreams() []Writer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Writer, len(n.reads))
	for i := range n.reads {
		out[i] = n.reads[i].upstream
	}
	return out
}
