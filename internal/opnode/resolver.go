package opnode

import (
	"sync"

	"github.com/joelcourtney/peregrine/internal/resource"
	"github.com/joelcourtney/peregrine/internal/runtime"
)

// ungroundedCandidate is one time-bounded writer competing to be the
// winning upstream for a single reader.
type ungroundedCandidate struct {
	writer Writer
	// groundingTime, once resolved, is this candidate's actual
	// execution time (within its declared [min,max]).
	groundingTime Duration
	resolved      bool
	err           error
}

// UngroundedResolver is instantiated on demand by a timeline query that
// finds more than one viable writer for a reader's upstream: some combination of a grounded fallback plus
// several ungrounded candidates whose actual time isn't known until
// their grounding resolves.
//
// It implements Writer so callers treat it exactly like any other
// upstream: requesting it transparently triggers the fan-out-then-pick
// protocol below, caches the decision, and delegates.
type UngroundedResolver struct {
	groundedFallback Writer // may be nil
	candidates       []*ungroundedCandidate
	evalTime         Duration
	resourceID       resource.ID

	mu       sync.Mutex
	once     sync.Once
	decided  bool
	winner   Writer
	waiting  []Continuation
	groundingErr error
}

// NewUngroundedResolver seeds a resolver with the grounded fallback (nil
// if none), the ungrounded candidates collected during a timeline walk,
// and the reader's effective evaluation time.
func NewUngroundedResolver(resourceID resource.ID, groundedFallback Writer, candidates []Writer, evalTime Duration) *UngroundedResolver {
	cs := make([]*ungroundedCandidate, len(candidates))
	for i, c := range candidates {
		cs[i] = &ungroundedCandidate{writer: c}
	}
	return &UngroundedResolver{
		resourceID:       resourceID,
		groundedFallback: groundedFallback,
		candidates:       cs,
		evalTime:         evalTime,
	}
}

// Request implements Writer. If a decision is already cached, it
// delegates immediately; otherwise it queues cont and, on first call,
// fans out grounding requests to every candidate.
func (r *UngroundedResolver) Request(s *runtime.Scope, cont Continuation, resourceID resource.ID, alreadyRegistered bool, depth int) {
	r.mu.Lock()
	if r.decided {
		winner := r.winner
		gerr := r.groundingErr
		r.mu.Unlock()
		if winner == nil {
			dispatch(s, cont, Response{}, gerr, depth)
			return
		}
		winner.Request(s, cont, resourceID, false, depth)
		return
	}
	r.waiting = append(r.waiting, cont)
	r.mu.Unlock()

	r.once.Do(func() {
		r.fanOut(s, depth)
	})
}

// fanOut issues one grounding request per candidate, tagged with its
// index so responses can be paired back.
func (r *UngroundedResolver) fanOut(s *runtime.Scope, depth int) {
	if len(r.candidates) == 0 {
		r.decide(s, depth)
		return
	}
	remaining := len(r.candidates)
	var mu sync.Mutex

	for _, c := range r.candidates {
		candidate := c
		groundingCont := Continuation{
			Kind: ContGrounding,
			GroundingCB: func(t Duration, err error) {
				mu.Lock()
				candidate.resolved = true
				candidate.groundingTime = t
				candidate.err = err
				remaining--
				done := remaining == 0
				mu.Unlock()
				if done {
					r.decide(s, depth)
				}
			},
		}
		candidate.writer.Request(s, groundingCont, resource.ID(0), false, depth)
	}
}

// decide picks the winning candidate — the greatest resolved time
// strictly less than the reader's evaluation time, compared against the
// grounded fallback's time, later wins — caches
// it, and delegates every queued continuation.
func (r *UngroundedResolver) decide(s *runtime.Scope, depth int) {
	var winner Writer
	var bestTime Duration
	haveBest := false
	var firstErr error

	for _, c := range r.candidates {
		if c.err != nil {
			if firstErr == nil {
				firstErr = c.err
			}
			continue
		}
		if c.groundingTime >= r.evalTime {
			continue
		}
		if !haveBest || c.groundingTime > bestTime {
			bestTime = c.groundingTime
			winner = c.writer
			haveBest = true
		}
	}

	if r.groundedFallback != nil && !haveBest {
		winner = r.groundedFallback
		haveBest = true
	}
	// The grounded fallback's time is, by construction of the timeline
	// walk that produced it, always earlier than every ungrounded
	// candidate's floor — so it only wins when no ungrounded candidate
	// qualifies at all.

	r.mu.Lock()
	waiting := r.waiting
	r.waiting = nil
	r.decided = true
	r.winner = winner
	if !haveBest {
		r.groundingErr = firstErr
	}
	r.mu.Unlock()

	for i, cont := range waiting {
		c := cont
		isLast := i == len(waiting)-1
		deliver := func(depth int) {
			if winner == nil {
				dispatch(s, c, Response{}, r.groundingErr, depth)
				return
			}
			winner.Request(s, c, r.resourceID, false, depth)
		}
		if isLast {
			s.RunOnStack(depth, deliver)
		} else {
			s.Spawn(func() { deliver(0) })
		}
	}
}
