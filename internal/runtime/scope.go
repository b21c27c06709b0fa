// Package runtime implements the request/response evaluation protocol's
// scheduling half: a scoped, bounded-parallel worker pool and the error
// accumulator.
//
// All computation requested by one Plan.View call happens inside one
// Scope and is joined before View returns; nothing escapes the scope
// boundary.
package runtime

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultStackLimit bounds how many nested inline continuation dispatches run
// on the calling goroutine's stack before the runtime switches to
// spawning. It gives cheap execution on long linear chains while
// preventing stack overflow on pathological ones.
const DefaultStackLimit = 512

// Scope is one evaluation session: a bounded worker pool joined at the
// end of exactly one Plan.View call.
type Scope struct {
	ctx        context.Context
	group      *errgroup.Group
	errs       *ErrorAccumulator
	stackLimit int
}

// NewScope creates a Scope bounded to `workers` concurrent goroutines.
// workers <= 0 means unbounded (errgroup's default).
func NewScope(ctx context.Context, workers int, stackLimit int) *Scope {
	if ctx == nil {
		ctx = context.Background()
	}
	if stackLimit <= 0 {
		stackLimit = DefaultStackLimit
	}
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	return &Scope{ctx: ctx, group: g, errs: NewErrorAccumulator(), stackLimit: stackLimit}
}

func (s *Scope) Context() context.Context { return s.ctx }

func (s *Scope) Errors() *ErrorAccumulator { return s.errs }

func (s *Scope) StackLimit() int { return s.stackLimit }

// Spawn submits fn to run on the scope's worker pool. fn returns no
// error, so a spawned task never makes Wait fail; body/grounding errors
// go through the ErrorAccumulator instead.
func (s *Scope) Spawn(fn func()) {
	s.group.Go(func() error {
		fn()
		return nil
	})
}

// Wait blocks until every spawned task has completed. The scope always
// drains fully regardless of accumulated body/grounding errors: those
// are carried in s.Errors(), not in the errgroup's own error channel.
func (s *Scope) Wait() error {
	return s.group.Wait()
}

// RunOnStack runs fn on the calling goroutine if depth is still under
// the scope's stack limit (passing depth+1 to fn for any further nested
// inline call the callee makes), otherwise spawns fn on the worker pool
// with depth 0 — deferred work starts a fresh call stack.
//
// This is the shared decision point both operation-node continuation
// dispatch and upstream request dispatch delegate to.
func (s *Scope) RunOnStack(depth int, fn func(depth int)) {
	if depth < s.stackLimit {
		fn(depth + 1)
		return
	}
	s.Spawn(func() { fn(0) })
}

// ErrorAccumulator is the per-scope, multi-writer error collection:
// each distinct body/grounding failure is recorded exactly once,
// regardless of how many downstream readers observe the ObservedError
// marker in its place. A single mutex-guarded slice is simpler than a
// lock-free structure and the accumulator is never on a hot path.
type ErrorAccumulator struct {
	mu   sync.Mutex
	errs []error
}

func NewErrorAccumulator() *ErrorAccumulator {
	return &ErrorAccumulator{}
}

// Push records err unless it is the sentinel ObservedError marker, which
// by construction is never the first recording of a failure (a body or
// grounding error is always pushed directly by the node that produced
// it, before any downstream observes it as ObservedError).
func (a *ErrorAccumulator) Push(err error) {
	if err == nil || err == ErrObservedError {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, err)
}

// Empty reports whether any true error has been recorded.
func (a *ErrorAccumulator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.errs) == 0
}

// First returns the first-recorded error (the root cause: whichever
// body/grounding error was pushed before any other), or nil if none
// was recorded.
func (a *ErrorAccumulator) First() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.errs) == 0 {
		return nil
	}
	return a.errs[0]
}

// All returns every recorded error in recording order, for diagnostics.
func (a *ErrorAccumulator) All() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]error, len(a.errs))
	copy(out, a.errs)
	return out
}
