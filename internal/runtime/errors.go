package runtime

import (
	"errors"
	"fmt"

	"github.com/joelcourtney/peregrine/internal/chrono"
)

// Sentinel errors for programmatic checking via errors.Is, one family
// per error kind. Each pairs a bare sentinel with a typed wrapper that
// implements Unwrap, so callers can errors.Is against the kind while
// still recovering the structured detail.
var (
	// ErrStructural covers insert-before-initial-conditions, removal of
	// an unknown activity/node, and removal of an initial condition.
	ErrStructural = errors.New("peregrine: structural error")

	// ErrBody covers an activity body returning a failure.
	ErrBody = errors.New("peregrine: activity body error")

	// ErrGrounding covers a dynamic grounding resolving to an error.
	ErrGrounding = errors.New("peregrine: grounding error")

	// ErrCacheInvariant marks a history-store contract violation: an
	// expected hash-keyed write was missing at the point of a declared
	// cache hit. Treated as a bug, not a recoverable error: callers
	// should let it panic rather than catch it.
	ErrCacheInvariant = errors.New("peregrine: cache invariant violated")
)

// ErrObservedError is the sentinel propagated in place of a value when
// an upstream has already recorded a true error. It suppresses duplicate recording in
// ErrorAccumulator.Push and must never itself be wrapped or recorded.
var ErrObservedError = errors.New("peregrine: observed upstream error")

// StructuralError is returned synchronously from Plan.Insert/Plan.Remove
// and is never recorded in the ErrorAccumulator.
type StructuralError struct {
	Op  string // "insert" or "remove"
	Msg string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("peregrine: structural error during %s: %s", e.Op, e.Msg)
}

func (e *StructuralError) Unwrap() error { return ErrStructural }

// BodyError attributes an activity body failure to its activity label
// and effective time, recorded once per distinct failure.
type BodyError struct {
	ActivityLabel string
	Time          chrono.Duration
	Cause         error
}

func (e *BodyError) Error() string {
	return fmt.Sprintf("peregrine: %s@%s: %v", e.ActivityLabel, e.Time, e.Cause)
}

func (e *BodyError) Unwrap() error { return ErrBody }

// GroundingError attributes a dynamic-grounding resolution failure to
// its grounding node's activity label.
type GroundingError struct {
	ActivityLabel string
	Cause         error
}

func (e *GroundingError) Error() string {
	return fmt.Sprintf("peregrine: grounding for %s: %v", e.ActivityLabel, e.Cause)
}

func (e *GroundingError) Unwrap() error { return ErrGrounding }

// CacheInvariantViolation is raised (as a panic, never returned) when a
// hash the engine itself just inserted is missing on a subsequent
// lookup it expected to be a guaranteed hit.
type CacheInvariantViolation struct {
	Hash uint64
	Msg  string
}

func (e *CacheInvariantViolation) Error() string {
	return fmt.Sprintf("peregrine: cache invariant violated at hash %x: %s", e.Hash, e.Msg)
}

func (e *CacheInvariantViolation) Unwrap() error { return ErrCacheInvariant }

// PanicCacheInvariant is the single call site every cache-hit consumer
// should use so the fatal-assertion policy is applied uniformly.
func PanicCacheInvariant(hash uint64, msg string) {
	panic(&CacheInvariantViolation{Hash: hash, Msg: msg})
}

// InvariantViolation marks any other engine invariant assertion failing
// outside the cache path (e.g. a dynamic grounding producing a time
// outside its own declared bounds). Like CacheInvariantViolation, this
// is a bug, not a recoverable condition, so it is raised as a panic.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string { return "peregrine: invariant violated: " + e.Msg }

func PanicInvariant(msg string) {
	panic(&InvariantViolation{Msg: msg})
}
