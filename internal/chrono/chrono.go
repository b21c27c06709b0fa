// Package chrono holds Peregrine's single internal time representation.
//
// User-facing epochs are converted to this scale once at the boundary
// (the CLI, or a test harness) and never again: comparisons in richer
// calendrical types are expensive, and comparisons dominate the
// engine's runtime.
package chrono

import "fmt"

// Duration is a signed offset from a plan's epoch, in nanoseconds.
//
// It is the only time representation the engine touches internally.
// External callers convert to/from wall-clock or mission time outside
// this package; that conversion is out of scope here.
type Duration int64

const (
	Nanosecond  Duration = 1
	Microsecond          = 1000 * Nanosecond
	Millisecond          = 1000 * Microsecond
	Second               = 1000 * Millisecond
	Minute               = 60 * Second
	Hour                 = 60 * Minute
)

func (d Duration) String() string {
	return fmt.Sprintf("%ds", int64(d)/int64(Second))
}

// Range is an inclusive-start, inclusive-end span of Durations, used by
// Plan.View.
type Range struct {
	Start Duration
	End   Duration
}

// Contains reports whether t falls within [r.Start, r.End].
func (r Range) Contains(t Duration) bool {
	return t >= r.Start && t <= r.End
}

// Point returns a zero-width Range at t, used by Plan.Sample.
func Point(t Duration) Range {
	return Range{Start: t, End: t}
}
