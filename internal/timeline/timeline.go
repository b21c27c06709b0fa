// Package timeline implements the per-resource ordered write index
// a Plan queries to resolve upstream reads, and the type-indexed
// registry that groups one Timeline per resource.
package timeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"

	"github.com/joelcourtney/peregrine/internal/chrono"
	"github.com/joelcourtney/peregrine/internal/opnode"
	"github.com/joelcourtney/peregrine/internal/resource"
)

type Duration = chrono.Duration

// entry is E(t): a grounded writer plus an ordered (max-time -> writer)
// map of ungrounded writers reachable from this key.
//
// The ungrounded half is kept as a small sorted slice rather than a
// second btree: per-key ungrounded fan-in is expected to stay small (a
// handful of overlapping uncertain writers at most), so a slice with
// linear insert/remove is simpler and at least as fast as a second
// balanced tree at this cardinality — the one deliberate place this
// package doesn't reach for btree a second time.
type entry struct {
	key        Duration
	grounded   opnode.Writer
	ungrounded []ungroundedSlot
}

type ungroundedSlot struct {
	max    Duration
	writer opnode.Writer
}

func lessEntry(a, b *entry) bool { return a.key < b.key }

// Timeline is the ordered per-resource write index.
type Timeline struct {
	resourceID resource.ID

	mu   sync.RWMutex
	tree *btree.BTreeG[*entry]
}

// NewInitialized creates a Timeline seeded with its required, never
// -removable initial-condition entry at epoch.
func NewInitialized(resourceID resource.ID, epoch Duration, initialCondition opnode.Writer) *Timeline {
	tl := &Timeline{
		resourceID: resourceID,
		tree:       btree.NewG[*entry](32, lessEntry),
	}
	tl.tree.ReplaceOrInsert(&entry{key: epoch, grounded: initialCondition})
	return tl
}

func (tl *Timeline) entryAt(key Duration) *entry {
	e, ok := tl.tree.Get(&entry{key: key})
	if ok {
		return e
	}
	return nil
}

func (tl *Timeline) entryAtOrCreate(key Duration) *entry {
	if e := tl.entryAt(key); e != nil {
		return e
	}
	e := &entry{key: key}
	tl.tree.ReplaceOrInsert(e)
	return e
}

// InsertGrounded sets E(t).G = w.
// It returns every writer whose downstreams may now be bound to a stale
// upstream, for the caller (Registry.InsertGrounded) to notify:
//   - if a grounded writer already occupied t, that writer itself (any
//     downstream resolved after t was reading from it directly and must
//     rebind to w instead)
//   - otherwise (w is filling a previously empty slot) whoever a query
//     at t would have resolved to before this insert — every downstream
//     whose own resolved time is after t but before any closer writer
//     had implicitly skipped past t and must now be told a writer now
//     sits between it and that binding
func (tl *Timeline) InsertGrounded(at Duration, w opnode.Writer) (affected []opnode.Writer) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	e := tl.entryAtOrCreate(at)
	if e.grounded != nil {
		affected = append(affected, e.grounded)
	} else {
		affected = tl.writersBeforeLocked(at)
	}
	e.grounded = w
	return affected
}

// RemoveGrounded erases E(t).G.
func (tl *Timeline) RemoveGrounded(at Duration) (removed opnode.Writer) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	e := tl.entryAt(at)
	if e == nil {
		return nil
	}
	removed = e.grounded
	e.grounded = nil
	return removed
}

// InsertUngrounded seeds E(min).U[max] = w, and extends w's reach across
// every existing entry strictly between (min, max). It returns every
// writer whose entries were touched by the extension, plus (mirroring
// InsertGrounded's gap case)
// whoever a query at min would have resolved to before this insert, so
// the caller can notify their downstreams.
func (tl *Timeline) InsertUngrounded(min, max Duration, w opnode.Writer) (touched []opnode.Writer) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	minEntry := tl.entryAtOrCreate(min)
	if minEntry.grounded == nil {
		touched = append(touched, tl.writersBeforeLocked(min)...)
	}
	minEntry.ungrounded = upsertUngrounded(minEntry.ungrounded, max, w)

	tl.tree.AscendRange(&entry{key: min}, &entry{key: max}, func(e *entry) bool {
		if e.key == min {
			return true
		}
		e.ungrounded = upsertUngrounded(e.ungrounded, max, w)
		if e.grounded != nil {
			touched = append(touched, e.grounded)
		}
		for _, u := range e.ungrounded {
			if u.writer != w {
				touched = append(touched, u.writer)
			}
		}
		return true
	})
	return touched
}

func upsertUngrounded(slots []ungroundedSlot, max Duration, w opnode.Writer) []ungroundedSlot {
	i := sort.Search(len(slots), func(i int) bool { return slots[i].max >= max })
	if i < len(slots) && slots[i].max == max {
		slots[i].writer = w
		return slots
	}
	slots = append(slots, ungroundedSlot{})
	copy(slots[i+1:], slots[i:])
	slots[i] = ungroundedSlot{max: max, writer: w}
	return slots
}

// RemoveUngrounded erases E(min).U[max] and the same key from every
// entry in (min, max), mirroring InsertUngrounded's extension.
func (tl *Timeline) RemoveUngrounded(min, max Duration) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if e := tl.entryAt(min); e != nil {
		e.ungrounded = removeUngrounded(e.ungrounded, max)
	}
	tl.tree.AscendRange(&entry{key: min}, &entry{key: max}, func(e *entry) bool {
		if e.key == min {
			return true
		}
		e.ungrounded = removeUngrounded(e.ungrounded, max)
		return true
	})
}

func removeUngrounded(slots []ungroundedSlot, max Duration) []ungroundedSlot {
	for i, s := range slots {
		if s.max == max {
			return append(slots[:i], slots[i+1:]...)
		}
	}
	return slots
}

// QueryUpstream implements the point query: the greatest key
// strictly less than at, merged leftward with any ungrounded writers
// whose reach still spans at, stopping as soon as a definite (grounded,
// or already-committed-by-at ungrounded) writer is found. If any
// ungrounded candidate remains live at at, an UngroundedResolver is
// returned instead of a concrete Writer.
func (tl *Timeline) QueryUpstream(resourceID resource.ID, at Duration) (opnode.Writer, error) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	grounded, uncertain := tl.walkBeforeLocked(at)

	if len(uncertain) == 0 {
		if grounded == nil {
			return nil, fmt.Errorf("timeline: no writer for resource %d at or before %s; insert before initial conditions?", resourceID, at)
		}
		return grounded, nil
	}

	candidates := make([]opnode.Writer, len(uncertain))
	for i, c := range uncertain {
		candidates[i] = c.writer
	}
	return opnode.NewUngroundedResolver(resourceID, grounded, candidates, at), nil
}

// walkBeforeLocked performs the core DescendLessThan walk QueryUpstream
// needs, assuming tl.mu is already held (read or write). It is factored
// out so insert-time gap invalidation (writersBeforeLocked) can reuse the
// exact same resolution logic a later read would use.
func (tl *Timeline) walkBeforeLocked(at Duration) (grounded opnode.Writer, uncertain []struct {
	max    Duration
	writer opnode.Writer
}) {
	seen := make(map[opnode.Writer]bool)

	tl.tree.DescendLessThan(&entry{key: at}, func(e *entry) bool {
		if grounded == nil && e.grounded != nil {
			grounded = e.grounded
		}
		for _, u := range e.ungrounded {
			if u.max > at {
				if !seen[u.writer] {
					seen[u.writer] = true
					uncertain = append(uncertain, struct {
						max    Duration
						writer opnode.Writer
					}{max: u.max, writer: u.writer})
				}
				continue
			}
			if grounded == nil {
				grounded = u.writer
			}
		}
		return grounded == nil
	})
	return grounded, uncertain
}

// writersBeforeLocked returns every writer (grounded fallback plus every
// still-uncertain ungrounded candidate) that a query at `at` would
// currently touch, assuming tl.mu is already held. Used by InsertGrounded
// and InsertUngrounded's gap-fill case: any of these writers' downstreams
// may have bound to them precisely because nothing occupied `at` yet.
func (tl *Timeline) writersBeforeLocked(at Duration) []opnode.Writer {
	grounded, uncertain := tl.walkBeforeLocked(at)
	out := make([]opnode.Writer, 0, len(uncertain)+1)
	if grounded != nil {
		out = append(out, grounded)
	}
	for _, c := range uncertain {
		out = append(out, c.writer)
	}
	return out
}

// Writers returns every grounded writer whose key is within [start,end],
// plus every ungrounded writer whose (min,max) interval intersects the
// range, plus (if no grounded writer sits exactly at start) the last
// grounded writer before start. Used by Plan.View to seed root requests.
func (tl *Timeline) Writers(start, end Duration) []TimedWriter {
	tl.mu.RLock()
	defer tl.mu.RUnlock()

	var out []TimedWriter
	seenUngrounded := make(map[opnode.Writer]bool)

	var lastBefore *TimedWriter
	tl.tree.Ascend(func(e *entry) bool {
		if e.key < start {
			if e.grounded != nil {
				tw := TimedWriter{Time: e.key, Writer: e.grounded}
				lastBefore = &tw
			}
			for _, u := range e.ungrounded {
				if u.max >= start && !seenUngrounded[u.writer] {
					seenUngrounded[u.writer] = true
					out = append(out, TimedWriter{Time: e.key, Writer: u.writer, Ungrounded: true, Max: u.max})
				}
			}
			return true
		}
		if e.key > end {
			return false
		}
		if e.grounded != nil {
			out = append(out, TimedWriter{Time: e.key, Writer: e.grounded})
		}
		for _, u := range e.ungrounded {
			if !seenUngrounded[u.writer] {
				seenUngrounded[u.writer] = true
				out = append(out, TimedWriter{Time: e.key, Writer: u.writer, Ungrounded: true, Max: u.max})
			}
		}
		return true
	})

	if lastBefore != nil {
		hasAtStart := false
		for _, tw := range out {
			if !tw.Ungrounded && tw.Time == start {
				hasAtStart = true
				break
			}
		}
		if !hasAtStart {
			out = append([]TimedWriter{*lastBefore}, out...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// TimedWriter pairs a writer with the timeline key it was found at, used
// by Plan.View to build (time, read) result pairs.
type TimedWriter struct {
	Time       Duration
	Writer     opnode.Writer
	Ungrounded bool
	Max        Duration
}
