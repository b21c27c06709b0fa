// Package plan implements the Plan facade: incremental insert/remove of
// activities, and the view/sample read path that drives the
// request/response runtime.
package plan

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/joelcourtney/peregrine/internal/arena"
	"github.com/joelcourtney/peregrine/internal/chrono"
	"github.com/joelcourtney/peregrine/internal/opnode"
	"github.com/joelcourtney/peregrine/internal/resource"
	"github.com/joelcourtney/peregrine/internal/runtime"
	"github.com/joelcourtney/peregrine/internal/timeline"
	"github.com/joelcourtney/peregrine/pkg/activity"
)

type Duration = chrono.Duration

// Config bounds a Plan's evaluation scopes.
type Config struct {
	Workers    int
	StackLimit int
}

// record is one inserted activity's bookkeeping: its nodes, kept so
// Remove can deregister every one of them deterministically.
type record struct {
	id    activity.ID
	nodes []*opnode.Node
}

// Plan is one editable, queryable timeline of activities over a shared
// set of resources, rooted at a fixed epoch and a complete set of
// initial conditions.
type Plan struct {
	mu sync.Mutex

	epoch      Duration
	timelines  *timeline.Registry
	arena      *arena.Arena[opnode.Node]
	adapters   map[resource.ID]opnode.WriteAdapter
	resources  *resource.Registry
	activities map[activity.ID]*record
	nextID     activity.ID

	cfg    Config
	logger *zap.SugaredLogger
}

// New constructs a Plan. Callers are expected to be internal/session,
// which owns the adapters/resources/timelines this Plan is handed —
// model code never calls this directly.
func New(epoch Duration, timelines *timeline.Registry, adapters map[resource.ID]opnode.WriteAdapter, resources *resource.Registry, cfg Config, logger *zap.SugaredLogger) *Plan {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.StackLimit <= 0 {
		cfg.StackLimit = runtime.DefaultStackLimit
	}
	return &Plan{
		epoch:      epoch,
		timelines:  timelines,
		arena:      arena.New[opnode.Node](),
		adapters:   adapters,
		resources:  resources,
		activities: make(map[activity.ID]*record),
		nextID:     1,
		cfg:        cfg,
		logger:     logger,
	}
}

// Insert decomposes act at its start grounding and registers every
// resulting node into its declared write timelines. It fails with a
// *runtime.StructuralError if decomposition itself fails, or if any
// node would be placed at or before its resource's initial condition.
func (p *Plan) Insert(at Duration, act activity.Activity) (activity.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := activity.NewBuilder(p.arena, p.timelines, p.adapters)
	_, nodes, err := act.Decompose(activity.StaticGrounding(at), b)
	if err != nil {
		return 0, &runtime.StructuralError{Op: "insert", Msg: err.Error()}
	}

	id := p.nextID
	p.nextID++

	inserted := make([]resourceWrite, 0, len(nodes))
	for _, n := range nodes {
		for _, rid := range n.WriteResourceIDs() {
			switch n.Grounding.Kind {
			case opnode.GroundingStatic:
				if n.Grounding.At <= p.epoch {
					p.rollback(inserted)
					return 0, &runtime.StructuralError{Op: "insert", Msg: fmt.Sprintf("activity %T writes resource %d at or before the plan epoch", act, rid)}
				}
				if err := p.timelines.InsertGrounded(rid, n.Grounding.At, n); err != nil {
					p.rollback(inserted)
					return 0, &runtime.StructuralError{Op: "insert", Msg: err.Error()}
				}
				inserted = append(inserted, resourceWrite{resourceID: rid, grounded: true, at: n.Grounding.At})
			case opnode.GroundingDynamic:
				if n.Grounding.Max <= p.epoch {
					p.rollback(inserted)
					return 0, &runtime.StructuralError{Op: "insert", Msg: fmt.Sprintf("activity %T writes resource %d entirely before the plan epoch", act, rid)}
				}
				if err := p.timelines.InsertUngrounded(rid, n.Grounding.Min, n.Grounding.Max, n); err != nil {
					p.rollback(inserted)
					return 0, &runtime.StructuralError{Op: "insert", Msg: err.Error()}
				}
				inserted = append(inserted, resourceWrite{resourceID: rid, grounded: false, min: n.Grounding.Min, max: n.Grounding.Max})
			}
		}
	}

	p.activities[id] = &record{id: id, nodes: nodes}
	p.logger.Debugw("activity inserted", "id", id, "time", at, "nodes", len(nodes))
	return id, nil
}

// resourceWrite records enough about one already-performed timeline
// mutation to undo it, used only by Insert's rollback-on-partial-failure
// path so a failed insert never leaves a half-registered activity behind.
type resourceWrite struct {
	resourceID resource.ID
	grounded   bool
	at         Duration
	min, max   Duration
}

func (p *Plan) rollback(done []resourceWrite) {
	for i := len(done) - 1; i >= 0; i-- {
		w := done[i]
		if w.grounded {
			_ = p.timelines.RemoveGrounded(w.resourceID, w.at)
		} else {
			_ = p.timelines.RemoveUngrounded(w.resourceID, w.min, w.max)
		}
	}
}

// Remove tears activity id out of the plan: every node it owns is
// deregistered from its write timelines, its retained downstreams are
// unconditionally invalidated, and it is dropped from its upstreams'
// retained-downstream lists.
func (p *Plan) Remove(id activity.ID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.activities[id]
	if !ok {
		return &runtime.StructuralError{Op: "remove", Msg: fmt.Sprintf("activity %d is unknown", id)}
	}
	for _, n := range rec.nodes {
		if n.IsInitialCondition() {
			return &runtime.StructuralError{Op: "remove", Msg: "refusing to remove an initial-condition node"}
		}
	}

	for _, n := range rec.nodes {
		for _, rid := range n.WriteResourceIDs() {
			switch n.Grounding.Kind {
			case opnode.GroundingStatic:
				_ = p.timelines.RemoveGrounded(rid, n.Grounding.At)
			case opnode.GroundingDynamic:
				_ = p.timelines.RemoveUngrounded(rid, n.Grounding.Min, n.Grounding.Max)
			}
		}
		n.NotifyRemoval()
		for _, up := range n.Upstreams() {
			if upNode, ok := up.(*opnode.Node); ok && upNode != nil {
				upNode.DropsDownstream(n)
			}
		}
	}

	delete(p.activities, id)
	p.logger.Debugw("activity removed", "id", id)
	return nil
}

// TimedRead pairs one timeline write's effective time with the Read
// value produced there.
type TimedRead[Rd any] struct {
	Time Duration
	Read Rd
}

// View resolves every grounded/ungrounded writer the range query
// selects, requesting each inside one fresh Scope; results are
// assembled once the scope drains, suppressing ObservedError entries,
// and the plan's accumulated error (if any) wins over a partial result
// set.
func View[Rd any](p *Plan, resourceID resource.ID, rng chrono.Range) ([]TimedRead[Rd], error) {
	p.mu.Lock()
	cfg := p.cfg
	p.mu.Unlock()

	writers, err := p.timelines.Writers(resourceID, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	if len(writers) == 0 {
		return nil, nil
	}

	scope := runtime.NewScope(context.Background(), cfg.Workers, cfg.StackLimit)

	type seeded struct {
		tw timeline.TimedWriter
		ch chan opnode.RootResult
	}
	seeds := make([]seeded, len(writers))
	for i, tw := range writers {
		ch := make(chan opnode.RootResult, 1)
		seeds[i] = seeded{tw: tw, ch: ch}
		cont := opnode.Continuation{Kind: opnode.ContRoot, RootCh: ch, RootTime: tw.Time, RootResourceID: resourceID}
		w := tw.Writer
		scope.Spawn(func() {
			w.Request(scope, cont, resourceID, false, 0)
		})
	}

	if werr := scope.Wait(); werr != nil {
		return nil, fmt.Errorf("plan: view: %w", werr)
	}

	out := make([]TimedRead[Rd], 0, len(seeds))
	for _, sd := range seeds {
		res := <-sd.ch
		if res.Err != nil {
			// The true failure is recorded once in the scope's error
			// accumulator regardless of how many roots observed it as
			// ObservedError.
			continue
		}
		t := sd.tw.Time
		if sd.tw.Ungrounded {
			if n, ok := sd.tw.Writer.(*opnode.Node); ok {
				if et, resolved := n.EffectiveTime(); resolved {
					t = et
				}
			}
		}
		rd, ok := res.Read.(Rd)
		if !ok {
			runtime.PanicInvariant("plan: view: resource read had unexpected Go type")
		}
		out = append(out, TimedRead[Rd]{Time: t, Read: rd})
	}

	if !scope.Errors().Empty() {
		return nil, scope.Errors().First()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

// Sample is View narrowed to a single instant: the last writer at or
// before t.
func Sample[Rd any](p *Plan, resourceID resource.ID, t Duration) (Rd, error) {
	var zero Rd
	rows, err := View[Rd](p, resourceID, chrono.Point(t))
	if err != nil {
		return zero, err
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("plan: sample: no writer for resource %d at or before %s", resourceID, t)
	}
	return rows[len(rows)-1].Read, nil
}
