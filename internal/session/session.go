// Package session owns the process-lifetime state a Plan is built on
// top of: the resource registry, each resource's content-addressed
// history store, and the serialization plugin registry that lets a
// session's accumulated history cross process boundaries.
package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joelcourtney/peregrine/internal/chrono"
	"github.com/joelcourtney/peregrine/internal/history"
	"github.com/joelcourtney/peregrine/internal/opnode"
	"github.com/joelcourtney/peregrine/internal/plan"
	"github.com/joelcourtney/peregrine/internal/resource"
	"github.com/joelcourtney/peregrine/internal/timeline"
)

// EngineConfig tunes the evaluation engine away from its defaults.
type EngineConfig struct {
	Workers    int
	StackLimit int
	Logger     *zap.SugaredLogger
}

// Option mutates an EngineConfig at Session construction.
type Option func(*EngineConfig)

// WithWorkers bounds a Plan's scoped worker pool (0 means unbounded).
func WithWorkers(n int) Option { return func(c *EngineConfig) { c.Workers = n } }

// WithStackLimit overrides the inline-dispatch stack-depth heuristic.
func WithStackLimit(n int) Option { return func(c *EngineConfig) { c.StackLimit = n } }

// WithLogger injects a structured logger; a nil logger (the default)
// means every log call is a no-op.
func WithLogger(l *zap.SugaredLogger) Option { return func(c *EngineConfig) { c.Logger = l } }

// Session is the process-lifetime owner of resource registration and
// accumulated history. Many Plans may be built from one Session's
// NewPlan, each with its own independent timelines and arena, but all
// sharing (and growing) the same history stores — the mechanism that
// lets cache hits cross plan branches.
type Session struct {
	ID uuid.UUID

	mu        sync.Mutex
	resources *resource.Registry
	historyR  *history.Registry
	adapters  map[resource.ID]opnode.WriteAdapter

	// pending, when non-nil, is a snapshot from a prior session that
	// RegisterResource consults as each resource comes online, so a
	// resource registered after SessionFromHistory still gets its
	// history seeded.
	pending *history.Snapshot

	cfg    EngineConfig
	logger *zap.SugaredLogger
}

// NewSession constructs an empty session: no resources registered yet.
// Call RegisterResource for each resource the model uses before calling
// NewPlan.
func NewSession(opts ...Option) *Session {
	return newSession(nil, opts...)
}

// SessionFromHistory constructs a session whose resources, once
// registered, are seeded from h. Resource registration is still
// required per resource (Go generics cannot re-derive a resource's Go
// Write type from a label alone), so callers register exactly as they
// would against NewSession and seeding happens transparently during
// each RegisterResource call.
func SessionFromHistory(h *history.Snapshot, opts ...Option) *Session {
	return newSession(h, opts...)
}

func newSession(pending *history.Snapshot, opts ...Option) *Session {
	cfg := EngineConfig{StackLimit: 0}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Session{
		ID:        uuid.New(),
		resources: resource.NewRegistry(),
		historyR:  history.NewRegistry(),
		adapters:  make(map[resource.ID]opnode.WriteAdapter),
		pending:   pending,
		cfg:       cfg,
		logger:    logger,
	}
}

// RegisterResource ties a resource's typed Read/Write shape to a
// content-addressed history.Store and (optionally) a serialization
// Plugin, seeding that store from the session's pending snapshot (if
// any) under plugin.Label(). Must be package-level rather than a Session
// method because Go methods cannot introduce new type parameters.
func RegisterResource[W any, Rd any](s *Session, desc resource.Descriptor, toRead func(W) Rd, plugin history.Plugin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.resources.Register(desc); err != nil {
		return err
	}

	store := history.New[W]()
	if s.pending != nil && plugin != nil {
		if raw, ok := s.pending.Get(plugin.Label()); ok {
			decoded, err := plugin.Decode(raw)
			if err != nil {
				return fmt.Errorf("session: decoding seeded history for %q: %w", desc.Label, err)
			}
			typed, ok := decoded.(*history.Store[W])
			if !ok {
				return fmt.Errorf("session: plugin for %q decoded an unexpected store type", desc.Label)
			}
			store = typed
		}
	}

	s.adapters[desc.ID] = &typedAdapter[W, Rd]{resourceID: desc.ID, store: store, toRead: toRead}
	if plugin != nil {
		if err := s.historyR.RegisterResource(desc.Label, store, plugin); err != nil {
			return err
		}
	}
	return nil
}

// NewPlan builds a fresh Plan rooted at epoch, seeded with one
// initial-condition node per resource in initial. Every registered
// resource must have exactly one entry in initial.
func (s *Session) NewPlan(epoch chrono.Duration, initial map[resource.ID]any) (*plan.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.resources.IDs()
	if len(initial) != len(ids) {
		return nil, fmt.Errorf("session: expected %d initial conditions, got %d", len(ids), len(initial))
	}

	timelines := timeline.NewRegistry()
	adapters := make(map[resource.ID]opnode.WriteAdapter, len(s.adapters))
	for id, a := range s.adapters {
		adapters[id] = a
	}

	for _, id := range ids {
		desc, _ := s.resources.Lookup(id)
		value, ok := initial[id]
		if !ok {
			return nil, fmt.Errorf("session: missing initial condition for resource %q (id %d)", desc.Label, id)
		}
		serialized, err := serializeForHash(value)
		if err != nil {
			return nil, fmt.Errorf("session: serializing initial condition for %q: %w", desc.Label, err)
		}
		n := opnode.NewInitialCondition(desc.Label, serialized, adapters[id], value)
		if err := timelines.Init(id, epoch, n); err != nil {
			return nil, err
		}
	}

	return plan.New(epoch, timelines, adapters, s.resources, plan.Config{Workers: s.cfg.Workers, StackLimit: s.cfg.StackLimit}, s.logger), nil
}

// IntoHistory serializes every registered resource's accumulated
// history into a portable Snapshot.
func (s *Session) IntoHistory() (*history.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyR.IntoSnapshot()
}
