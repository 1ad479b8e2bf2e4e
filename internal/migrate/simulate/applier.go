package simulate

import (
	"context"
	"sync"
	"time"

	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/outpostdb/migrator/internal/migrate/op"
)

// RunnerApplier adapts the pure Applier to the runner's applier
// contract, so a whole chain can be executed against the in-memory
// mirror instead of a live database. Bookkeeping lives in an in-memory
// map with the same applied/reverted semantics the Redis applier keeps
// in its migration_state hash.
type RunnerApplier struct {
	applier *Applier

	mu      sync.Mutex
	state   *State
	schemas chain.Schemas
	applied map[string]appliedRecord
	current string
}

type appliedRecord struct {
	name       string
	appliedAt  time.Time
	revertedAt *time.Time
}

// NewRunnerApplier returns an adapter over a fresh empty state.
func NewRunnerApplier(opts ...Option) *RunnerApplier {
	return &RunnerApplier{
		applier: New(opts...),
		state:   NewState(),
		applied: map[string]appliedRecord{},
	}
}

// State returns the current mirror state. The returned value is shared;
// callers must treat it as read-only.
func (r *RunnerApplier) State() *State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *RunnerApplier) ApplyOperation(ctx context.Context, o op.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := r.applier.Apply(r.state, o)
	if err != nil {
		return err
	}
	r.state = next
	return nil
}

func (r *RunnerApplier) ApplyReverseOperation(ctx context.Context, o op.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next, err := r.applier.ApplyReverse(r.state, o)
	if err != nil {
		return err
	}
	r.state = next
	return nil
}

// SynchronizeSchemas records the bundle; the mirror has no server-side
// validators to patch.
func (r *RunnerApplier) SynchronizeSchemas(ctx context.Context, schemas chain.Schemas) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas = schemas
	return nil
}

func (r *RunnerApplier) SetCurrentMigrationID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = id
}

func (r *RunnerApplier) IsMigrationApplied(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.applied[id]
	return ok && rec.revertedAt == nil, nil
}

func (r *RunnerApplier) MarkMigrationApplied(ctx context.Context, id, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied[id] = appliedRecord{name: name, appliedAt: time.Now()}
	return nil
}

func (r *RunnerApplier) MarkMigrationReverted(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.applied[id]
	now := time.Now()
	rec.revertedAt = &now
	r.applied[id] = rec
	return nil
}
