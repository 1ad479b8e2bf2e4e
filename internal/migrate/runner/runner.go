// Package runner executes a migration chain end to end: validate, apply
// operation by operation under retry and timeout, post-validate, and
// (on request) roll a chain back in reverse order syncing each target's
// schemas first (spec §4.7). It is grounded on the teacher's fresh
// Redis migration runner: lock-guarded apply loop and progress logging.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/outpostdb/migrator/internal/logging"
	"github.com/outpostdb/migrator/internal/migrate/builder"
	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/outpostdb/migrator/internal/migrate/migrateerr"
	"github.com/outpostdb/migrator/internal/migrate/op"
	"github.com/outpostdb/migrator/internal/migrate/validate"
	"github.com/outpostdb/migrator/internal/redislock"
	"go.uber.org/zap"
)

// Applier is the contract the runner drives, satisfied by both
// dbapplier.Applier (live Redis) and simulate.RunnerApplier (the
// in-memory mirror).
type Applier interface {
	ApplyOperation(ctx context.Context, o op.Operation) error
	ApplyReverseOperation(ctx context.Context, o op.Operation) error
	SynchronizeSchemas(ctx context.Context, schemas chain.Schemas) error
	SetCurrentMigrationID(id string)
	IsMigrationApplied(ctx context.Context, id string) (bool, error)
	MarkMigrationApplied(ctx context.Context, id, name string) error
	MarkMigrationReverted(ctx context.Context, id string) error
}

// Progress phases, in the order a migration moves through them.
const (
	PhaseValidation = "validation"
	PhaseExecution  = "execution"
	PhaseCompleted  = "completed"
)

// Operation callback phases.
const (
	OperationBefore = "before"
	OperationAfter  = "after"
)

// ProgressEvent is delivered to OnProgress as a migration advances
// through its phases.
type ProgressEvent struct {
	MigrationID string
	Phase       string
	Total       int
	Completed   int
}

// OperationEvent is delivered to OnOperation before and after each
// operation. Err is set only on the after event of a failed operation.
type OperationEvent struct {
	MigrationID string
	Operation   op.Operation
	Phase       string
	Err         error
}

// Config configures a Runner. Runner-level retries use a fixed
// RetryDelay between attempts; the exponential, jittered curve lives in
// the applier's own write-conflict policy.
type Config struct {
	ValidateBeforeExecution bool
	ValidateAfterExecution  bool
	ContinueOnErrors        bool
	ContinueOnWarnings      bool
	DryRun                  bool
	MaxRetries              int
	RetryDelay              time.Duration
	OperationTimeout        time.Duration
	OnProgress              func(ProgressEvent)
	OnOperation             func(OperationEvent)
	Logger                  *logging.Logger
	Lock                    redislock.Lock
}

// DefaultConfig matches spec §4.7's stated defaults.
func DefaultConfig() Config {
	return Config{
		ValidateBeforeExecution: true,
		ValidateAfterExecution:  true,
		ContinueOnWarnings:      true,
		MaxRetries:              3,
		RetryDelay:              100 * time.Millisecond,
		OperationTimeout:        30 * time.Second,
	}
}

// Result summarizes one Up or Down run across every migration touched.
type Result struct {
	Success           bool
	AppliedOperations int
	Warnings          []string
	Errors            []string
	ExecutionTime     time.Duration
	Migrations        []string
}

// Runner drives a migration chain against an Applier.
type Runner struct {
	applier Applier
	cfg     Config
}

// New returns a configured Runner. If cfg.Logger is nil, log calls are
// skipped.
func New(applier Applier, cfg Config) *Runner {
	return &Runner{applier: applier, cfg: cfg}
}

func (r *Runner) log() *logging.Logger { return r.cfg.Logger }

func (r *Runner) logInfo(msg string, fields ...zap.Field) {
	if l := r.log(); l != nil {
		l.Info(msg, fields...)
	}
}

func (r *Runner) logWarn(msg string, fields ...zap.Field) {
	if l := r.log(); l != nil {
		l.Warn(msg, fields...)
	}
}

func (r *Runner) logError(msg string, err error, fields ...zap.Field) {
	if l := r.log(); l != nil {
		l.Error(msg, append(fields, zap.Error(err))...)
	}
}

func (r *Runner) progress(e ProgressEvent) {
	if r.cfg.OnProgress != nil {
		r.cfg.OnProgress(e)
	}
}

func (r *Runner) operation(e OperationEvent) {
	if r.cfg.OnOperation != nil {
		r.cfg.OnOperation(e)
	}
}

// Up applies every not-yet-applied migration on the path from the
// chain's root to target, in order. With ContinueOnErrors, a failed
// migration is recorded in the result and the batch moves on;
// otherwise the first failure stops the batch before any later
// migration starts.
func (r *Runner) Up(ctx context.Context, target *chain.Definition) (*Result, error) {
	start := time.Now()
	res := &Result{Success: true}

	for _, def := range chain.Path(target) {
		applied, err := r.applier.IsMigrationApplied(ctx, def.ID)
		if err != nil {
			res.Success = false
			res.ExecutionTime = time.Since(start)
			wrapped := migrateerr.Wrap(migrateerr.KindDriverError, "check migration state", err)
			res.Errors = append(res.Errors, wrapped.Error())
			return res, wrapped
		}
		if applied {
			continue
		}
		if err := r.applyOne(ctx, def, res); err != nil {
			res.Errors = append(res.Errors, err.Error())
			if r.cfg.ContinueOnErrors {
				r.logWarn("migration failed, continuing batch", zap.String("migration", def.ID), zap.Error(err))
				continue
			}
			res.Success = false
			res.ExecutionTime = time.Since(start)
			return res, err
		}
		res.Migrations = append(res.Migrations, def.ID)
	}
	res.ExecutionTime = time.Since(start)
	return res, nil
}

// applyOne validates, applies, and post-validates a single migration.
func (r *Runner) applyOne(ctx context.Context, def *chain.Definition, res *Result) error {
	if r.cfg.Lock != nil {
		ok, err := r.cfg.Lock.AttemptLock(ctx)
		if err != nil {
			return migrateerr.Wrap(migrateerr.KindDriverError, "acquire migration lock", err)
		}
		if !ok {
			return migrateerr.New(migrateerr.KindDriverError, "migration lock already held")
		}
		defer r.cfg.Lock.Unlock(ctx)
		// Re-read the bookkeeping under the lock: another invocation may
		// have applied def since Up checked it.
		applied, err := r.applier.IsMigrationApplied(ctx, def.ID)
		if err != nil {
			return migrateerr.Wrap(migrateerr.KindDriverError, "check migration state", err)
		}
		if applied {
			return nil
		}
	}

	r.logInfo("running migration", zap.String("migration", def.ID), zap.String("name", def.Name))
	r.progress(ProgressEvent{MigrationID: def.ID, Phase: PhaseValidation})

	b := builder.New()
	state := def.Compile(b)

	if r.cfg.ValidateBeforeExecution {
		integrity := validate.Integrity(state)
		res.Warnings = append(res.Warnings, integrity.Warnings...)
		if !integrity.OK {
			return migrateerr.New(migrateerr.KindValidationFailed, fmt.Sprintf("integrity check failed for %s: %v", def.ID, integrity.Errors))
		}
		if len(integrity.Warnings) > 0 && !r.cfg.ContinueOnWarnings {
			return migrateerr.New(migrateerr.KindValidationFailed, fmt.Sprintf("integrity warnings for %s: %v", def.ID, integrity.Warnings))
		}
		sim := validate.Simulation(def, true)
		res.Warnings = append(res.Warnings, sim.Warnings...)
		if !sim.OK {
			return migrateerr.New(migrateerr.KindValidationFailed, fmt.Sprintf("simulation check failed for %s: %v", def.ID, sim.Errors))
		}
	}

	r.progress(ProgressEvent{MigrationID: def.ID, Phase: PhaseExecution, Total: len(state.Operations)})

	if !r.cfg.DryRun {
		r.applier.SetCurrentMigrationID(def.ID)
		if err := r.applier.SynchronizeSchemas(ctx, def.Schemas); err != nil {
			return migrateerr.Wrap(migrateerr.KindDriverError, "synchronize schemas for "+def.ID, err)
		}
	}

	total := len(state.Operations)
	for i, o := range state.Operations {
		r.operation(OperationEvent{MigrationID: def.ID, Operation: o, Phase: OperationBefore})

		var err error
		if !r.cfg.DryRun {
			err = r.applyWithRetry(ctx, o, false)
		}
		r.operation(OperationEvent{MigrationID: def.ID, Operation: o, Phase: OperationAfter, Err: err})

		if err != nil {
			if r.cfg.ContinueOnErrors {
				r.logWarn("operation failed, continuing", zap.String("migration", def.ID), zap.Error(err))
				res.Errors = append(res.Errors, err.Error())
				continue
			}
			r.logError("operation failed", err, zap.String("migration", def.ID))
			return err
		}
		res.AppliedOperations++
		r.progress(ProgressEvent{MigrationID: def.ID, Phase: PhaseExecution, Total: total, Completed: i + 1})
	}

	if r.cfg.ValidateAfterExecution {
		sim := validate.Simulation(def, false)
		res.Warnings = append(res.Warnings, sim.Warnings...)
		if !sim.OK {
			return migrateerr.New(migrateerr.KindValidationFailed, fmt.Sprintf("post-execution validation failed for %s: %v", def.ID, sim.Errors))
		}
	}

	if !r.cfg.DryRun {
		if err := r.applier.MarkMigrationApplied(ctx, def.ID, def.Name); err != nil {
			return migrateerr.Wrap(migrateerr.KindDriverError, "mark migration applied: "+def.ID, err)
		}
	}

	r.progress(ProgressEvent{MigrationID: def.ID, Phase: PhaseCompleted, Total: total, Completed: total})
	r.logInfo("migration complete", zap.String("migration", def.ID))
	return nil
}

// Down reverses from and every ancestor back to (but not including)
// newBase, in reverse chain order, syncing the rollback target's
// schemas before reversing so the applier always validates against the
// schema that will be current once the rollback completes.
func (r *Runner) Down(ctx context.Context, from *chain.Definition, newBase *chain.Definition) (*Result, error) {
	start := time.Now()
	res := &Result{Success: true}

	path := chain.Path(from)
	var toRevert []*chain.Definition
	cutoff := ""
	if newBase != nil {
		cutoff = newBase.ID
	}
	for _, def := range path {
		if def.ID == cutoff {
			// newBase and its ancestors stay applied.
			toRevert = toRevert[:0]
			continue
		}
		toRevert = append(toRevert, def)
	}

	for i := len(toRevert) - 1; i >= 0; i-- {
		def := toRevert[i]
		if err := r.revertOne(ctx, def, newBase, res); err != nil {
			res.Errors = append(res.Errors, err.Error())
			if r.cfg.ContinueOnErrors {
				r.logWarn("revert failed, continuing batch", zap.String("migration", def.ID), zap.Error(err))
				continue
			}
			res.Success = false
			res.ExecutionTime = time.Since(start)
			return res, err
		}
		res.Migrations = append(res.Migrations, def.ID)
	}
	res.ExecutionTime = time.Since(start)
	return res, nil
}

func (r *Runner) revertOne(ctx context.Context, def *chain.Definition, parentTarget *chain.Definition, res *Result) error {
	if r.cfg.Lock != nil {
		ok, err := r.cfg.Lock.AttemptLock(ctx)
		if err != nil {
			return migrateerr.Wrap(migrateerr.KindDriverError, "acquire migration lock", err)
		}
		if !ok {
			return migrateerr.New(migrateerr.KindDriverError, "migration lock already held")
		}
		defer r.cfg.Lock.Unlock(ctx)
	}

	applied, err := r.applier.IsMigrationApplied(ctx, def.ID)
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "check migration state", err)
	}
	if !applied {
		return nil
	}

	r.logInfo("reverting migration", zap.String("migration", def.ID))
	r.progress(ProgressEvent{MigrationID: def.ID, Phase: PhaseValidation})

	b := builder.New()
	state := def.Compile(b)
	if state.Irreversible() {
		return migrateerr.New(migrateerr.KindIrreversibleTransform, "migration "+def.ID+" contains an irreversible operation")
	}

	r.progress(ProgressEvent{MigrationID: def.ID, Phase: PhaseExecution, Total: len(state.Operations)})

	// The rollback target's schemas go live before any reverse
	// operation so server-side validators stop rejecting the
	// pre-migration document shape (spec §4.7).
	if !r.cfg.DryRun && parentTarget != nil {
		if err := r.applier.SynchronizeSchemas(ctx, parentTarget.Schemas); err != nil {
			return migrateerr.Wrap(migrateerr.KindDriverError, "synchronize parent schemas before rollback", err)
		}
	}

	if !r.cfg.DryRun {
		r.applier.SetCurrentMigrationID(def.ID)
	}

	total := len(state.Operations)
	for i := total - 1; i >= 0; i-- {
		o := state.Operations[i]
		r.operation(OperationEvent{MigrationID: def.ID, Operation: o, Phase: OperationBefore})

		var err error
		if !r.cfg.DryRun {
			err = r.applyWithRetry(ctx, o, true)
		}
		r.operation(OperationEvent{MigrationID: def.ID, Operation: o, Phase: OperationAfter, Err: err})

		if err != nil {
			if r.cfg.ContinueOnErrors {
				r.logWarn("reverse operation failed, continuing", zap.String("migration", def.ID), zap.Error(err))
				res.Errors = append(res.Errors, err.Error())
				continue
			}
			return err
		}
		res.AppliedOperations++
		r.progress(ProgressEvent{MigrationID: def.ID, Phase: PhaseExecution, Total: total, Completed: total - i})
	}

	if !r.cfg.DryRun {
		if err := r.applier.MarkMigrationReverted(ctx, def.ID); err != nil {
			return migrateerr.Wrap(migrateerr.KindDriverError, "mark migration reverted: "+def.ID, err)
		}
	}

	r.progress(ProgressEvent{MigrationID: def.ID, Phase: PhaseCompleted, Total: total, Completed: total})
	r.logInfo("migration reverted", zap.String("migration", def.ID))
	return nil
}

// applyWithRetry runs one operation with a timeout and a bounded number
// of fixed-delay retries, distinct from the applier's own internal
// write-conflict retry: this layer retries the whole operation after
// driver-level failures the applier gave up on.
func (r *Runner) applyWithRetry(ctx context.Context, o op.Operation, reverse bool) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		opCtx := ctx
		var cancel context.CancelFunc
		if r.cfg.OperationTimeout > 0 {
			opCtx, cancel = context.WithTimeout(ctx, r.cfg.OperationTimeout)
		}

		var err error
		if reverse {
			err = r.applier.ApplyReverseOperation(opCtx, o)
		} else {
			err = r.applier.ApplyOperation(opCtx, o)
		}
		deadlineHit := errors.Is(opCtx.Err(), context.DeadlineExceeded)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return nil
		}
		lastErr = err

		if deadlineHit {
			lastErr = migrateerr.Wrap(migrateerr.KindTimeout, "operation timed out", err)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return migrateerr.Wrap(migrateerr.KindCancelled, "operation cancelled", err)
		}

		var mErr *migrateerr.MigrationError
		if errors.As(err, &mErr) && mErr.Kind == migrateerr.KindIrreversibleTransform {
			return err // never worth retrying
		}

		if attempt < r.cfg.MaxRetries {
			select {
			case <-time.After(r.cfg.RetryDelay):
			case <-ctx.Done():
				return migrateerr.Wrap(migrateerr.KindCancelled, "operation cancelled", ctx.Err())
			}
		}
	}
	return lastErr
}
