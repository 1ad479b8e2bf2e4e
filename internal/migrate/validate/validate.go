// Package validate implements the integrity and simulation validators
// (spec §4.6) that run, together with the chain validator, before the
// runner ever touches a live database.
package validate

import (
	"regexp"

	"github.com/outpostdb/migrator/internal/migrate/builder"
	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/outpostdb/migrator/internal/migrate/op"
	"github.com/outpostdb/migrator/internal/migrate/simulate"
)

var containerNamePattern = regexp.MustCompile(`^[A-Za-z]\w*$`)

// largeOperationThreshold is the operation count above which Simulation
// warns that a migration chain has grown unusually large.
const largeOperationThreshold = 500

// IntegrityResult is the outcome of Integrity.
type IntegrityResult struct {
	OK       bool
	Errors   []string
	Warnings []string
}

// Integrity inspects a compiled migration state in isolation: it never
// touches a database or the simulator.
func Integrity(state *builder.State) *IntegrityResult {
	r := &IntegrityResult{OK: true}
	if len(state.Operations) == 0 {
		r.OK = false
		r.Errors = append(r.Errors, "migration has no operations")
		return r
	}
	for _, o := range state.Operations {
		switch v := o.(type) {
		case op.CreateContainer:
			warnName(r, v.Container)
		case op.SeedContainer:
			warnName(r, v.Container)
		case op.TransformContainer:
			warnName(r, v.Container)
			if !v.Irreversible && (v.Up == nil || v.Down == nil) {
				r.OK = false
				r.Errors = append(r.Errors, "transform on container "+v.Container+" is missing up or down and is not flagged irreversible")
			}
		case op.TransformInstanceType:
			if !v.Irreversible && (v.Up == nil || v.Down == nil) {
				r.OK = false
				r.Errors = append(r.Errors, "transform on type "+v.TypeName+" is missing up or down and is not flagged irreversible")
			}
		case op.UpdateIndexes:
			warnName(r, v.Container)
		}
	}
	return r
}

func warnName(r *IntegrityResult, name string) {
	if !containerNamePattern.MatchString(name) {
		r.Warnings = append(r.Warnings, "container name does not match convention: "+name)
	}
}

// SimulationResult is the outcome of Simulation.
type SimulationResult struct {
	OK             bool
	OperationCount int
	Errors         []string
	Warnings       []string
}

// Simulation replays target's full ancestor chain through the
// in-memory applier, then target itself, then (when checkReversibility
// is set) target's reverse, and cross-checks target's declared schemas
// against the operations it actually emits.
func Simulation(target *chain.Definition, checkReversibility bool) *SimulationResult {
	r := &SimulationResult{OK: true}
	a := simulate.New(simulate.Strict())
	state := simulate.NewState()

	path := chain.Path(target)
	var targetState *builder.State
	for _, d := range path {
		st := d.State()
		if d == target {
			targetState = st
		}
		for _, o := range st.Operations {
			var err error
			state, err = a.Apply(state, o)
			if err != nil {
				r.OK = false
				r.Errors = append(r.Errors, "migration "+d.ID+" failed to apply: "+err.Error())
				return r
			}
			r.OperationCount++
		}
	}

	if r.OperationCount > largeOperationThreshold {
		r.Warnings = append(r.Warnings, "migration chain compiles to a large number of operations")
	}

	if checkReversibility && targetState != nil {
		for i := len(targetState.Operations) - 1; i >= 0; i-- {
			var err error
			state, err = a.ApplyReverse(state, targetState.Operations[i])
			if err != nil {
				r.Warnings = append(r.Warnings, "migration "+target.ID+" reverse failed: "+err.Error())
			}
		}
	}

	if targetState == nil {
		return r
	}

	emittedContainers := map[string]bool{}
	emittedTemplates := map[string]bool{}
	for _, o := range targetState.Operations {
		switch v := o.(type) {
		case op.CreateContainer:
			emittedContainers[v.Container] = true
		case op.CreateInstance:
			emittedTemplates[v.Template] = true
		}
	}
	for name := range target.Schemas.Containers {
		if !emittedContainers[name] {
			r.OK = false
			r.Errors = append(r.Errors, "schema declares container "+name+" but migration never creates it")
		}
	}
	for name := range target.Schemas.Templates {
		if !emittedTemplates[name] {
			r.Warnings = append(r.Warnings, "schema declares template "+name+" but migration never instantiates it")
		}
	}
	return r
}
