// Package chain models the migration chain: versioned definitions linked
// by parent, and the validator that checks the chain is well-formed
// before the runner ever touches a database (spec §4.3).
package chain

import (
	"regexp"
	"strconv"

	"github.com/outpostdb/migrator/internal/migrate/builder"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_@-]+$`)

// Schemas bundles the opaque container and template validators a
// migration declares. The engine never inspects their contents; it only
// forwards them to the database applier for synchronization and to the
// simulator for mock-document generation.
type Schemas struct {
	Containers map[string]any
	Templates  map[string]map[string]any
}

// Definition is one migration in a chain. Compile is invoked with a
// fresh builder each time its operations are needed; it must be a pure
// function of the builder argument.
type Definition struct {
	ID      string
	Name    string
	Parent  *Definition
	Schemas Schemas
	Compile func(*builder.Builder) *builder.State
}

// State returns the migration's compiled operation list.
func (d *Definition) State() *builder.State {
	return d.Compile(builder.New())
}

// Options configures how strictly Validate treats the chain shape.
type Options struct {
	// AllowMultipleRoots permits more than one definition with a nil
	// Parent. Off by default: a chain is normally a single path.
	AllowMultipleRoots bool
	// AllowMultipleLeaves permits more than one definition with no
	// child. On by default.
	AllowMultipleLeaves bool
	// MaxDepth bounds the longest root-to-leaf path. Zero means
	// unlimited.
	MaxDepth int
	// Strict rejects IDs that do not match idPattern. On by default
	// in practice; callers that want looser IDs set this false.
	Strict bool
}

// DefaultOptions matches the spec's stated defaults.
func DefaultOptions() Options {
	return Options{
		AllowMultipleRoots:  false,
		AllowMultipleLeaves: true,
		Strict:              true,
	}
}

// Metadata summarizes a validated chain.
type Metadata struct {
	Total     int
	Roots     int
	Leaves    int
	MaxDepth  int
	TopoOrder []*Definition
}

// Result is the outcome of Validate.
type Result struct {
	OK       bool
	Errors   []string
	Warnings []string
	Metadata Metadata
}

// Validate checks defs against Options and returns a Result. It never
// panics on malformed input; every failure is reported as an error or
// warning string.
func Validate(defs []*Definition, opts Options) *Result {
	r := &Result{OK: true}

	if len(defs) == 0 {
		r.OK = false
		r.Errors = append(r.Errors, "chain is empty")
		return r
	}

	byID := make(map[string]*Definition, len(defs))
	index := make(map[*Definition]int, len(defs))
	for i, d := range defs {
		index[d] = i
		if opts.Strict && !idPattern.MatchString(d.ID) {
			r.OK = false
			r.Errors = append(r.Errors, "invalid migration ID: "+d.ID)
		}
		if d.ID == "" {
			r.OK = false
			r.Errors = append(r.Errors, "migration at index "+strconv.Itoa(i)+" has no ID")
			continue
		}
		if _, dup := byID[d.ID]; dup {
			r.OK = false
			r.Errors = append(r.Errors, "Duplicate migration ID found: "+d.ID)
			continue
		}
		byID[d.ID] = d
		if d.Name == "" {
			r.OK = false
			r.Errors = append(r.Errors, "migration "+d.ID+" has no name")
		}
		if d.Compile == nil {
			r.OK = false
			r.Errors = append(r.Errors, "migration "+d.ID+" has no compile function")
		}
	}

	if !opts.AllowMultipleRoots {
		if defs[0].Parent != nil {
			r.OK = false
			r.Errors = append(r.Errors, "first migration in chain must have no parent")
		}
		for i := 1; i < len(defs); i++ {
			if defs[i].Parent != defs[i-1] {
				r.OK = false
				r.Errors = append(r.Errors, "migration "+defs[i].ID+" must have migration "+defs[i-1].ID+" as its parent")
			}
		}
	} else {
		for i, d := range defs {
			if d.Parent == nil {
				continue
			}
			if pi, ok := index[d.Parent]; !ok || pi >= i {
				r.OK = false
				r.Errors = append(r.Errors, "migration "+d.ID+" has a parent outside the chain or out of order")
			}
		}
	}

	if !r.OK {
		return r
	}

	if err := detectCycle(defs); err != "" {
		r.OK = false
		r.Errors = append(r.Errors, err)
		return r
	}

	roots := []*Definition{}
	hasChild := make(map[*Definition]bool, len(defs))
	for _, d := range defs {
		if d.Parent == nil {
			roots = append(roots, d)
		} else {
			hasChild[d.Parent] = true
		}
	}
	leaves := []*Definition{}
	for _, d := range defs {
		if !hasChild[d] {
			leaves = append(leaves, d)
		}
	}

	if len(leaves) > 1 && !opts.AllowMultipleLeaves {
		r.OK = false
		r.Errors = append(r.Errors, "chain has multiple leaves")
	} else if len(leaves) > 1 {
		r.Warnings = append(r.Warnings, "chain has multiple leaves")
	}

	depth := maxDepth(defs)
	if opts.MaxDepth > 0 && depth > opts.MaxDepth {
		r.OK = false
		r.Errors = append(r.Errors, "chain exceeds max depth")
	}

	if !r.OK {
		return r
	}

	r.Metadata = Metadata{
		Total:     len(defs),
		Roots:     len(roots),
		Leaves:    len(leaves),
		MaxDepth:  depth,
		TopoOrder: topoOrder(defs, roots),
	}
	return r
}

func detectCycle(defs []*Definition) string {
	for _, d := range defs {
		visited := map[*Definition]bool{}
		cur := d
		for cur != nil {
			if visited[cur] {
				return "cycle detected involving migration " + d.ID
			}
			visited[cur] = true
			cur = cur.Parent
		}
	}
	return ""
}

func maxDepth(defs []*Definition) int {
	depths := make(map[*Definition]int, len(defs))
	var depthOf func(*Definition) int
	depthOf = func(d *Definition) int {
		if v, ok := depths[d]; ok {
			return v
		}
		v := 1
		if d.Parent != nil {
			v = depthOf(d.Parent) + 1
		}
		depths[d] = v
		return v
	}
	max := 0
	for _, d := range defs {
		if v := depthOf(d); v > max {
			max = v
		}
	}
	return max
}

// topoOrder returns defs in a breadth-first order starting from roots,
// in the order roots and children appear in defs (stable tie-break).
func topoOrder(defs []*Definition, roots []*Definition) []*Definition {
	children := make(map[*Definition][]*Definition, len(defs))
	for _, d := range defs {
		if d.Parent != nil {
			children[d.Parent] = append(children[d.Parent], d)
		}
	}
	order := make([]*Definition, 0, len(defs))
	queue := append([]*Definition{}, roots...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		queue = append(queue, children[cur]...)
	}
	return order
}

// Ancestors returns d's ancestor chain, nearest first, root last.
func Ancestors(d *Definition) []*Definition {
	var out []*Definition
	for cur := d.Parent; cur != nil; cur = cur.Parent {
		out = append(out, cur)
	}
	return out
}

// Path returns the root-to-d inclusive path.
func Path(d *Definition) []*Definition {
	anc := Ancestors(d)
	path := make([]*Definition, 0, len(anc)+1)
	for i := len(anc) - 1; i >= 0; i-- {
		path = append(path, anc[i])
	}
	return append(path, d)
}

// CommonAncestor returns the nearest shared ancestor of a and b, counting
// each node as its own ancestor: if a == b it returns a, and if one is an
// ancestor of the other it returns that one. It returns nil if they share
// none.
func CommonAncestor(a, b *Definition) *Definition {
	if a == b {
		return a
	}
	ancestorsA := map[*Definition]bool{a: true}
	for cur := a.Parent; cur != nil; cur = cur.Parent {
		ancestorsA[cur] = true
	}
	if ancestorsA[b] {
		return b
	}
	for cur := b.Parent; cur != nil; cur = cur.Parent {
		if ancestorsA[cur] {
			return cur
		}
	}
	return nil
}
