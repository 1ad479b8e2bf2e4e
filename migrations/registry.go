// Package migrations holds the versioned chain of migration definitions
// for this repository, one per source file as the convention in spec
// §6.1 recommends: the filename's lexicographic order is the intended
// chain order, and each file registers its single *chain.Definition from
// a package-level variable initializer.
//
// Go has no runtime filesystem discovery of source files, so the
// external "filesystem loader" the core treats as out of scope (§1) is
// replaced here by explicit registration during package variable
// initialization. Each definition's initializer refers to its parent's
// variable, and Go initializes a variable after the variables it
// depends on, so a parent is always registered before its child.
package migrations

import "github.com/outpostdb/migrator/internal/migrate/chain"

var all []*chain.Definition

// register appends d to the chain in registration order. Called only
// from this package's package-level variable initializers.
func register(d *chain.Definition) *chain.Definition {
	all = append(all, d)
	return d
}

// All returns every registered migration, in chain order.
func All() []*chain.Definition {
	out := make([]*chain.Definition, len(all))
	copy(out, all)
	return out
}
