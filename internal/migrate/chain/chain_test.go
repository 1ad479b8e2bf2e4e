package chain_test

import (
	"testing"

	"github.com/outpostdb/migrator/internal/migrate/builder"
	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopCompile(b *builder.Builder) *builder.State {
	return b.Compile()
}

func TestValidate_S1_LinearChain(t *testing.T) {
	m1 := &chain.Definition{ID: "001", Name: "first", Compile: noopCompile}
	m2 := &chain.Definition{ID: "002", Name: "second", Parent: m1, Compile: noopCompile}
	m3 := &chain.Definition{ID: "003", Name: "third", Parent: m2, Compile: noopCompile}

	result := chain.Validate([]*chain.Definition{m1, m2, m3}, chain.DefaultOptions())
	require.True(t, result.OK, result.Errors)
	assert.Equal(t, 3, result.Metadata.Total)
	assert.Equal(t, 1, result.Metadata.Roots)
	assert.Equal(t, 1, result.Metadata.Leaves)
	assert.Equal(t, 3, result.Metadata.MaxDepth)
}

func TestValidate_S2_DuplicateID(t *testing.T) {
	m1 := &chain.Definition{ID: "001", Name: "first", Compile: noopCompile}
	m2 := &chain.Definition{ID: "001", Name: "second", Parent: m1, Compile: noopCompile}

	result := chain.Validate([]*chain.Definition{m1, m2}, chain.DefaultOptions())
	require.False(t, result.OK)
	assert.Contains(t, result.Errors, "Duplicate migration ID found: 001")
}

func TestValidate_ParentMustBePrecedingElement(t *testing.T) {
	m1 := &chain.Definition{ID: "001", Name: "first", Compile: noopCompile}
	m2 := &chain.Definition{ID: "002", Name: "second", Compile: noopCompile}
	m3 := &chain.Definition{ID: "003", Name: "third", Parent: m1, Compile: noopCompile}

	result := chain.Validate([]*chain.Definition{m1, m2, m3}, chain.DefaultOptions())
	assert.False(t, result.OK)
}

func TestValidate_MultipleLeavesIsWarningByDefault(t *testing.T) {
	root := &chain.Definition{ID: "001", Name: "root", Compile: noopCompile}
	a := &chain.Definition{ID: "002a", Name: "a", Parent: root, Compile: noopCompile}
	b := &chain.Definition{ID: "002b", Name: "b", Parent: root, Compile: noopCompile}

	opts := chain.DefaultOptions()
	opts.AllowMultipleRoots = true // the array itself is now a branching DAG, not one path
	result := chain.Validate([]*chain.Definition{root, a, b}, opts)
	require.True(t, result.OK, result.Errors)
	assert.NotEmpty(t, result.Warnings)
	assert.Equal(t, 2, result.Metadata.Leaves)
}

func TestAncestorsPathAndCommonAncestor(t *testing.T) {
	m1 := &chain.Definition{ID: "001", Name: "first", Compile: noopCompile}
	m2 := &chain.Definition{ID: "002", Name: "second", Parent: m1, Compile: noopCompile}
	m3 := &chain.Definition{ID: "003", Name: "third", Parent: m2, Compile: noopCompile}

	assert.Equal(t, []*chain.Definition{m2, m1}, chain.Ancestors(m3))
	assert.Equal(t, []*chain.Definition{m1, m2, m3}, chain.Path(m3))
	assert.Equal(t, m1, chain.CommonAncestor(m2, m3))
	assert.Equal(t, m2, chain.CommonAncestor(m2, m2))
}
