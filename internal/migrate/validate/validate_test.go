package validate_test

import (
	"testing"

	"github.com/outpostdb/migrator/internal/migrate/builder"
	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/outpostdb/migrator/internal/migrate/op"
	"github.com/outpostdb/migrator/internal/migrate/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegrity_RejectsEmptyMigration(t *testing.T) {
	state := builder.New().Compile()
	result := validate.Integrity(state)
	assert.False(t, result.OK)
}

func TestIntegrity_RejectsTransformMissingDown(t *testing.T) {
	b := builder.New()
	b.Container("users").Transform(func(d op.Document) (op.Document, error) { return d, nil }, nil)
	result := validate.Integrity(b.Compile())
	assert.False(t, result.OK)
}

func TestIntegrity_AllowsIrreversibleTransform(t *testing.T) {
	b := builder.New()
	b.Container("users").TransformIrreversible(func(d op.Document) (op.Document, error) { return d, nil })
	result := validate.Integrity(b.Compile())
	assert.True(t, result.OK)
}

func TestIntegrity_WarnsOnUnconventionalContainerName(t *testing.T) {
	b := builder.New()
	b.Container("1-bad-name").Create()
	result := validate.Integrity(b.Compile())
	assert.True(t, result.OK)
	assert.NotEmpty(t, result.Warnings)
}

func TestSimulation_DetectsUndeclaredContainerCreate(t *testing.T) {
	root := &chain.Definition{
		ID:   "001",
		Name: "root",
		Schemas: chain.Schemas{
			Containers: map[string]any{"users": struct{}{}},
		},
		Compile: func(b *builder.Builder) *builder.State {
			// Declares "users" in Schemas but never creates it.
			return b.Compile()
		},
	}

	result := validate.Simulation(root, true)
	require.False(t, result.OK)
	assert.Contains(t, result.Errors, "schema declares container users but migration never creates it")
}

func TestSimulation_HappyPath(t *testing.T) {
	root := &chain.Definition{
		ID:   "001",
		Name: "root",
		Schemas: chain.Schemas{
			Containers: map[string]any{"users": struct{}{}},
		},
		Compile: func(b *builder.Builder) *builder.State {
			b.Container("users").Create().Seed(op.Document{op.FieldID: "a"})
			return b.Compile()
		},
	}

	result := validate.Simulation(root, true)
	assert.True(t, result.OK, result.Errors)
	assert.Equal(t, 2, result.OperationCount)
}
