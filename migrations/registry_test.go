package migrations_test

import (
	"testing"

	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/outpostdb/migrator/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_FormsAValidChain(t *testing.T) {
	defs := migrations.All()
	require.NotEmpty(t, defs)

	result := chain.Validate(defs, chain.DefaultOptions())
	require.True(t, result.OK, result.Errors)
	assert.Equal(t, len(defs), result.Metadata.Total)
	assert.Equal(t, 1, result.Metadata.Roots)
	assert.Equal(t, 1, result.Metadata.Leaves)
}

func TestAll_ReturnsACopy(t *testing.T) {
	a := migrations.All()
	b := migrations.All()
	require.Len(t, a, len(b))

	a[0] = nil
	assert.NotNil(t, migrations.All()[0])
}

func TestAll_EveryDefinitionCompiles(t *testing.T) {
	for _, d := range migrations.All() {
		state := d.State()
		assert.NotNil(t, state, "migration %s produced a nil state", d.ID)
	}
}
