package migrations

import (
	"github.com/outpostdb/migrator/internal/migrate/builder"
	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/outpostdb/migrator/internal/migrate/op"
)

// m0004IndexUserEmail adds a unique secondary index on the users
// container's email field. Reversal is a deliberate no-op (§11 Open
// Question 3); a caller needing the prior index set restored must
// snapshot it themselves.
var m0004IndexUserEmail = register(&chain.Definition{
	ID:     "2026_01_09_0930_index-user-email",
	Name:   "index users by email",
	Parent: m0003CatalogTemplate,
	Schemas: chain.Schemas{
		Containers: map[string]any{"users": struct{}{}},
	},
	Compile: func(b *builder.Builder) *builder.State {
		b.Container("users").UpdateIndexes(op.IndexSpec{Field: "email", Unique: true})
		return b.Compile()
	},
})
