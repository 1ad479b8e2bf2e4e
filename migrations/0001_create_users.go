package migrations

import (
	"github.com/outpostdb/migrator/internal/migrate/builder"
	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/outpostdb/migrator/internal/migrate/op"
)

// m0001CreateUsers is the chain's root: it creates the "users" container
// and seeds two starter records.
var m0001CreateUsers = register(&chain.Definition{
	ID:   "2026_01_05_0900_create-users",
	Name: "create users container",
	Schemas: chain.Schemas{
		Containers: map[string]any{"users": struct{}{}},
	},
	Compile: func(b *builder.Builder) *builder.State {
		b.Container("users").
			Create().
			Seed(
				op.Document{op.FieldID: "u_ada", "name": "Ada Lovelace", "email": "ada@example.com"},
				op.Document{op.FieldID: "u_alan", "name": "Alan Turing", "email": "alan@example.com"},
			)
		return b.Compile()
	},
})
