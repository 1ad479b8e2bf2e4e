package migrations

import (
	"github.com/outpostdb/migrator/internal/migrate/builder"
	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/outpostdb/migrator/internal/migrate/op"
)

// m0002AddUserAge adds a default "age" field to every existing user and
// declares how to remove it again on rollback (spec §8 scenario S4).
var m0002AddUserAge = register(&chain.Definition{
	ID:     "2026_01_06_1030_add-user-age",
	Name:   "add default age to users",
	Parent: m0001CreateUsers,
	Schemas: chain.Schemas{
		Containers: map[string]any{"users": struct{}{}},
	},
	Compile: func(b *builder.Builder) *builder.State {
		b.Container("users").Transform(
			func(d op.Document) (op.Document, error) {
				if _, ok := d["age"]; !ok {
					d["age"] = 25
				}
				return d, nil
			},
			func(d op.Document) (op.Document, error) {
				delete(d, "age")
				return d, nil
			},
		)
		return b.Compile()
	},
})
