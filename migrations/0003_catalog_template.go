package migrations

import (
	"github.com/outpostdb/migrator/internal/migrate/builder"
	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/outpostdb/migrator/internal/migrate/op"
)

// m0003CatalogTemplate introduces the "catalog" template family: two
// instances, each seeded with one "book" document, and a fan-out
// transform adding an ISBN to books (spec §8 scenario S5). The in-memory
// simulator applies the transform to both new instances; the live
// applier skips instances created by this same migration, so there it
// only validates the transform against a mock book.
var m0003CatalogTemplate = register(&chain.Definition{
	ID:     "2026_01_08_1400_catalog-template",
	Name:   "introduce catalog template",
	Parent: m0002AddUserAge,
	Schemas: chain.Schemas{
		Templates: map[string]map[string]any{
			"catalog": {"book": struct{}{}},
		},
	},
	Compile: func(b *builder.Builder) *builder.State {
		b.Template("catalog").Instance("catalog_library").
			Create().
			Seed("book", op.Document{"title": "Structure and Interpretation of Computer Programs"})
		b.Template("catalog").Instance("catalog_store").
			Create().
			Seed("book", op.Document{"title": "The Pragmatic Programmer"})

		b.Template("catalog").Type("book").Transform(
			func(d op.Document) (op.Document, error) {
				if _, ok := d["isbn"]; !ok {
					d["isbn"] = "000-0000000000"
				}
				return d, nil
			},
			func(d op.Document) (op.Document, error) {
				delete(d, "isbn")
				return d, nil
			},
			op.Document{"title": "mock book"},
		)

		return b.Compile()
	},
})
