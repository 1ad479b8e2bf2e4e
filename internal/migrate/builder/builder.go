// Package builder implements the staged fluent surface migrations use to
// compile user intent into an ordered operation list (spec §4.2).
package builder

import "github.com/outpostdb/migrator/internal/migrate/op"

// State is a migration's compiled output. Construction is append-only;
// the operations slice must not be mutated after Compile returns it.
type State struct {
	Operations []op.Operation
	flags      map[string]bool
}

// Irreversible reports whether any operation in the migration was
// flagged irreversible.
func (s *State) Irreversible() bool {
	return s.flags["irreversible"]
}

// Builder accumulates operations in call order. The zero value is not
// usable; construct with New.
type Builder struct {
	ops   []op.Operation
	flags map[string]bool
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{flags: map[string]bool{}}
}

func (b *Builder) append(o op.Operation) {
	b.ops = append(b.ops, o)
}

func (b *Builder) markIrreversible() {
	b.flags["irreversible"] = true
}

// Compile terminates building and returns the immutable migration state.
func (b *Builder) Compile() *State {
	ops := make([]op.Operation, len(b.ops))
	copy(ops, b.ops)
	flags := make(map[string]bool, len(b.flags))
	for k, v := range b.flags {
		flags[k] = v
	}
	return &State{Operations: ops, flags: flags}
}

// Container enters container scope: operations that act on a single
// named, schema-less container.
func (b *Builder) Container(name string) *ContainerScope {
	return &ContainerScope{b: b, name: name}
}

// Template enters template scope: operations that act on a family of
// containers sharing a type schema.
func (b *Builder) Template(name string) *TemplateScope {
	return &TemplateScope{b: b, name: name}
}

// ContainerScope restricts the builder to container-level operations.
// Attempting a template-scoped call here is a compile error, not a
// runtime check, by virtue of the type not exposing those methods.
type ContainerScope struct {
	b    *Builder
	name string
}

func (c *ContainerScope) Create() *ContainerScope {
	c.b.append(op.CreateContainer{Container: c.name})
	return c
}

func (c *ContainerScope) Seed(docs ...op.Document) *ContainerScope {
	c.b.append(op.SeedContainer{Container: c.name, Documents: docs})
	return c
}

func (c *ContainerScope) Transform(up, down op.TransformFunc) *ContainerScope {
	c.b.append(op.TransformContainer{Container: c.name, Up: up, Down: down})
	return c
}

// TransformIrreversible records a forward-only transform. It sets the
// migration-level irreversible flag.
func (c *ContainerScope) TransformIrreversible(up op.TransformFunc) *ContainerScope {
	c.b.append(op.TransformContainer{Container: c.name, Up: up, Irreversible: true})
	c.b.markIrreversible()
	return c
}

func (c *ContainerScope) UpdateIndexes(indexes ...op.IndexSpec) *ContainerScope {
	c.b.append(op.UpdateIndexes{Container: c.name, Indexes: indexes})
	return c
}

// Done returns to the parent builder to start another scope.
func (c *ContainerScope) Done() *Builder {
	return c.b
}

// TemplateScope restricts the builder to template-level operations.
type TemplateScope struct {
	b    *Builder
	name string
}

// Instance enters instance scope for a specific materialized container
// of this template.
func (t *TemplateScope) Instance(name string) *InstanceScope {
	return &InstanceScope{b: t.b, template: t.name, instance: name}
}

// Type enters type scope for a document discriminator shared across
// every instance of this template.
func (t *TemplateScope) Type(name string) *TypeScope {
	return &TypeScope{b: t.b, template: t.name, typeName: name}
}

// Done returns to the parent builder.
func (t *TemplateScope) Done() *Builder {
	return t.b
}

// InstanceScope restricts the builder to instance-level operations.
type InstanceScope struct {
	b        *Builder
	template string
	instance string
}

func (i *InstanceScope) Create() *InstanceScope {
	i.b.append(op.CreateInstance{Template: i.template, Instance: i.instance})
	return i
}

func (i *InstanceScope) Seed(typeName string, docs ...op.Document) *InstanceScope {
	i.b.append(op.SeedInstance{
		Template:  i.template,
		Instance:  i.instance,
		TypeName:  typeName,
		Documents: docs,
	})
	return i
}

// Done returns to the parent builder.
func (i *InstanceScope) Done() *Builder {
	return i.b
}

// TypeScope restricts the builder to operations keyed on a document
// discriminator within a template, independent of any one instance.
type TypeScope struct {
	b        *Builder
	template string
	typeName string
}

func (t *TypeScope) Transform(up, down op.TransformFunc, schema op.Document) *TypeScope {
	t.b.append(op.TransformInstanceType{
		Template: t.template,
		TypeName: t.typeName,
		Up:       up,
		Down:     down,
		Schema:   schema,
	})
	return t
}

// TransformIrreversible records a forward-only fan-out transform. It
// sets the migration-level irreversible flag.
func (t *TypeScope) TransformIrreversible(up op.TransformFunc, schema op.Document) *TypeScope {
	t.b.append(op.TransformInstanceType{
		Template:     t.template,
		TypeName:     t.typeName,
		Up:           up,
		Schema:       schema,
		Irreversible: true,
	})
	t.b.markIrreversible()
	return t
}

// Done returns to the parent builder.
func (t *TypeScope) Done() *Builder {
	return t.b
}
