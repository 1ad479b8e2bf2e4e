// Package op defines the operation vocabulary the migration engine
// compiles down to: every mutation a migration can express is one of the
// seven tagged values below, interpreted identically by the simulation
// applier and the database applier.
package op

// Kind discriminates an Operation's concrete payload.
type Kind string

const (
	KindCreateContainer       Kind = "create_container"
	KindSeedContainer         Kind = "seed_container"
	KindTransformContainer    Kind = "transform_container"
	KindCreateInstance        Kind = "create_instance"
	KindSeedInstance          Kind = "seed_instance"
	KindTransformInstanceType Kind = "transform_instance_type"
	KindUpdateIndexes         Kind = "update_indexes"
)

// AllKinds lists every tag the vocabulary defines, in the order §3's
// table presents them. Appliers use it to assert their dispatch table is
// exhaustive.
func AllKinds() []Kind {
	return []Kind{
		KindCreateContainer,
		KindSeedContainer,
		KindTransformContainer,
		KindCreateInstance,
		KindSeedInstance,
		KindTransformInstanceType,
		KindUpdateIndexes,
	}
}

// Document is a single record. Nested structure is opaque to the engine;
// only the reserved identifier and discriminator keys below are known.
type Document map[string]any

const (
	FieldID            = "_id"
	FieldDiscriminator = "_type"
)

// ID returns the document's identifier, or "" if unset.
func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

// TransformFunc maps one document to another, or reports it cannot.
type TransformFunc func(Document) (Document, error)

// Operation is implemented by every member of the vocabulary. The
// unexported marker method seals the set so a type switch over Kind can
// be exhaustive in practice even though Go cannot enforce it statically.
type Operation interface {
	Kind() Kind
	isOperation()
}

// CreateContainer creates a logical, schema-less container.
type CreateContainer struct {
	Container string
}

func (CreateContainer) Kind() Kind   { return KindCreateContainer }
func (CreateContainer) isOperation() {}

// SeedContainer appends documents to a container.
type SeedContainer struct {
	Container string
	Documents []Document
}

func (SeedContainer) Kind() Kind   { return KindSeedContainer }
func (SeedContainer) isOperation() {}

// TransformContainer maps every document in a container through Up
// (forward) or Down (reverse). Irreversible is set when the caller
// declares no meaningful Down exists.
type TransformContainer struct {
	Container    string
	Up           TransformFunc
	Down         TransformFunc
	Irreversible bool
}

func (TransformContainer) Kind() Kind   { return KindTransformContainer }
func (TransformContainer) isOperation() {}

// CreateInstance materializes an instance of a templated container
// family, stamping its type-descriptor and applied-migrations log.
type CreateInstance struct {
	Template string
	Instance string
}

func (CreateInstance) Kind() Kind   { return KindCreateInstance }
func (CreateInstance) isOperation() {}

// SeedInstance inserts documents of TypeName into an instance.
// Documents without FieldID have one synthesized on apply.
type SeedInstance struct {
	Template  string
	Instance  string
	TypeName  string
	Documents []Document
}

func (SeedInstance) Kind() Kind   { return KindSeedInstance }
func (SeedInstance) isOperation() {}

// IndexSpec describes one secondary index. Unique is part of the index's
// normalized spec, so changing it recreates the index; the appliers do not
// reject documents that share a value of a unique field.
type IndexSpec struct {
	Field  string
	Unique bool
}

// TransformInstanceType applies Up/Down to every document of TypeName
// across every existing instance of Template. When no instance exists,
// appliers validate the transform against a document synthesized from
// Schema instead of skipping it.
type TransformInstanceType struct {
	Template     string
	TypeName     string
	Up           TransformFunc
	Down         TransformFunc
	Schema       Document
	Irreversible bool
}

func (TransformInstanceType) Kind() Kind   { return KindTransformInstanceType }
func (TransformInstanceType) isOperation() {}

// UpdateIndexes reconciles a container's index set to Indexes. Reversal
// is a deliberate no-op (§11 Open Question 3): callers that need the
// prior index set restored must snapshot it and issue their own
// compensating UpdateIndexes in a down migration.
type UpdateIndexes struct {
	Container string
	Indexes   []IndexSpec
}

func (UpdateIndexes) Kind() Kind   { return KindUpdateIndexes }
func (UpdateIndexes) isOperation() {}

// IsCreate reports whether k creates a container, instance, or any other
// structural addition.
func IsCreate(k Kind) bool {
	return k == KindCreateContainer || k == KindCreateInstance
}

// IsSeed reports whether k inserts documents.
func IsSeed(k Kind) bool {
	return k == KindSeedContainer || k == KindSeedInstance
}

// IsTransform reports whether k maps existing documents through a
// forward/reverse function pair.
func IsTransform(k Kind) bool {
	return k == KindTransformContainer || k == KindTransformInstanceType
}
