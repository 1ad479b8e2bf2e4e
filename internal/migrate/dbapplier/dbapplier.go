// Package dbapplier implements the live database applier against Redis,
// the reference document-database instantiation (spec §4.5, §10.1).
// Read-modify-write document updates (transforms and the instance
// migration log) run under WATCH/MULTI/EXEC with the write-conflict retry
// policy; the other writes (seeding, unseeding, creating and dropping
// containers and instances) are single pipelines and are not retried.
// Index synchronization fans out across the bounded-concurrency queue.
package dbapplier

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/outpostdb/migrator/internal/migrate/chain"
	"github.com/outpostdb/migrator/internal/migrate/migrateerr"
	"github.com/outpostdb/migrator/internal/migrate/op"
	"github.com/outpostdb/migrator/internal/migrate/queue"
	"github.com/outpostdb/migrator/internal/migrate/retry"
	internalredis "github.com/outpostdb/migrator/internal/redis"
	goredis "github.com/redis/go-redis/v9"
)

const (
	metaInformation = "_information"
	metaMigrations  = "_migrations"
)

// MigrationRecord is one entry in the migration_state bookkeeping hash
// (spec §6.4). RevertedAt is updated in place on rollback rather than
// the record being deleted (§11 Open Question 1).
type MigrationRecord struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	AppliedAt  time.Time  `json:"appliedAt"`
	RevertedAt *time.Time `json:"revertedAt,omitempty"`
}

// Applier is the Redis-backed implementation of the engine's Applier
// contract (spec §6.2).
type Applier struct {
	client           internalredis.Client
	prefix           string
	indexConcurrency int
	retryPolicy      retry.Policy
	onRetry          func(err error, attempt int, delay time.Duration)

	currentMigrationID string
}

// Option configures a new Applier.
type Option func(*Applier)

// WithPrefix sets the Redis key prefix every key is namespaced under.
// Default "migrator".
func WithPrefix(prefix string) Option {
	return func(a *Applier) { a.prefix = prefix }
}

// WithIndexConcurrency sets the bounded-concurrency ceiling for index
// synchronization. Default 3, matching §4.5.
func WithIndexConcurrency(n int) Option {
	return func(a *Applier) {
		if n > 0 {
			a.indexConcurrency = n
		}
	}
}

// WithRetryPolicy overrides the write-conflict retry policy. Default is
// retry.DefaultPolicy().
func WithRetryPolicy(p retry.Policy) Option {
	return func(a *Applier) { a.retryPolicy = p }
}

// WithOnRetry registers a callback forwarded from the retry policy,
// mirroring the runner's onOperation hook (spec §4.5 observability).
func WithOnRetry(fn func(err error, attempt int, delay time.Duration)) Option {
	return func(a *Applier) { a.onRetry = fn }
}

// New returns a configured Applier.
func New(client internalredis.Client, opts ...Option) *Applier {
	a := &Applier{
		client:           client,
		prefix:           "migrator",
		indexConcurrency: 3,
		retryPolicy:      retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetCurrentMigrationID stamps the migration ID used to tag newly
// created instances and to filter fan-out transforms (spec §6.2).
func (a *Applier) SetCurrentMigrationID(id string) {
	a.currentMigrationID = id
}

func (a *Applier) retry(ctx context.Context, fn func() error) error {
	policy := a.retryPolicy
	if a.onRetry != nil {
		policy.OnRetry = a.onRetry
	}
	return retry.Run(ctx, policy, fn)
}

// -- key space --------------------------------------------------------

func (a *Applier) containerRegistryKey() string { return a.prefix + ":containers" }
func (a *Applier) containerSetKey(name string) string {
	return a.prefix + ":container:" + name
}
func (a *Applier) containerDocKey(name, id string) string {
	return a.containerSetKey(name) + ":doc:" + id
}
func (a *Applier) templateInstancesKey(template string) string {
	return a.prefix + ":template:" + template + ":instances"
}
func (a *Applier) instanceSetKey(template, instance string) string {
	return a.prefix + ":instance:" + template + ":" + instance
}
func (a *Applier) instanceDocKey(template, instance, id string) string {
	return a.instanceSetKey(template, instance) + ":doc:" + id
}
func (a *Applier) instanceMetaKey(template, instance, name string) string {
	return a.instanceSetKey(template, instance) + ":meta:" + name
}
func (a *Applier) migrationStateKey() string { return a.prefix + ":migration_state" }

// indexSpecsKey is a Hash of field → normalized spec. A Hash rather
// than a bare field-name Set so the index options (Unique) are stored
// durably and the diff can compare whole specs by value.
func (a *Applier) indexSpecsKey(container string) string {
	return a.prefix + ":index:" + container + ":_specs"
}
func (a *Applier) indexKey(container, field, value string) string {
	return a.prefix + ":index:" + container + ":" + field + ":" + value
}
func (a *Applier) schemasKey() string { return a.prefix + ":schemas" }

// -- ApplyOperation / ApplyReverseOperation ----------------------------

// ApplyOperation runs o forward against Redis.
func (a *Applier) ApplyOperation(ctx context.Context, o op.Operation) error {
	switch v := o.(type) {
	case op.CreateContainer:
		return a.createContainer(ctx, v)
	case op.SeedContainer:
		return a.seedContainer(ctx, v)
	case op.TransformContainer:
		return a.transformContainer(ctx, v, true)
	case op.CreateInstance:
		return a.createInstance(ctx, v)
	case op.SeedInstance:
		return a.seedInstance(ctx, v)
	case op.TransformInstanceType:
		return a.transformInstanceType(ctx, v, true)
	case op.UpdateIndexes:
		return a.updateIndexes(ctx, v)
	default:
		return migrateerr.New(migrateerr.KindDriverError, fmt.Sprintf("unknown operation kind %T", o))
	}
}

// ApplyReverseOperation runs o's reverse against Redis.
func (a *Applier) ApplyReverseOperation(ctx context.Context, o op.Operation) error {
	switch v := o.(type) {
	case op.CreateContainer:
		return a.dropContainer(ctx, v)
	case op.SeedContainer:
		return a.unseedContainer(ctx, v)
	case op.TransformContainer:
		return a.transformContainer(ctx, v, false)
	case op.CreateInstance:
		return a.dropInstance(ctx, v)
	case op.SeedInstance:
		return a.unseedInstance(ctx, v)
	case op.TransformInstanceType:
		return a.transformInstanceType(ctx, v, false)
	case op.UpdateIndexes:
		return nil // deliberate no-op, §11 Open Question 3
	default:
		return migrateerr.New(migrateerr.KindDriverError, fmt.Sprintf("unknown operation kind %T", o))
	}
}

// -- containers ---------------------------------------------------------

func (a *Applier) createContainer(ctx context.Context, v op.CreateContainer) error {
	exists, err := a.client.SIsMember(ctx, a.containerRegistryKey(), v.Container).Result()
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "check container existence", err)
	}
	if exists {
		return migrateerr.New(migrateerr.KindDriverError, "container already exists: "+v.Container)
	}
	if err := a.client.SAdd(ctx, a.containerRegistryKey(), v.Container).Err(); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "create container", err)
	}
	return nil
}

func (a *Applier) dropContainer(ctx context.Context, v op.CreateContainer) error {
	ids, err := a.client.SMembers(ctx, a.containerSetKey(v.Container)).Result()
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "list container documents", err)
	}
	pipe := a.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, a.containerDocKey(v.Container, id))
	}
	pipe.Del(ctx, a.containerSetKey(v.Container))
	pipe.SRem(ctx, a.containerRegistryKey(), v.Container)
	if _, err := pipe.Exec(ctx); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "drop container", err)
	}
	return nil
}

func (a *Applier) seedContainer(ctx context.Context, v op.SeedContainer) error {
	pipe := a.client.Pipeline()
	for _, d := range v.Documents {
		doc := cloneDoc(d)
		id := doc.ID()
		if id == "" {
			id = uuid.New().String()
			doc[op.FieldID] = id
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return migrateerr.Wrap(migrateerr.KindDriverError, "marshal document", err)
		}
		pipe.Set(ctx, a.containerDocKey(v.Container, id), data, 0)
		pipe.SAdd(ctx, a.containerSetKey(v.Container), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "seed container "+v.Container, err)
	}
	return nil
}

func (a *Applier) unseedContainer(ctx context.Context, v op.SeedContainer) error {
	pipe := a.client.Pipeline()
	for _, d := range v.Documents {
		id := d.ID()
		if id == "" {
			continue
		}
		pipe.Del(ctx, a.containerDocKey(v.Container, id))
		pipe.SRem(ctx, a.containerSetKey(v.Container), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "unseed container "+v.Container, err)
	}
	return nil
}

func (a *Applier) transformContainer(ctx context.Context, v op.TransformContainer, forward bool) error {
	fn := v.Up
	if !forward {
		fn = v.Down
	}
	if fn == nil {
		if v.Irreversible && !forward {
			return migrateerr.New(migrateerr.KindIrreversibleTransform, "container transform has no reverse: "+v.Container)
		}
		return nil
	}
	ids, err := a.client.SMembers(ctx, a.containerSetKey(v.Container)).Result()
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "list container documents", err)
	}
	for _, id := range ids {
		if err := a.transformDoc(ctx, a.containerDocKey(v.Container, id), fn); err != nil {
			return err
		}
	}
	return nil
}

// transformDoc runs fn against the document at key under WATCH/MULTI/EXEC,
// retrying on redis.TxFailedErr per the write-conflict retry policy.
func (a *Applier) transformDoc(ctx context.Context, key string, fn op.TransformFunc) error {
	return a.retry(ctx, func() error {
		return a.client.Watch(ctx, func(tx *goredis.Tx) error {
			raw, err := tx.Get(ctx, key).Result()
			if err == internalredis.Nil {
				return nil
			}
			if err != nil {
				return err
			}
			var doc op.Document
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				return migrateerr.Wrap(migrateerr.KindDriverError, "unmarshal document", err)
			}
			transformed, err := fn(doc)
			if err != nil {
				return migrateerr.Wrap(migrateerr.KindIrreversibleTransform, "transform failed", err)
			}
			data, err := json.Marshal(transformed)
			if err != nil {
				return migrateerr.Wrap(migrateerr.KindDriverError, "marshal document", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			return err
		}, key)
	})
}

// -- instances ------------------------------------------------------------

func newInstanceMetaDocs(template, migrationID string) (information, migrations op.Document) {
	information = op.Document{
		op.FieldID:            metaInformation,
		op.FieldDiscriminator: metaInformation,
		"type":                template,
		"createdAt":           time.Now().UTC(),
		"createdByMigration":  migrationID,
	}
	migrations = op.Document{
		op.FieldID:            metaMigrations,
		op.FieldDiscriminator: metaMigrations,
		"appliedMigrations":   []map[string]any{{"id": migrationID, "appliedAt": time.Now().UTC()}},
	}
	return
}

func (a *Applier) createInstance(ctx context.Context, v op.CreateInstance) error {
	exists, err := a.client.SIsMember(ctx, a.templateInstancesKey(v.Template), v.Instance).Result()
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "check instance existence", err)
	}
	if exists {
		return migrateerr.New(migrateerr.KindDriverError, "instance already exists: "+v.Instance)
	}
	information, migrations := newInstanceMetaDocs(v.Template, a.currentMigrationID)
	infoData, _ := json.Marshal(information)
	migData, _ := json.Marshal(migrations)

	pipe := a.client.Pipeline()
	pipe.SAdd(ctx, a.templateInstancesKey(v.Template), v.Instance)
	pipe.Set(ctx, a.instanceMetaKey(v.Template, v.Instance, metaInformation), infoData, 0)
	pipe.Set(ctx, a.instanceMetaKey(v.Template, v.Instance, metaMigrations), migData, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "create instance "+v.Instance, err)
	}
	return nil
}

func (a *Applier) dropInstance(ctx context.Context, v op.CreateInstance) error {
	ids, err := a.client.SMembers(ctx, a.instanceSetKey(v.Template, v.Instance)).Result()
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "list instance documents", err)
	}
	pipe := a.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, a.instanceDocKey(v.Template, v.Instance, id))
	}
	pipe.Del(ctx, a.instanceSetKey(v.Template, v.Instance))
	pipe.Del(ctx, a.instanceMetaKey(v.Template, v.Instance, metaInformation))
	pipe.Del(ctx, a.instanceMetaKey(v.Template, v.Instance, metaMigrations))
	pipe.SRem(ctx, a.templateInstancesKey(v.Template), v.Instance)
	if _, err := pipe.Exec(ctx); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "drop instance "+v.Instance, err)
	}
	return nil
}

func (a *Applier) seedInstance(ctx context.Context, v op.SeedInstance) error {
	pipe := a.client.Pipeline()
	for _, d := range v.Documents {
		doc := cloneDoc(d)
		doc[op.FieldDiscriminator] = v.TypeName
		id := doc.ID()
		if id == "" {
			id = v.TypeName + ":" + uuid.New().String()
			doc[op.FieldID] = id
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return migrateerr.Wrap(migrateerr.KindDriverError, "marshal document", err)
		}
		pipe.Set(ctx, a.instanceDocKey(v.Template, v.Instance, id), data, 0)
		pipe.SAdd(ctx, a.instanceSetKey(v.Template, v.Instance), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "seed instance "+v.Instance, err)
	}
	return a.appendMigrationLog(ctx, v.Template, v.Instance)
}

func (a *Applier) unseedInstance(ctx context.Context, v op.SeedInstance) error {
	pipe := a.client.Pipeline()
	for _, d := range v.Documents {
		id := d.ID()
		if id == "" {
			continue
		}
		pipe.Del(ctx, a.instanceDocKey(v.Template, v.Instance, id))
		pipe.SRem(ctx, a.instanceSetKey(v.Template, v.Instance), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "unseed instance "+v.Instance, err)
	}
	return nil
}

// appendMigrationLog appends the current migration ID to an instance's
// _migrations record, deduplicating so a migration with several
// operations against the same instance logs only once.
func (a *Applier) appendMigrationLog(ctx context.Context, template, instance string) error {
	if a.currentMigrationID == "" {
		return nil
	}
	key := a.instanceMetaKey(template, instance, metaMigrations)
	return a.retry(ctx, func() error {
		return a.client.Watch(ctx, func(tx *goredis.Tx) error {
			raw, err := tx.Get(ctx, key).Result()
			if err != nil {
				return err
			}
			var doc op.Document
			if err := json.Unmarshal([]byte(raw), &doc); err != nil {
				return migrateerr.Wrap(migrateerr.KindDriverError, "unmarshal migration log", err)
			}
			entries, _ := doc["appliedMigrations"].([]any)
			for _, e := range entries {
				m, ok := e.(map[string]any)
				if ok && m["id"] == a.currentMigrationID {
					return nil // already logged
				}
			}
			entries = append(entries, map[string]any{"id": a.currentMigrationID, "appliedAt": time.Now().UTC()})
			doc["appliedMigrations"] = entries
			data, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			return err
		}, key)
	})
}

// instanceCreatedByMigration returns the migration ID that created
// instance, or "" if unknown.
func (a *Applier) instanceCreatedByMigration(ctx context.Context, template, instance string) (string, error) {
	raw, err := a.client.Get(ctx, a.instanceMetaKey(template, instance, metaInformation)).Result()
	if err == internalredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var doc op.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", err
	}
	created, _ := doc["createdByMigration"].(string)
	return created, nil
}

// transformInstanceType fans a transform out across every instance of
// Template created strictly before the current migration. When none
// exist, it validates the transform against a document synthesized from
// Schema instead, without persisting anything (spec §4.5).
func (a *Applier) transformInstanceType(ctx context.Context, v op.TransformInstanceType, forward bool) error {
	fn := v.Up
	if !forward {
		fn = v.Down
	}
	if fn == nil {
		if v.Irreversible && !forward {
			return migrateerr.New(migrateerr.KindIrreversibleTransform, "instance type transform has no reverse: "+v.TypeName)
		}
		return nil
	}

	instances, err := a.client.SMembers(ctx, a.templateInstancesKey(v.Template)).Result()
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "list template instances", err)
	}
	sort.Strings(instances)

	applicable := make([]string, 0, len(instances))
	for _, inst := range instances {
		createdBy, err := a.instanceCreatedByMigration(ctx, v.Template, inst)
		if err != nil {
			return migrateerr.Wrap(migrateerr.KindDriverError, "read instance metadata", err)
		}
		if createdBy != "" && a.currentMigrationID != "" && createdBy >= a.currentMigrationID {
			continue // created at or after this migration; not yet in scope
		}
		applicable = append(applicable, inst)
	}

	if len(applicable) == 0 {
		mock := cloneDoc(v.Schema)
		mock[op.FieldDiscriminator] = v.TypeName
		if _, err := fn(mock); err != nil {
			return migrateerr.Wrap(migrateerr.KindIrreversibleTransform, "mock validation failed for "+v.TypeName, err)
		}
		return nil
	}

	for _, inst := range applicable {
		ids, err := a.client.SMembers(ctx, a.instanceSetKey(v.Template, inst)).Result()
		if err != nil {
			return migrateerr.Wrap(migrateerr.KindDriverError, "list instance documents", err)
		}
		for _, id := range ids {
			docKey := a.instanceDocKey(v.Template, inst, id)
			matches, err := a.docDiscriminatorMatches(ctx, docKey, v.TypeName)
			if err != nil {
				return err
			}
			if !matches {
				continue
			}
			if err := a.transformDoc(ctx, docKey, fn); err != nil {
				return err
			}
		}
		if err := a.appendMigrationLog(ctx, v.Template, inst); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) docDiscriminatorMatches(ctx context.Context, key, typeName string) (bool, error) {
	raw, err := a.client.Get(ctx, key).Result()
	if err == internalredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, migrateerr.Wrap(migrateerr.KindDriverError, "read document", err)
	}
	var doc op.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return false, migrateerr.Wrap(migrateerr.KindDriverError, "unmarshal document", err)
	}
	disc, _ := doc[op.FieldDiscriminator].(string)
	return disc == typeName, nil
}

// -- indexes ----------------------------------------------------------------

func (a *Applier) updateIndexes(ctx context.Context, v op.UpdateIndexes) error {
	desired := make(map[string]string, len(v.Indexes))
	specByField := make(map[string]op.IndexSpec, len(v.Indexes))
	for _, idx := range v.Indexes {
		desired[idx.Field] = normalizeIndexSpec(idx)
		specByField[idx.Field] = idx
	}

	existing, err := a.client.HGetAll(ctx, a.indexSpecsKey(v.Container)).Result()
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "list existing indexes", err)
	}

	// Diff whole (field, normalized options) tuples: an option change on
	// an existing field drops and recreates it; an exact match is left
	// untouched.
	var toDrop []string
	for field, norm := range existing {
		if want, keep := desired[field]; !keep || want != norm {
			toDrop = append(toDrop, field)
		}
	}
	sort.Strings(toDrop)

	var toCreate []op.IndexSpec
	for field, spec := range specByField {
		if existing[field] != desired[field] {
			toCreate = append(toCreate, spec)
		}
	}
	sort.Slice(toCreate, func(i, j int) bool { return toCreate[i].Field < toCreate[j].Field })

	for _, field := range toDrop {
		if err := a.dropIndex(ctx, v.Container, field); err != nil {
			return err
		}
	}

	// A fresh queue per call keeps one operation's failures from
	// leaking into the next one's stats.
	q := queue.New(a.indexConcurrency)
	for _, spec := range toCreate {
		spec := spec
		q.Submit(queue.Task{
			ID:       v.Container + ":" + spec.Field,
			Priority: 0,
			Run: func(ctx context.Context) error {
				return a.createIndex(ctx, v.Container, spec)
			},
		})
	}
	q.Drain()
	stats := q.GetStats()
	if stats.Failed > 0 {
		return migrateerr.New(migrateerr.KindDriverError, fmt.Sprintf("%d index creation tasks failed for container %s", stats.Failed, v.Container))
	}
	return nil
}

func (a *Applier) createIndex(ctx context.Context, container string, spec op.IndexSpec) error {
	ids, err := a.client.SMembers(ctx, a.containerSetKey(container)).Result()
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "list container documents", err)
	}
	pipe := a.client.Pipeline()
	for _, id := range ids {
		raw, err := a.client.Get(ctx, a.containerDocKey(container, id)).Result()
		if err != nil {
			continue
		}
		var doc op.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		value := fmt.Sprint(doc[spec.Field])
		pipe.SAdd(ctx, a.indexKey(container, spec.Field, value), id)
	}
	pipe.HSet(ctx, a.indexSpecsKey(container), spec.Field, normalizeIndexSpec(spec))
	_, err = pipe.Exec(ctx)
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "create index "+spec.Field+" on "+container, err)
	}
	return nil
}

func (a *Applier) dropIndex(ctx context.Context, container, field string) error {
	pattern := a.prefix + ":index:" + container + ":" + field + ":*"
	keys, err := a.client.Keys(ctx, pattern).Result()
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "list index keys", err)
	}
	pipe := a.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, k)
	}
	pipe.HDel(ctx, a.indexSpecsKey(container), field)
	if _, err := pipe.Exec(ctx); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "drop index "+field+" on "+container, err)
	}
	return nil
}

// normalizeIndexSpec serializes a spec into the stable, value-comparable
// form stored in the index-specs hash: options are normalized so two
// specs compare equal exactly when field and options match (§4.5).
func normalizeIndexSpec(spec op.IndexSpec) string {
	data, _ := json.Marshal(struct {
		Field  string `json:"field"`
		Unique bool   `json:"unique"`
	}{Field: spec.Field, Unique: spec.Unique})
	return string(data)
}

// -- schema synchronization ---------------------------------------------

// SynchronizeSchemas records the container validators of the migration's
// schema bundle for introspection; template validators are not recorded. Redis has no native document validator to patch;
// unlike a schema-enforcing store the applier cannot reject documents
// that violate it, so synchronization here is bookkeeping only (spec
// §10.1 deliberately keeps "schemas" opaque to the engine core).
func (a *Applier) SynchronizeSchemas(ctx context.Context, schemas chain.Schemas) error {
	data, err := json.Marshal(schemas.Containers)
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "marshal schemas", err)
	}
	if err := a.client.Set(ctx, a.schemasKey(), data, 0).Err(); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "synchronize schemas", err)
	}
	return nil
}

// -- migration bookkeeping -----------------------------------------------

// IsMigrationApplied reports whether id has a recorded, non-reverted
// application.
func (a *Applier) IsMigrationApplied(ctx context.Context, id string) (bool, error) {
	raw, err := a.client.HGet(ctx, a.migrationStateKey(), id).Result()
	if err == internalredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, migrateerr.Wrap(migrateerr.KindDriverError, "read migration state", err)
	}
	var rec MigrationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return false, migrateerr.Wrap(migrateerr.KindDriverError, "unmarshal migration state", err)
	}
	return rec.RevertedAt == nil, nil
}

// MarkMigrationApplied records a successful application.
func (a *Applier) MarkMigrationApplied(ctx context.Context, id, name string) error {
	rec := MigrationRecord{ID: id, Name: name, AppliedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "marshal migration record", err)
	}
	if err := a.client.HSet(ctx, a.migrationStateKey(), id, data).Err(); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "mark migration applied", err)
	}
	return nil
}

// MarkMigrationReverted updates the existing record's RevertedAt in
// place rather than deleting it (§11 Open Question 1: auditability).
func (a *Applier) MarkMigrationReverted(ctx context.Context, id string) error {
	raw, err := a.client.HGet(ctx, a.migrationStateKey(), id).Result()
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "read migration state", err)
	}
	var rec MigrationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "unmarshal migration state", err)
	}
	now := time.Now().UTC()
	rec.RevertedAt = &now
	data, err := json.Marshal(rec)
	if err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "marshal migration record", err)
	}
	if err := a.client.HSet(ctx, a.migrationStateKey(), id, data).Err(); err != nil {
		return migrateerr.Wrap(migrateerr.KindDriverError, "mark migration reverted", err)
	}
	return nil
}

// AppliedMigrations returns every bookkeeping record, in no particular
// order; callers typically re-sort by the chain's own ordering.
func (a *Applier) AppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	all, err := a.client.HGetAll(ctx, a.migrationStateKey()).Result()
	if err != nil {
		return nil, migrateerr.Wrap(migrateerr.KindDriverError, "list migration state", err)
	}
	out := make([]MigrationRecord, 0, len(all))
	for _, raw := range all {
		var rec MigrationRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func cloneDoc(d op.Document) op.Document {
	out := op.Document{}
	for k, v := range d {
		out[k] = v
	}
	return out
}
