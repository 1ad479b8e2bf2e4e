package dbapplier_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/outpostdb/migrator/internal/migrate/dbapplier"
	"github.com/outpostdb/migrator/internal/migrate/op"
	internalredis "github.com/outpostdb/migrator/internal/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApplier(t *testing.T) (*dbapplier.Applier, internalredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return dbapplier.New(client), client
}

func TestCreateContainer_RejectsDuplicate(t *testing.T) {
	a, _ := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.ApplyOperation(ctx, op.CreateContainer{Container: "users"}))
	err := a.ApplyOperation(ctx, op.CreateContainer{Container: "users"})
	assert.Error(t, err)
}

func TestSeedContainer_SynthesizesID(t *testing.T) {
	a, client := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.ApplyOperation(ctx, op.CreateContainer{Container: "users"}))
	seed := op.SeedContainer{
		Container: "users",
		Documents: []op.Document{{"name": "ada"}},
	}
	require.NoError(t, a.ApplyOperation(ctx, seed))

	members, err := client.SMembers(ctx, "migrator:container:users").Result()
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestTransformContainer_AddsAndRemovesField(t *testing.T) {
	a, client := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.ApplyOperation(ctx, op.CreateContainer{Container: "users"}))
	require.NoError(t, a.ApplyOperation(ctx, op.SeedContainer{
		Container: "users",
		Documents: []op.Document{{op.FieldID: "u1", "name": "ada"}},
	}))

	xform := op.TransformContainer{
		Container: "users",
		Up: func(d op.Document) (op.Document, error) {
			d["age"] = 30
			return d, nil
		},
		Down: func(d op.Document) (op.Document, error) {
			delete(d, "age")
			return d, nil
		},
	}
	require.NoError(t, a.ApplyOperation(ctx, xform))

	raw, err := client.Get(ctx, "migrator:container:users:doc:u1").Result()
	require.NoError(t, err)
	assert.Contains(t, raw, `"age":30`)

	require.NoError(t, a.ApplyReverseOperation(ctx, xform))
	raw, err = client.Get(ctx, "migrator:container:users:doc:u1").Result()
	require.NoError(t, err)
	assert.NotContains(t, raw, "age")
}

func TestCreateInstance_RegistersInstancesAndMetadata(t *testing.T) {
	a, client := newTestApplier(t)
	ctx := context.Background()
	a.SetCurrentMigrationID("001_init")

	require.NoError(t, a.ApplyOperation(ctx, op.CreateInstance{Template: "catalog", Instance: "library"}))
	require.NoError(t, a.ApplyOperation(ctx, op.CreateInstance{Template: "catalog", Instance: "store"}))

	instances, err := client.SMembers(ctx, "migrator:template:catalog:instances").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"library", "store"}, instances)

	_, err = client.Get(ctx, "migrator:instance:catalog:library:meta:_information").Result()
	assert.NoError(t, err)
}

func TestTransformInstanceType_NoInstancesValidatesAgainstMockWithoutPersisting(t *testing.T) {
	a, _ := newTestApplier(t)
	ctx := context.Background()

	called := false
	xform := op.TransformInstanceType{
		Template: "catalog",
		TypeName: "book",
		Schema:   op.Document{"title": ""},
		Up: func(d op.Document) (op.Document, error) {
			called = true
			return d, nil
		},
	}
	require.NoError(t, a.ApplyOperation(ctx, xform))
	assert.True(t, called)
}

func TestTransformInstanceType_FansOutAcrossExistingInstances(t *testing.T) {
	a, client := newTestApplier(t)
	ctx := context.Background()
	a.SetCurrentMigrationID("001_init")

	require.NoError(t, a.ApplyOperation(ctx, op.CreateInstance{Template: "catalog", Instance: "library"}))
	require.NoError(t, a.ApplyOperation(ctx, op.SeedInstance{
		Template: "catalog", Instance: "library", TypeName: "book",
		Documents: []op.Document{{op.FieldID: "b1", "title": "Go"}},
	}))

	a.SetCurrentMigrationID("002_add_isbn")
	xform := op.TransformInstanceType{
		Template: "catalog",
		TypeName: "book",
		Schema:   op.Document{"title": ""},
		Up: func(d op.Document) (op.Document, error) {
			d["isbn"] = "unknown"
			return d, nil
		},
	}
	require.NoError(t, a.ApplyOperation(ctx, xform))

	raw, err := client.Get(ctx, "migrator:instance:catalog:library:doc:b1").Result()
	require.NoError(t, err)
	assert.Contains(t, raw, "isbn")
}

func TestUpdateIndexes_CreatesAndDropsSets(t *testing.T) {
	a, client := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.ApplyOperation(ctx, op.CreateContainer{Container: "users"}))
	require.NoError(t, a.ApplyOperation(ctx, op.SeedContainer{
		Container: "users",
		Documents: []op.Document{{op.FieldID: "u1", "email": "ada@example.com"}},
	}))

	require.NoError(t, a.ApplyOperation(ctx, op.UpdateIndexes{
		Container: "users",
		Indexes:   []op.IndexSpec{{Field: "email"}},
	}))
	members, err := client.SMembers(ctx, "migrator:index:users:email:ada@example.com").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)

	require.NoError(t, a.ApplyOperation(ctx, op.UpdateIndexes{Container: "users", Indexes: nil}))
	keys, err := client.Keys(ctx, "migrator:index:users:email:*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestUpdateIndexes_OptionChangeRecreatesIndex(t *testing.T) {
	a, client := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.ApplyOperation(ctx, op.CreateContainer{Container: "users"}))
	require.NoError(t, a.ApplyOperation(ctx, op.SeedContainer{
		Container: "users",
		Documents: []op.Document{{op.FieldID: "u1", "email": "ada@example.com"}},
	}))

	require.NoError(t, a.ApplyOperation(ctx, op.UpdateIndexes{
		Container: "users",
		Indexes:   []op.IndexSpec{{Field: "email", Unique: false}},
	}))
	spec, err := client.HGet(ctx, "migrator:index:users:_specs", "email").Result()
	require.NoError(t, err)
	assert.Contains(t, spec, `"unique":false`)

	// Same field, flipped option: the index must be dropped and
	// recreated, not treated as a match.
	require.NoError(t, a.ApplyOperation(ctx, op.UpdateIndexes{
		Container: "users",
		Indexes:   []op.IndexSpec{{Field: "email", Unique: true}},
	}))
	spec, err = client.HGet(ctx, "migrator:index:users:_specs", "email").Result()
	require.NoError(t, err)
	assert.Contains(t, spec, `"unique":true`)

	members, err := client.SMembers(ctx, "migrator:index:users:email:ada@example.com").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members, "value sets survive the recreate")
}

func TestUpdateIndexes_SameSpecTwiceIsANoOp(t *testing.T) {
	a, client := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.ApplyOperation(ctx, op.CreateContainer{Container: "users"}))
	require.NoError(t, a.ApplyOperation(ctx, op.SeedContainer{
		Container: "users",
		Documents: []op.Document{{op.FieldID: "u1", "email": "ada@example.com"}},
	}))

	spec := op.UpdateIndexes{Container: "users", Indexes: []op.IndexSpec{{Field: "email", Unique: true}}}
	require.NoError(t, a.ApplyOperation(ctx, spec))

	// Inject a sentinel member the second run must not disturb: a
	// recreate would rebuild the value sets and drop it.
	require.NoError(t, client.SAdd(ctx, "migrator:index:users:email:ada@example.com", "sentinel").Err())

	require.NoError(t, a.ApplyOperation(ctx, spec))
	members, err := client.SMembers(ctx, "migrator:index:users:email:ada@example.com").Result()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "sentinel"}, members, "an exact spec match must touch nothing")
}

func TestMigrationBookkeeping_MarkAppliedAndReverted(t *testing.T) {
	a, _ := newTestApplier(t)
	ctx := context.Background()

	require.NoError(t, a.MarkMigrationApplied(ctx, "001_init", "init"))
	applied, err := a.IsMigrationApplied(ctx, "001_init")
	require.NoError(t, err)
	assert.True(t, applied)

	require.NoError(t, a.MarkMigrationReverted(ctx, "001_init"))
	applied, err = a.IsMigrationApplied(ctx, "001_init")
	require.NoError(t, err)
	assert.False(t, applied)

	records, err := a.AppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotNil(t, records[0].RevertedAt)
}
