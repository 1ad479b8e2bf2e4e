package simulate_test

import (
	"testing"

	"github.com/outpostdb/migrator/internal/migrate/op"
	"github.com/outpostdb/migrator/internal/migrate/simulate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3_CreateSeedRoundTrip(t *testing.T) {
	a := simulate.New()
	s0 := simulate.NewState()
	create := op.CreateContainer{Container: "users"}
	seed := op.SeedContainer{Container: "users", Documents: []op.Document{
		{op.FieldID: "a"}, {op.FieldID: "b"},
	}}

	s1, err := a.Apply(s0, create)
	require.NoError(t, err)
	s2, err := a.Apply(s1, seed)
	require.NoError(t, err)
	assert.Len(t, s2.Containers["users"].Content, 2)
	assert.Len(t, s0.Containers, 0, "forward apply must not mutate the input state")

	s3, err := a.ApplyReverse(s2, seed)
	require.NoError(t, err)
	s4, err := a.ApplyReverse(s3, create)
	require.NoError(t, err)

	assert.True(t, simulate.Equal(s0, s4))
}

func TestS4_TransformContainer_AddThenRemoveField(t *testing.T) {
	a := simulate.New()
	s := simulate.NewState()

	create := op.CreateContainer{Container: "users"}
	seed := op.SeedContainer{Container: "users", Documents: []op.Document{
		{op.FieldID: "u1", "name": "Ann", "email": "ann@example.com"},
		{op.FieldID: "u2", "name": "Bo", "email": "bo@example.com"},
	}}
	addAge := op.TransformContainer{
		Container: "users",
		Up: func(d op.Document) (op.Document, error) {
			out := cloneDoc(d)
			out["age"] = 25
			return out, nil
		},
		Down: func(d op.Document) (op.Document, error) {
			out := cloneDoc(d)
			delete(out, "age")
			return out, nil
		},
	}

	s, err := a.Apply(s, create)
	require.NoError(t, err)
	s, err = a.Apply(s, seed)
	require.NoError(t, err)
	s, err = a.Apply(s, addAge)
	require.NoError(t, err)

	for _, d := range s.Containers["users"].Content {
		assert.Equal(t, 25, d["age"])
		assert.NotEmpty(t, d["name"])
		assert.NotEmpty(t, d["email"])
	}

	s, err = a.ApplyReverse(s, addAge)
	require.NoError(t, err)
	for _, d := range s.Containers["users"].Content {
		_, hasAge := d["age"]
		assert.False(t, hasAge)
		assert.NotEmpty(t, d["name"])
	}
}

func TestS5_FanOutTransformAcrossInstances(t *testing.T) {
	a := simulate.New()
	s := simulate.NewState()

	create := func(name string) op.CreateInstance { return op.CreateInstance{Template: "catalog", Instance: name} }
	seedBook := func(name string) op.SeedInstance {
		return op.SeedInstance{Template: "catalog", Instance: name, TypeName: "book", Documents: []op.Document{
			{op.FieldID: "b1", "title": "Go in Practice"},
		}}
	}
	addISBN := op.TransformInstanceType{
		Template: "catalog",
		TypeName: "book",
		Up: func(d op.Document) (op.Document, error) {
			out := cloneDoc(d)
			out["isbn"] = "000-0000000000"
			return out, nil
		},
		Down: func(d op.Document) (op.Document, error) {
			out := cloneDoc(d)
			delete(out, "isbn")
			return out, nil
		},
	}

	var err error
	s, err = a.Apply(s, create("catalog_library"))
	require.NoError(t, err)
	s, err = a.Apply(s, seedBook("catalog_library"))
	require.NoError(t, err)
	s, err = a.Apply(s, create("catalog_store"))
	require.NoError(t, err)
	s, err = a.Apply(s, seedBook("catalog_store"))
	require.NoError(t, err)

	s, err = a.Apply(s, addISBN)
	require.NoError(t, err)

	for _, instName := range []string{"catalog_library", "catalog_store"} {
		found := false
		for _, d := range s.Instances[instName].Content {
			if d.ID() == "b1" {
				found = true
				assert.Equal(t, "000-0000000000", d["isbn"])
			}
		}
		assert.True(t, found)
	}

	s, err = a.ApplyReverse(s, addISBN)
	require.NoError(t, err)
	for _, instName := range []string{"catalog_library", "catalog_store"} {
		for _, d := range s.Instances[instName].Content {
			if d.ID() == "b1" {
				_, has := d["isbn"]
				assert.False(t, has)
			}
		}
	}
}

func TestTransformInstanceType_NoInstancesValidatesAgainstMock(t *testing.T) {
	a := simulate.New()
	s := simulate.NewState()

	xform := op.TransformInstanceType{
		Template: "catalog",
		TypeName: "book",
		Schema:   op.Document{"title": "placeholder"},
		Up: func(d op.Document) (op.Document, error) {
			out := cloneDoc(d)
			out["isbn"] = "x"
			return out, nil
		},
		Down: func(d op.Document) (op.Document, error) {
			out := cloneDoc(d)
			delete(out, "isbn")
			return out, nil
		},
	}

	out, err := a.Apply(s, xform)
	require.NoError(t, err)
	assert.Len(t, out.Instances, 0, "no real instance should be created just to validate")
}

func cloneDoc(d op.Document) op.Document {
	out := op.Document{}
	for k, v := range d {
		out[k] = v
	}
	return out
}
