package idgen_test

import (
	"testing"
	"time"

	"github.com/outpostdb/migrator/internal/idgen"
	"github.com/stretchr/testify/assert"
)

func TestMigrationID_Format(t *testing.T) {
	at := time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "2026_03_05_0930_add-age", idgen.MigrationID(at, "add-age"))
}

func TestRandom_IsNonEmptyAndVaries(t *testing.T) {
	a := idgen.Random()
	b := idgen.Random()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}
