// Package idgen generates the sortable migration IDs the file-naming
// convention (spec §6.1) recommends, plus a short random suffix for
// disambiguating them.
package idgen

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MigrationID returns a sortable migration ID of the form
// YYYY_MM_DD_HHMM_<slug>, matching the convention §3 documents as
// non-binding but recommended for lexicographic chain ordering.
func MigrationID(at time.Time, slug string) string {
	return fmt.Sprintf("%s_%s", at.UTC().Format("2006_01_02_1504"), slug)
}

// Random returns a short random suffix suitable for disambiguating two
// migrations authored in the same minute.
func Random() string {
	return uuid.New().String()[:8]
}
