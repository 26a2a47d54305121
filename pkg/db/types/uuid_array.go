package dbtypes

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// UUIDArray holds campaign target tenants. On postgres the column is uuid[];
// sqlite stores the same array literal as text.
type UUIDArray []uuid.UUID

func (UUIDArray) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "uuid[]"
	}
	return "text"
}

// Scan accepts the postgres array literal in either quoted or bare form.
func (a *UUIDArray) Scan(src any) error {
	var raw pq.StringArray
	if err := raw.Scan(src); err != nil {
		return fmt.Errorf("uuid array: %w", err)
	}
	ids := make(UUIDArray, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("uuid array: element %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	*a = ids
	return nil
}

// Value always writes a literal, "{}" when empty, so an empty target list
// compares equal to UUIDArray{} in queries.
func (a UUIDArray) Value() (driver.Value, error) {
	strs := make(pq.StringArray, len(a))
	for i, id := range a {
		strs[i] = id.String()
	}
	return strs.Value()
}

// Sorted returns the distinct ids in byte order, which matches the order of
// their canonical string form.
func (a UUIDArray) Sorted() []uuid.UUID {
	out := slices.Clone([]uuid.UUID(a))
	slices.SortFunc(out, func(x, y uuid.UUID) int { return bytes.Compare(x[:], y[:]) })
	return slices.Compact(out)
}
