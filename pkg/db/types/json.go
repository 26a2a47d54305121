package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

func jsonDataType(db *gorm.DB) string {
	if db.Dialector.Name() == "postgres" {
		return "jsonb"
	}
	return "text"
}

func scanBytes(src any, name string) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("%s: unsupported Scan type %T", name, src)
	}
}

// JSONB is raw JSON stored as jsonb (Postgres) or text (SQLite). It is sent
// to the driver as a string so simple-protocol connections do not encode it
// as bytea.
type JSONB []byte

func (JSONB) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	return jsonDataType(db)
}

func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSONB) Scan(src any) error {
	raw, err := scanBytes(src, "JSONB")
	if err != nil {
		return err
	}
	if raw == nil {
		*j = nil
		return nil
	}
	*j = append((*j)[:0], raw...)
	return nil
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// Int64Map stores per-key credit amounts, keyed by tenant id.
type Int64Map map[string]int64

func (Int64Map) GormDataType() string { return "json" }

func (Int64Map) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	return jsonDataType(db)
}

func (m Int64Map) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(map[string]int64(m))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (m *Int64Map) Scan(src any) error {
	raw, err := scanBytes(src, "Int64Map")
	if err != nil || raw == nil {
		return err
	}
	out := map[string]int64{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("Int64Map: %w", err)
	}
	*m = out
	return nil
}

// DecimalMap stores per-key weights, keyed by tenant id.
type DecimalMap map[string]decimal.Decimal

func (DecimalMap) GormDataType() string { return "json" }

func (DecimalMap) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	return jsonDataType(db)
}

func (m DecimalMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(map[string]decimal.Decimal(m))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (m *DecimalMap) Scan(src any) error {
	raw, err := scanBytes(src, "DecimalMap")
	if err != nil || raw == nil {
		return err
	}
	out := map[string]decimal.Decimal{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("DecimalMap: %w", err)
	}
	*m = out
	return nil
}
