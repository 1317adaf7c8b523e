package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB stores raw JSON in a jsonb column on Postgres and a TEXT column on
// SQLite. Values are bound as strings so the simple query protocol does not
// encode them as bytea.
type JSONB json.RawMessage

func (j *JSONB) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case string:
		*j = append((*j)[:0], v...)
	case []byte:
		*j = append((*j)[:0], v...)
	default:
		return fmt.Errorf("JSONB: unsupported Scan type %T", src)
	}
	return nil
}

func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("JSONB: invalid json")
	}
	return string(j), nil
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

// MarshalJSONB encodes v into a JSONB value.
func MarshalJSONB(v any) (JSONB, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONB(raw), nil
}

// Decode unmarshals the stored document into dst. Empty values leave dst untouched.
func (j JSONB) Decode(dst any) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, dst)
}
