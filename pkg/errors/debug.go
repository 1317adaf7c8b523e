package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump flattens an error chain for logs. Database fields are filled when
// a Postgres error is somewhere in the chain; Schema names the club
// partition the failing statement touched.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGSchema     string `json:"pg_schema,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		d.PGCode, d.PGSchema, d.PGTable = pgxErr.Code, pgxErr.SchemaName, pgxErr.TableName
		d.PGConstraint, d.PGDetail = pgxErr.ConstraintName, pgxErr.Detail
	case errors.As(err, &pqErr):
		d.PGCode, d.PGSchema, d.PGTable = string(pqErr.Code), pqErr.Schema, pqErr.Table
		d.PGConstraint, d.PGDetail = pqErr.Constraint, pqErr.Detail
	}
	return d
}

// Fields returns the non-empty parts of the dump as structured log fields.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{}
	add := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	add("error_code", string(d.Code))
	add("pg_code", d.PGCode)
	add("pg_schema", d.PGSchema)
	add("pg_table", d.PGTable)
	add("pg_constraint", d.PGConstraint)
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	return fields
}
