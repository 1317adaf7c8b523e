package tenancy

import (
	"errors"
	"regexp"

	"github.com/jackc/pgx/v5"

	errs "github.com/angelmondragon/clubpay-backend/pkg/errors"
)

const schemaPrefix = "club_"

var (
	idPattern = regexp.MustCompile(`^[a-z0-9]{20,30}$`)

	// ErrInvalidTenantID is the cause of every tenant id validation failure.
	ErrInvalidTenantID = errors.New("invalid tenant id")
)

// ValidateID accepts only 20-30 lowercase alphanumerics. The id becomes part
// of DDL statements, so nothing else may pass.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return errs.Wrap(errs.CodeValidation, ErrInvalidTenantID, "tenant id must be 20-30 lowercase alphanumeric characters")
	}
	return nil
}

// SchemaName derives the partition name. Callers must validate id first.
func SchemaName(id string) string {
	return schemaPrefix + id
}

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
