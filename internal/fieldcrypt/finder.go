package fieldcrypt

import (
	"fmt"

	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
)

const scanBatchSize = 500

// Lookup names an encrypted column. Names come from code, never from input.
type Lookup struct {
	Table       string
	Column      string
	IndexColumn string
}

type encryptedRow struct {
	ID    string
	Value *string
}

// FindByPlaintext returns the id of the row in scope whose encrypted column
// decrypts to value. With the blind index enabled, indexed rows are matched
// by hash first; rows written before the index existed are still found by
// the decrypt-scan fallback. The scan is O(rows) per lookup.
func (c *Codec) FindByPlaintext(scope *tenancy.Scope, lookup Lookup, value string) (string, bool, error) {
	if value == "" {
		return "", false, nil
	}

	if c.BlindIndexEnabled() && lookup.IndexColumn != "" {
		var rows []encryptedRow
		err := scope.Table(lookup.Table).
			Select(fmt.Sprintf("id, %s AS value", lookup.Column)).
			Where(fmt.Sprintf("%s = ?", lookup.IndexColumn), c.BlindIndex(value)).
			Scan(&rows).Error
		if err != nil {
			return "", false, fmt.Errorf("blind index lookup: %w", err)
		}
		if id, ok := c.firstMatch(rows, value); ok {
			return id, true, nil
		}
		return c.scan(scope, lookup, value, fmt.Sprintf("%s IS NULL", lookup.IndexColumn))
	}

	return c.scan(scope, lookup, value, "")
}

func (c *Codec) scan(scope *tenancy.Scope, lookup Lookup, value, extra string) (string, bool, error) {
	var (
		found string
		hit   bool
	)
	offset := 0
	for {
		query := scope.Table(lookup.Table).
			Select(fmt.Sprintf("id, %s AS value", lookup.Column)).
			Where(fmt.Sprintf("%s IS NOT NULL", lookup.Column))
		if extra != "" {
			query = query.Where(extra)
		}

		var rows []encryptedRow
		if err := query.Order("id").Offset(offset).Limit(scanBatchSize).Scan(&rows).Error; err != nil {
			return "", false, fmt.Errorf("decrypt scan: %w", err)
		}
		if id, ok := c.firstMatch(rows, value); ok {
			found, hit = id, true
			break
		}
		if len(rows) < scanBatchSize {
			break
		}
		offset += len(rows)
	}
	return found, hit, nil
}

func (c *Codec) firstMatch(rows []encryptedRow, value string) (string, bool) {
	for _, row := range rows {
		if row.Value == nil {
			continue
		}
		plain, err := c.Decrypt(*row.Value)
		if err != nil {
			continue
		}
		if plain == value {
			return row.ID, true
		}
	}
	return "", false
}
