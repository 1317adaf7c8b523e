package tenancy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/gorm"
)

// dialect hides how a partition is materialized by the storage engine.
type dialect interface {
	provision(ctx context.Context, db *gorm.DB, schema string) error
	drop(ctx context.Context, db *gorm.DB, schema string) error
	tables(ctx context.Context, db *gorm.DB, schema string) ([]string, error)
	// bind makes the partition addressable on db, reporting false when it does not exist.
	bind(ctx context.Context, db *gorm.DB, schema string) (bool, error)
}

type postgresDialect struct{}

func (postgresDialect) provision(ctx context.Context, db *gorm.DB, schema string) error {
	quoted := quoteIdent(schema)
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`CREATE EXTENSION IF NOT EXISTS pgcrypto`).Error; err != nil {
			return fmt.Errorf("enable pgcrypto: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoted)).Error; err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		for _, stmt := range postgresDDL {
			if err := tx.Exec(fmt.Sprintf(stmt, quoted)).Error; err != nil {
				return fmt.Errorf("create partition tables: %w", err)
			}
		}
		return nil
	})
}

func (postgresDialect) drop(ctx context.Context, db *gorm.DB, schema string) error {
	return db.WithContext(ctx).Exec(fmt.Sprintf(`DROP SCHEMA IF EXISTS %s CASCADE`, quoteIdent(schema))).Error
}

func (postgresDialect) tables(ctx context.Context, db *gorm.DB, schema string) ([]string, error) {
	var names []string
	err := db.WithContext(ctx).Raw(
		`SELECT table_name FROM information_schema.tables WHERE table_schema = ? AND table_type = 'BASE TABLE' ORDER BY table_name`,
		schema,
	).Scan(&names).Error
	return names, err
}

func (postgresDialect) bind(ctx context.Context, db *gorm.DB, schema string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT count(*) FROM information_schema.schemata WHERE schema_name = ?`,
		schema,
	).Scan(&count).Error
	return count > 0, err
}

// sqliteDialect stores each partition in its own file, attached to the
// single pooled connection under the partition name.
type sqliteDialect struct {
	dir string
	mu  sync.Mutex
}

func (d *sqliteDialect) path(schema string) string {
	return filepath.Join(d.dir, schema+".db")
}

func (d *sqliteDialect) provision(ctx context.Context, db *gorm.DB, schema string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.attach(ctx, db, schema); err != nil {
		return err
	}
	quoted := quoteIdent(schema)
	for _, stmt := range sqliteDDL {
		if err := db.WithContext(ctx).Exec(fmt.Sprintf(stmt, quoted)).Error; err != nil {
			return fmt.Errorf("create partition tables: %w", err)
		}
	}
	return nil
}

func (d *sqliteDialect) drop(ctx context.Context, db *gorm.DB, schema string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	attached, err := d.attached(ctx, db, schema)
	if err != nil {
		return err
	}
	if attached {
		if err := db.WithContext(ctx).Exec(fmt.Sprintf(`DETACH DATABASE %s`, quoteIdent(schema))).Error; err != nil {
			return fmt.Errorf("detach partition: %w", err)
		}
	}
	if err := os.Remove(d.path(schema)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove partition file: %w", err)
	}
	return nil
}

func (d *sqliteDialect) tables(ctx context.Context, db *gorm.DB, schema string) ([]string, error) {
	var names []string
	err := db.WithContext(ctx).Raw(
		fmt.Sprintf(`SELECT name FROM %s.sqlite_master WHERE type = 'table' ORDER BY name`, quoteIdent(schema)),
	).Scan(&names).Error
	return names, err
}

func (d *sqliteDialect) bind(ctx context.Context, db *gorm.DB, schema string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := os.Stat(d.path(schema)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := d.attach(ctx, db, schema); err != nil {
		return false, err
	}
	return true, nil
}

// attach must be called with mu held. ATTACH creates the file when missing.
func (d *sqliteDialect) attach(ctx context.Context, db *gorm.DB, schema string) error {
	attached, err := d.attached(ctx, db, schema)
	if err != nil || attached {
		return err
	}
	stmt := fmt.Sprintf(`ATTACH DATABASE ? AS %s`, quoteIdent(schema))
	if err := db.WithContext(ctx).Exec(stmt, d.path(schema)).Error; err != nil {
		return fmt.Errorf("attach partition: %w", err)
	}
	return nil
}

func (d *sqliteDialect) attached(ctx context.Context, db *gorm.DB, schema string) (bool, error) {
	type databaseRow struct {
		Seq  int
		Name string
		File string
	}
	var rows []databaseRow
	if err := db.WithContext(ctx).Raw(`PRAGMA database_list`).Scan(&rows).Error; err != nil {
		return false, fmt.Errorf("list attached databases: %w", err)
	}
	for _, row := range rows {
		if row.Name == schema {
			return true, nil
		}
	}
	return false, nil
}
