package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/clubpay-backend/pkg/config"
)

const DefaultDir = "pkg/migrate/migrations"

// Shared-schema migrations (the club registry). Club partitions are
// provisioned by internal/tenancy, not by goose.
//
//go:embed migrations/*.sql
var embedded embed.FS

// Run executes a standard goose command that requires a DB connection. The
// default dir is served from the binary so commands work from any cwd.
func Run(ctx context.Context, db *sql.DB, driver string, dir string, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	dir, err := prepare(driver, dir)
	if err != nil {
		return err
	}

	// RunContext prints status output to stdout (goose internal)
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion migrates up/down to the requested version by comparing current DB version.
func MigrateToVersion(ctx context.Context, db *sql.DB, driver string, dir string, targetVersion string) error {
	if targetVersion == "" {
		return fmt.Errorf("targetVersion is required")
	}
	dir, err := prepare(driver, dir)
	if err != nil {
		return err
	}

	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	current, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == target:
		return nil
	case current < target:
		if err := goose.UpToContext(ctx, db, dir, target); err != nil {
			return fmt.Errorf("goose up-to %d: %w", target, err)
		}
		return nil
	default:
		if err := goose.DownToContext(ctx, db, dir, target); err != nil {
			return fmt.Errorf("goose down-to %d: %w", target, err)
		}
		return nil
	}
}

func prepare(driver, dir string) (string, error) {
	dialect := goose.DialectPostgres
	if driver == config.DriverSQLite {
		dialect = goose.DialectSQLite3
	}
	if err := goose.SetDialect(string(dialect)); err != nil {
		return "", fmt.Errorf("set goose dialect: %w", err)
	}

	if dir == "" || dir == DefaultDir {
		sub, err := fs.Sub(embedded, "migrations")
		if err != nil {
			return "", fmt.Errorf("embedded migrations: %w", err)
		}
		goose.SetBaseFS(sub)
		return ".", nil
	}
	goose.SetBaseFS(os.DirFS(dir))
	return ".", nil
}
