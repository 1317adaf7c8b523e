package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	unsafeNameChars = regexp.MustCompile(`[^a-z0-9]+`)
	migrationFile   = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
)

const sqlTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- revert %[1]s
-- +goose StatementEnd
`

// CreateSQLMigration writes an empty goose migration for the shared schema
// and returns its path. Club partitions are not migrated through goose.
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" || name == "" {
		return "", fmt.Errorf("dir and name are required")
	}
	slug := strings.Trim(unsafeNameChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create migrations dir: %w", err)
	}

	path := filepath.Join(dir, time.Now().UTC().Format(versionLayout)+"_"+slug+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, sqlTemplate, slug); err != nil {
		return "", fmt.Errorf("write migration: %w", err)
	}
	return path, nil
}

// ValidateDir checks file naming, version uniqueness and the goose Up/Down
// markers of every .sql file in dir.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	versions := make(map[string]string, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		match := migrationFile.FindStringSubmatch(name)
		if match == nil {
			return fmt.Errorf("migration %q must be named YYYYMMDDHHMMSS_name.sql", name)
		}
		if other, dup := versions[match[1]]; dup {
			return fmt.Errorf("migrations %q and %q share version %s", other, name, match[1])
		}
		versions[match[1]] = name

		body, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read migration %q: %w", name, err)
		}
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(string(body), marker) {
				return fmt.Errorf("migration %q is missing %q", name, marker)
			}
		}
	}
	return nil
}
