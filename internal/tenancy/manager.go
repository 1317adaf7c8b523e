package tenancy

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/clubpay-backend/pkg/config"
	"github.com/angelmondragon/clubpay-backend/pkg/db"
	errs "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
	"gorm.io/gorm"
)

// Manager creates, inspects and drops club partitions.
type Manager struct {
	db      *gorm.DB
	dialect dialect
	logg    *logger.Logger
	known   sync.Map
}

func NewManager(client *db.Client, logg *logger.Logger) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	var d dialect = postgresDialect{}
	if client.Driver() == config.DriverSQLite {
		d = &sqliteDialect{dir: client.SQLiteDir()}
	}
	return &Manager{db: client.DB(), dialect: d, logg: logg}, nil
}

// Provision creates the partition and its tables if absent. Calling it again
// for a provisioned club changes nothing.
func (m *Manager) Provision(ctx context.Context, tenantID string) error {
	if err := ValidateID(tenantID); err != nil {
		return err
	}
	schema := SchemaName(tenantID)
	if err := m.dialect.provision(ctx, m.db, schema); err != nil {
		return errs.Wrap(errs.CodeDependency, err, fmt.Sprintf("provision partition %s", schema))
	}
	m.known.Store(schema, struct{}{})
	m.logg.Info(m.logg.WithTenantID(ctx, tenantID), "partition provisioned")
	return nil
}

// Drop removes the partition and everything in it.
func (m *Manager) Drop(ctx context.Context, tenantID string) error {
	if err := ValidateID(tenantID); err != nil {
		return err
	}
	schema := SchemaName(tenantID)
	m.known.Delete(schema)
	if err := m.dialect.drop(ctx, m.db, schema); err != nil {
		return errs.Wrap(errs.CodeDependency, err, fmt.Sprintf("drop partition %s", schema))
	}
	return nil
}

// Tables lists the partition's tables, sorted by name.
func (m *Manager) Tables(ctx context.Context, tenantID string) ([]string, error) {
	if err := ValidateID(tenantID); err != nil {
		return nil, err
	}
	if err := m.bind(ctx, tenantID); err != nil {
		return nil, err
	}
	names, err := m.dialect.tables(ctx, m.db, SchemaName(tenantID))
	if err != nil {
		return nil, errs.Wrap(errs.CodeDependency, err, "list partition tables")
	}
	return names, nil
}

// Exists reports whether the partition has been provisioned.
func (m *Manager) Exists(ctx context.Context, tenantID string) (bool, error) {
	if err := ValidateID(tenantID); err != nil {
		return false, err
	}
	err := m.bind(ctx, tenantID)
	if errs.HasCode(err, errs.CodeNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *Manager) bind(ctx context.Context, tenantID string) error {
	schema := SchemaName(tenantID)
	if _, ok := m.known.Load(schema); ok {
		if _, isPostgres := m.dialect.(postgresDialect); isPostgres {
			return nil
		}
	}
	ok, err := m.dialect.bind(ctx, m.db, schema)
	if err != nil {
		return errs.Wrap(errs.CodeDependency, err, "bind partition")
	}
	if !ok {
		return errs.New(errs.CodeNotFound, fmt.Sprintf("club %s has no partition", tenantID))
	}
	m.known.Store(schema, struct{}{})
	return nil
}
