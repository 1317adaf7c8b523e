package tenancy

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Accessor is the only way code reaches club data. Each call builds its own
// Scope; nothing about the current club is stored on the Accessor.
type Accessor struct {
	db      *gorm.DB
	manager *Manager
}

func NewAccessor(manager *Manager) (*Accessor, error) {
	if manager == nil {
		return nil, errors.New("partition manager required")
	}
	return &Accessor{db: manager.db, manager: manager}, nil
}

// WithTenant runs fn against the partition of tenantID.
func (a *Accessor) WithTenant(ctx context.Context, tenantID string, fn func(*Scope) error) error {
	if err := ValidateID(tenantID); err != nil {
		return err
	}
	if err := a.manager.bind(ctx, tenantID); err != nil {
		return err
	}
	scope := &Scope{
		tenantID: tenantID,
		schema:   SchemaName(tenantID),
		db:       a.db.WithContext(ctx),
	}
	return fn(scope)
}

// Query is WithTenant for units of work that return a value.
func Query[T any](ctx context.Context, a *Accessor, tenantID string, fn func(*Scope) (T, error)) (T, error) {
	var out T
	err := a.WithTenant(ctx, tenantID, func(s *Scope) error {
		v, err := fn(s)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// Scope is a data handle bound to one club partition for one call.
type Scope struct {
	tenantID string
	schema   string
	db       *gorm.DB
}

func (s *Scope) TenantID() string { return s.tenantID }

// Table returns a query builder for a partition table.
func (s *Scope) Table(name string) *gorm.DB {
	return s.db.Table(s.Qualified(name))
}

// Qualified is the schema-qualified table name, e.g. club_x.charges.
func (s *Scope) Qualified(name string) string {
	return fmt.Sprintf("%s.%s", s.schema, name)
}

// Transaction runs fn with a Scope whose statements share one transaction.
func (s *Scope) Transaction(fn func(*Scope) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Scope{tenantID: s.tenantID, schema: s.schema, db: tx})
	})
}
