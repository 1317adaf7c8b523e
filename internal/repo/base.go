package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base holds the connection shared-schema repositories query through.
// Club-partitioned data goes through tenancy scopes instead.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx; a nil ctx returns it unbound.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}
