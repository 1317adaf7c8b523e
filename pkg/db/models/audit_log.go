package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/angelmondragon/clubpay-backend/pkg/db/types"
)

// AuditLog is append-only.
type AuditLog struct {
	ID         uuid.UUID     `gorm:"column:id;type:uuid;primaryKey"`
	ActorID    string        `gorm:"column:actor_id;not null"`
	Action     string        `gorm:"column:action;not null"`
	EntityType string        `gorm:"column:entity_type;not null"`
	EntityID   string        `gorm:"column:entity_id;not null"`
	Metadata   dbtypes.JSONB `gorm:"column:metadata"`
	CreatedAt  time.Time     `gorm:"column:created_at;autoCreateTime"`
}
