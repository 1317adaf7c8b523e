package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/clubpay-backend/pkg/enums"
)

// Plan prices are integer minor units (centavos).
type Plan struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Name       string                `gorm:"column:name;not null"`
	PriceCents int64                 `gorm:"column:price_cents;not null"`
	Interval   enums.BillingInterval `gorm:"column:billing_interval;not null"`
	Active     bool                  `gorm:"column:active;not null"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// MemberPlan enrolls a member in a plan; EndedAt nil means currently enrolled.
type MemberPlan struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	MemberID  uuid.UUID  `gorm:"column:member_id;type:uuid;not null"`
	PlanID    uuid.UUID  `gorm:"column:plan_id;type:uuid;not null"`
	StartedAt time.Time  `gorm:"column:started_at;not null"`
	EndedAt   *time.Time `gorm:"column:ended_at"`
}
