package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/angelmondragon/clubpay-backend/pkg/db/types"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
)

// Charge is one member's bill for a billing period. The period is derived
// from DueDate; there is no period column.
type Charge struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	MemberID        uuid.UUID           `gorm:"column:member_id;type:uuid;not null"`
	AmountCents     int64               `gorm:"column:amount_cents;not null"`
	DueDate         time.Time           `gorm:"column:due_date;not null"`
	Status          enums.ChargeStatus  `gorm:"column:status;not null"`
	Method          enums.PaymentMethod `gorm:"column:method;not null"`
	ExternalID      *string             `gorm:"column:external_id"`
	Gateway         *string             `gorm:"column:gateway"`
	GatewayMetadata dbtypes.JSONB       `gorm:"column:gateway_metadata"`
	PaidAt          *time.Time          `gorm:"column:paid_at"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
