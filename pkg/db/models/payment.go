package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/angelmondragon/clubpay-backend/pkg/db/types"
)

// Payment posts a confirmed gateway transaction against a charge.
// GatewayTransactionID is unique within the partition.
type Payment struct {
	ID                   uuid.UUID     `gorm:"column:id;type:uuid;primaryKey"`
	ChargeID             uuid.UUID     `gorm:"column:charge_id;type:uuid;not null"`
	Gateway              string        `gorm:"column:gateway;not null"`
	GatewayTransactionID string        `gorm:"column:gateway_transaction_id;not null"`
	AmountCents          int64         `gorm:"column:amount_cents;not null"`
	PaidAt               time.Time     `gorm:"column:paid_at;not null"`
	Raw                  dbtypes.JSONB `gorm:"column:raw"`
	CreatedAt            time.Time     `gorm:"column:created_at;autoCreateTime"`
}
