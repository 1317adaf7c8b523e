package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/clubpay-backend/pkg/enums"
)

// Member lives in a club partition. Contact and document fields hold
// ciphertext envelopes, never plaintext.
type Member struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Name              string             `gorm:"column:name;not null"`
	Email             *string            `gorm:"column:email"`
	Phone             *string            `gorm:"column:phone"`
	Document          *string            `gorm:"column:document"`
	DocumentIndex     *string            `gorm:"column:document_index"`
	Status            enums.MemberStatus `gorm:"column:status;not null"`
	GatewayCustomerID *string            `gorm:"column:gateway_customer_id"`
	GatewayCardID     *string            `gorm:"column:gateway_card_id"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
