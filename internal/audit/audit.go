package audit

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/clubpay-backend/pkg/db/types"
)

// SystemActor is the actor id for scheduled and webhook-driven writes.
const SystemActor = "system"

const (
	ActionMemberCreated       = "member.created"
	ActionChargeCreated       = "charge.created"
	ActionChargeCancelled     = "charge.cancelled"
	ActionChargeDispatched    = "charge.dispatched"
	ActionChargePaid          = "charge.paid"
	ActionChargePaymentFailed = "charge.payment_failed"
	ActionChargeGatewayCancel = "charge.gateway_cancelled"
	ActionPaymentRecorded     = "payment.recorded"
	EntityMember              = "member"
	EntityCharge              = "charge"
	EntityPayment             = "payment"
)

// Entry describes one state change.
type Entry struct {
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Metadata   map[string]any
}

// Record appends an entry to the partition's audit log. Callers run it in the
// same transaction as the change it describes, so a failed write fails the change.
func Record(scope *tenancy.Scope, entry Entry) error {
	if strings.TrimSpace(entry.ActorID) == "" {
		return fmt.Errorf("audit actor required")
	}
	if entry.Action == "" || entry.EntityType == "" || entry.EntityID == "" {
		return fmt.Errorf("audit action and entity required")
	}

	var metadata dbtypes.JSONB
	if len(entry.Metadata) > 0 {
		encoded, err := dbtypes.MarshalJSONB(entry.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = encoded
	}

	row := models.AuditLog{
		ID:         uuid.New(),
		ActorID:    entry.ActorID,
		Action:     entry.Action,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Metadata:   metadata,
	}
	if err := scope.Table(tenancy.TableAuditLogs).Create(&row).Error; err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// AmountMajor renders minor units as a fixed two-decimal major amount, e.g. 15000 -> "150.00".
func AmountMajor(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// List returns the entries for an entity, oldest first.
func List(scope *tenancy.Scope, entityType, entityID string) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := scope.Table(tenancy.TableAuditLogs).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
