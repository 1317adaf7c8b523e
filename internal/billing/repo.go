package billing

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/clubpay-backend/internal/audit"
	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	dbtypes "github.com/angelmondragon/clubpay-backend/pkg/db/types"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
)

// Enrollment is a current member-plan pairing with the plan's price.
type Enrollment struct {
	MemberID   uuid.UUID
	PlanID     uuid.UUID
	PriceCents int64
}

// Window is a half-open due-date range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// Repository is the data surface of one club partition the engine works on.
// Implementations are bound to a Scope; a transactional Scope yields a
// transactional Repository.
type Repository interface {
	CountActivePlans() (int64, error)
	ListActiveEnrollments() ([]Enrollment, error)
	// HasOpenCharge reports whether the member has a non-cancelled charge due
	// inside any of the windows.
	HasOpenCharge(memberID uuid.UUID, windows ...Window) (bool, error)
	CreateCharge(charge *models.Charge) error
	RecordAudit(entry audit.Entry) error
	GetMember(id uuid.UUID) (*models.Member, error)
	GetCharge(id uuid.UUID) (*models.Charge, error)
	AttachGatewayResult(chargeID uuid.UUID, gatewayName, externalID string, metadata dbtypes.JSONB) error
	UpdateChargeStatus(chargeID uuid.UUID, status enums.ChargeStatus) error
	// ListUndispatched returns PENDING charges without an external id and
	// PENDING_RETRY charges, due inside the window.
	ListUndispatched(window Window) ([]models.Charge, error)
}

// RepositoryFactory binds a Repository to a Scope.
type RepositoryFactory func(scope *tenancy.Scope) Repository

type repository struct {
	scope *tenancy.Scope
}

func NewRepository(scope *tenancy.Scope) Repository {
	return &repository{scope: scope}
}

func (r *repository) CountActivePlans() (int64, error) {
	var count int64
	err := r.scope.Table(tenancy.TablePlans).Where("active = ?", true).Count(&count).Error
	return count, err
}

func (r *repository) ListActiveEnrollments() ([]Enrollment, error) {
	var rows []Enrollment
	err := r.scope.Table(tenancy.TableMemberPlans + " AS mp").
		Select("mp.member_id AS member_id, mp.plan_id AS plan_id, p.price_cents AS price_cents").
		Joins("JOIN " + r.scope.Qualified(tenancy.TablePlans) + " AS p ON p.id = mp.plan_id").
		Where("mp.ended_at IS NULL").
		Order("mp.started_at ASC, mp.id ASC").
		Scan(&rows).Error
	return rows, err
}

func (r *repository) HasOpenCharge(memberID uuid.UUID, windows ...Window) (bool, error) {
	if len(windows) == 0 {
		return false, nil
	}
	clauses := make([]string, 0, len(windows))
	args := make([]any, 0, 2*len(windows))
	for _, w := range windows {
		clauses = append(clauses, "(due_date >= ? AND due_date < ?)")
		args = append(args, w.From, w.To)
	}

	var count int64
	err := r.scope.Table(tenancy.TableCharges).
		Where("member_id = ? AND status <> ?", memberID, enums.ChargeStatusCancelled).
		Where("("+strings.Join(clauses, " OR ")+")", args...).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) CreateCharge(charge *models.Charge) error {
	return r.scope.Table(tenancy.TableCharges).Create(charge).Error
}

func (r *repository) RecordAudit(entry audit.Entry) error {
	return audit.Record(r.scope, entry)
}

func (r *repository) GetMember(id uuid.UUID) (*models.Member, error) {
	var member models.Member
	if err := r.scope.Table(tenancy.TableMembers).Where("id = ?", id).Take(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "member not found")
		}
		return nil, err
	}
	return &member, nil
}

func (r *repository) GetCharge(id uuid.UUID) (*models.Charge, error) {
	var charge models.Charge
	if err := r.scope.Table(tenancy.TableCharges).Where("id = ?", id).Take(&charge).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "charge not found")
		}
		return nil, err
	}
	return &charge, nil
}

func (r *repository) AttachGatewayResult(chargeID uuid.UUID, gatewayName, externalID string, metadata dbtypes.JSONB) error {
	updates := map[string]any{
		"gateway":    gatewayName,
		"status":     enums.ChargeStatusPending,
		"updated_at": time.Now().UTC(),
	}
	if externalID != "" {
		updates["external_id"] = externalID
	}
	if len(metadata) > 0 {
		updates["gateway_metadata"] = metadata
	}
	return r.updateCharge(chargeID, updates)
}

func (r *repository) UpdateChargeStatus(chargeID uuid.UUID, status enums.ChargeStatus) error {
	return r.updateCharge(chargeID, map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	})
}

func (r *repository) ListUndispatched(window Window) ([]models.Charge, error) {
	var charges []models.Charge
	err := r.scope.Table(tenancy.TableCharges).
		Where("due_date >= ? AND due_date < ?", window.From, window.To).
		Where("((status = ? AND external_id IS NULL) OR status = ?)", enums.ChargeStatusPending, enums.ChargeStatusPendingRetry).
		Order("created_at ASC, id ASC").
		Find(&charges).Error
	return charges, err
}

func (r *repository) updateCharge(chargeID uuid.UUID, updates map[string]any) error {
	res := r.scope.Table(tenancy.TableCharges).Where("id = ?", chargeID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "charge not found")
	}
	return nil
}
