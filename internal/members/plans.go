package members

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
)

// PlanInput describes a club plan.
type PlanInput struct {
	Name       string                `validate:"required,max=120"`
	PriceCents int64                 `validate:"gte=0"`
	Interval   enums.BillingInterval `validate:"required"`
	Active     bool
}

// CreatePlan adds a plan to the club catalog.
func (s *Service) CreatePlan(ctx context.Context, tenantID string, input PlanInput) (*models.Plan, error) {
	if err := validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan")
	}
	interval, err := enums.ParseBillingInterval(strings.ToUpper(string(input.Interval)))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan")
	}
	plan := &models.Plan{
		ID:         uuid.New(),
		Name:       input.Name,
		PriceCents: input.PriceCents,
		Interval:   interval,
		Active:     input.Active,
	}
	err = s.accessor.WithTenant(ctx, tenantID, func(scope *tenancy.Scope) error {
		if err := scope.Table(tenancy.TablePlans).Create(plan).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create plan")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// SetPlanActive toggles whether a plan counts toward billing eligibility.
func (s *Service) SetPlanActive(ctx context.Context, tenantID string, planID uuid.UUID, active bool) error {
	return s.accessor.WithTenant(ctx, tenantID, func(scope *tenancy.Scope) error {
		res := scope.Table(tenancy.TablePlans).Where("id = ?", planID).Update("active", active)
		if res.Error != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update plan")
		}
		if res.RowsAffected == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
		}
		return nil
	})
}
