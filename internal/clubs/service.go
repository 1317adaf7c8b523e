package clubs

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/clubpay-backend/pkg/errors"
	"github.com/angelmondragon/clubpay-backend/pkg/logger"
)

type clubRepository interface {
	Insert(ctx context.Context, club *models.Club) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*models.Club, error)
	List(ctx context.Context, status enums.ClubStatus) ([]models.Club, error)
	UpdateStatus(ctx context.Context, id string, status enums.ClubStatus) error
}

type partitionManager interface {
	Provision(ctx context.Context, tenantID string) error
	Drop(ctx context.Context, tenantID string) error
}

// CreateInput registers a club. Gateway names the payment gateway its charges use.
type CreateInput struct {
	ID      string
	Name    string
	Gateway string
}

// ProvisionReport summarizes a ProvisionAll pass.
type ProvisionReport struct {
	Provisioned int
	Failed      map[string]error
}

// Service owns the club lifecycle. A club row and its partition exist together.
type Service struct {
	repo       clubRepository
	partitions partitionManager
	logg       *logger.Logger
}

func NewService(repo clubRepository, partitions partitionManager, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("club repository required")
	}
	if partitions == nil {
		return nil, fmt.Errorf("partition manager required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{repo: repo, partitions: partitions, logg: logg}, nil
}

// Create inserts the registry row and provisions the partition. If
// provisioning fails the row and any partial partition are removed.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.Club, error) {
	if err := tenancy.ValidateID(input.ID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "club name required")
	}

	club := &models.Club{
		ID:      input.ID,
		Name:    name,
		Gateway: strings.ToLower(strings.TrimSpace(input.Gateway)),
		Status:  enums.ClubStatusActive,
	}
	if _, err := s.repo.FindByID(ctx, club.ID); err == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "club already exists")
	} else if !isNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup club")
	}
	if err := s.repo.Insert(ctx, club); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert club")
	}

	ctx = s.logg.WithTenantID(ctx, club.ID)
	if err := s.partitions.Provision(ctx, club.ID); err != nil {
		cleanup := multierr.Combine(
			s.partitions.Drop(ctx, club.ID),
			s.repo.Delete(ctx, club.ID),
		)
		if cleanup != nil {
			s.logg.Error(ctx, "club compensation incomplete", cleanup)
		}
		return nil, multierr.Append(err, cleanup)
	}

	s.logg.Info(ctx, "club created")
	return club, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Club, error) {
	if err := tenancy.ValidateID(id); err != nil {
		return nil, err
	}
	club, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "club not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load club")
	}
	return club, nil
}

// List returns every club. Billing uses ListActive.
func (s *Service) List(ctx context.Context) ([]models.Club, error) {
	rows, err := s.repo.List(ctx, "")
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list clubs")
	}
	return rows, nil
}

func (s *Service) ListActive(ctx context.Context) ([]models.Club, error) {
	rows, err := s.repo.List(ctx, enums.ClubStatusActive)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active clubs")
	}
	return rows, nil
}

func (s *Service) SetStatus(ctx context.Context, id string, status enums.ClubStatus) error {
	if !status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid club status %q", status))
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		if isNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "club not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update club status")
	}
	return nil
}

// ProvisionAll re-runs idempotent provisioning for every club so partitions
// pick up new tables. One club failing does not stop the rest.
func (s *Service) ProvisionAll(ctx context.Context) (ProvisionReport, error) {
	report := ProvisionReport{Failed: map[string]error{}}
	rows, err := s.List(ctx)
	if err != nil {
		return report, err
	}
	for _, club := range rows {
		clubCtx := s.logg.WithTenantID(ctx, club.ID)
		if err := s.partitions.Provision(clubCtx, club.ID); err != nil {
			s.logg.Error(clubCtx, "provision failed", err)
			report.Failed[club.ID] = err
			continue
		}
		report.Provisioned++
	}
	return report, nil
}
