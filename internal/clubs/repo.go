package clubs

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/clubpay-backend/internal/repo"
	"github.com/angelmondragon/clubpay-backend/pkg/db/models"
	"github.com/angelmondragon/clubpay-backend/pkg/enums"
)

// Repository reads and writes the shared club registry.
type Repository struct {
	repo.Base
}

// NewRepository binds the repo to the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) Insert(ctx context.Context, club *models.Club) error {
	return r.DB(ctx).Create(club).Error
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.DB(ctx).Where("id = ?", id).Delete(&models.Club{}).Error
}

// FindByID returns gorm.ErrRecordNotFound when the club is unknown.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.Club, error) {
	var club models.Club
	if err := r.DB(ctx).Where("id = ?", id).Take(&club).Error; err != nil {
		return nil, err
	}
	return &club, nil
}

// List returns clubs ordered by id; an empty status lists every club.
func (r *Repository) List(ctx context.Context, status enums.ClubStatus) ([]models.Club, error) {
	var rows []models.Club
	query := r.DB(ctx).Order("id")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) UpdateStatus(ctx context.Context, id string, status enums.ClubStatus) error {
	res := r.DB(ctx).Model(&models.Club{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
