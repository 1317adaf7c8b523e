package models

import (
	"time"

	"github.com/angelmondragon/clubpay-backend/pkg/enums"
)

// Club is a tenant registry row in the shared (public) schema.
type Club struct {
	ID        string           `gorm:"column:id;primaryKey"`
	Name      string           `gorm:"column:name;not null"`
	Gateway   string           `gorm:"column:gateway"`
	Status    enums.ClubStatus `gorm:"column:status;not null;default:'active'"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Club) TableName() string { return "clubs" }
