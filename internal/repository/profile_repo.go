package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/karyadesign/karya-api/internal/models"
)

// ErrProfileNotFound is returned when the viewer has no stored profile.
var ErrProfileNotFound = errors.New("profile not found")

// ProfileRepository resolves viewer identities.
type ProfileRepository interface {
	FindByID(ctx context.Context, id string) (models.Profile, error)
	Upsert(ctx context.Context, profile *models.Profile) error
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository constructs a profile repository backed by GORM.
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) FindByID(ctx context.Context, id string) (models.Profile, error) {
	var profile models.Profile
	if err := r.db.WithContext(ctx).First(&profile, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Profile{}, ErrProfileNotFound
		}
		return models.Profile{}, err
	}
	return profile, nil
}

func (r *profileRepository) Upsert(ctx context.Context, profile *models.Profile) error {
	return r.db.WithContext(ctx).Save(profile).Error
}
