package repository

import (
	"context"
	"errors"
	"fmt"

	"lostmatch/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WeightRepositoryImpl handles versioned weight profiles
type WeightRepositoryImpl struct {
	db *gorm.DB
}

// NewWeightRepository creates a new weight profile repository
func NewWeightRepository(db *gorm.DB) *WeightRepositoryImpl {
	return &WeightRepositoryImpl{db: db}
}

// GetActive returns the single active version for a profile name, or
// (nil, nil) when the name has no active version (the resolver treats that
// as "fall back to global")
func (r *WeightRepositoryImpl) GetActive(ctx context.Context, configName string) (*models.WeightProfile, error) {
	var profile models.WeightProfile
	err := r.db.WithContext(ctx).
		Where("config_name = ? AND is_active", configName).
		First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active profile: %w", err)
	}
	return &profile, nil
}

// GetByID retrieves a profile version by its KSUID
func (r *WeightRepositoryImpl) GetByID(ctx context.Context, id string) (*models.WeightProfile, error) {
	var profile models.WeightProfile
	err := r.db.WithContext(ctx).First(&profile, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("weight profile not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get weight profile: %w", err)
	}
	return &profile, nil
}

// ListVersions returns all versions for a profile name, newest first
func (r *WeightRepositoryImpl) ListVersions(ctx context.Context, configName string) ([]*models.WeightProfile, error) {
	var profiles []*models.WeightProfile
	err := r.db.WithContext(ctx).
		Where("config_name = ?", configName).
		Order("version DESC").
		Find(&profiles).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list profile versions: %w", err)
	}
	return profiles, nil
}

// CreateVersion inserts a new INACTIVE version with the next monotonic
// version number for its name. Activation is a separate, explicit step.
func (r *WeightRepositoryImpl) CreateVersion(ctx context.Context, profile *models.WeightProfile) (*models.WeightProfile, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int
		// COALESCE over all versions (active or not) keeps versions monotonic
		if err := tx.Model(&models.WeightProfile{}).
			Where("config_name = ?", profile.ConfigName).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return fmt.Errorf("failed to find latest version: %w", err)
		}

		profile.Version = maxVersion + 1
		profile.IsActive = false
		if err := tx.Create(profile).Error; err != nil {
			return fmt.Errorf("failed to create profile version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

/*
LEARNING: ATOMIC PROFILE PROMOTION

No concurrent scorer may ever see two active versions or zero active
versions for a name. Deactivate-old and activate-new run in one
transaction; the partial unique index on (config_name) WHERE is_active
rejects any interleaving that would produce two actives, so a racing
promotion serializes and the final state reflects the last committer.
*/

// Promote atomically makes the given version the active one for its name
func (r *WeightRepositoryImpl) Promote(ctx context.Context, profileID string) (*models.WeightProfile, error) {
	var promoted models.WeightProfile

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&promoted, "id = ?", profileID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("weight profile not found: %s", profileID)
			}
			return fmt.Errorf("failed to load profile: %w", err)
		}
		if promoted.IsActive {
			return nil // already active - promotion is idempotent
		}

		if err := tx.Model(&models.WeightProfile{}).
			Where("config_name = ? AND is_active", promoted.ConfigName).
			Update("is_active", false).Error; err != nil {
			return fmt.Errorf("failed to deactivate current version: %w", err)
		}

		if err := tx.Model(&promoted).Update("is_active", true).Error; err != nil {
			return fmt.Errorf("failed to activate new version: %w", err)
		}
		promoted.IsActive = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &promoted, nil
}

// EnsureDefault seeds the initial active global profile on first boot so
// the scorer always has a profile to resolve
func (r *WeightRepositoryImpl) EnsureDefault(ctx context.Context) error {
	existing, err := r.GetActive(ctx, models.GlobalProfileName)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	profile := &models.WeightProfile{
		ConfigName: models.GlobalProfileName,
		ConfigData: datatypes.NewJSONType(models.DefaultWeightConfig()),
	}

	created, err := r.CreateVersion(ctx, profile)
	if err != nil {
		return fmt.Errorf("failed to seed default profile: %w", err)
	}
	if _, err := r.Promote(ctx, created.ID); err != nil {
		return fmt.Errorf("failed to activate default profile: %w", err)
	}
	return nil
}
