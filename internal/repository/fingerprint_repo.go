package repository

import (
	"context"
	"errors"
	"fmt"

	"lostmatch/internal/models"

	"gorm.io/gorm"
)

// FingerprintRepositoryImpl handles Visual DNA storage using GORM.
// This is the IMPLEMENTATION - consumers (builder, cascade) declare the
// interfaces they need.
type FingerprintRepositoryImpl struct {
	db *gorm.DB
}

// NewFingerprintRepository creates a new fingerprint repository.
// Returns concrete type - consumer will use interface.
func NewFingerprintRepository(db *gorm.DB) *FingerprintRepositoryImpl {
	return &FingerprintRepositoryImpl{db: db}
}

// CreatePending inserts (or resets) the fingerprint row for a photo in
// "pending" state. One fingerprint per photo: if the photo already has one,
// that row is reset for the rebuild instead of a duplicate being created.
// The unique index on photo_id backstops the rare concurrent submit.
func (r *FingerprintRepositoryImpl) CreatePending(ctx context.Context, create *models.FingerprintCreate) (*models.VisualFingerprint, error) {
	var existing models.VisualFingerprint
	err := r.db.WithContext(ctx).First(&existing, "photo_id = ?", create.PhotoID).Error

	if err == nil {
		// Rebuild path: reset the existing row
		updates := map[string]interface{}{
			"case_id":           create.CaseID,
			"processing_status": models.ProcessingPending,
			"processing_error":  "",
		}
		if err := r.db.WithContext(ctx).Model(&existing).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("failed to reset fingerprint for rebuild: %w", err)
		}
		existing.ProcessingStatus = models.ProcessingPending
		existing.ProcessingError = ""
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check existing fingerprint: %w", err)
	}

	fp := &models.VisualFingerprint{
		PhotoID:          create.PhotoID,
		CaseID:           create.CaseID,
		EntityType:       models.EntityOther,
		ProcessingStatus: models.ProcessingPending,
	}
	if create.EntityHint != "" {
		fp.EntityType = create.EntityHint
	}
	if err := r.db.WithContext(ctx).Create(fp).Error; err != nil {
		return nil, fmt.Errorf("failed to create pending fingerprint: %w", err)
	}
	return fp, nil
}

// fingerprintColumns are the extractor-owned columns written on completion.
// Listed explicitly so zero values (empty OCR, no labels) are persisted too.
var fingerprintColumns = []string{
	"case_id", "entity_type", "entity_confidence",
	"perceptual_hash", "average_hash", "difference_hash",
	"color_fingerprint", "ocr_text", "detected_labels",
	"embedding", "embedding_hash",
	"quality_score", "quality_tier", "human_readable_id",
	"processing_status", "processing_error",
}

// ReplaceForPhoto writes the completed fingerprint over the pending row.
// Idempotent per photo: the worker owns the row it created, so this is a
// plain full-column update keyed by ID.
func (r *FingerprintRepositoryImpl) ReplaceForPhoto(ctx context.Context, fp *models.VisualFingerprint) error {
	result := r.db.WithContext(ctx).
		Model(&models.VisualFingerprint{ID: fp.ID}).
		Select(fingerprintColumns).
		Updates(fp)
	if result.Error != nil {
		return fmt.Errorf("failed to replace fingerprint: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("fingerprint not found: %s", fp.ID)
	}
	return nil
}

// MarkFailed records a fatal build failure. The row stays retryable:
// re-submitting the photo resets it to pending.
func (r *FingerprintRepositoryImpl) MarkFailed(ctx context.Context, id, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&models.VisualFingerprint{ID: id}).
		Updates(map[string]interface{}{
			"processing_status": models.ProcessingFailed,
			"processing_error":  reason,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark fingerprint failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("fingerprint not found: %s", id)
	}
	return nil
}

// GetByID retrieves a fingerprint by its KSUID
func (r *FingerprintRepositoryImpl) GetByID(ctx context.Context, id string) (*models.VisualFingerprint, error) {
	var fp models.VisualFingerprint
	err := r.db.WithContext(ctx).First(&fp, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("fingerprint not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	return &fp, nil
}

// GetByPhotoID retrieves the (single) fingerprint for a photo
func (r *FingerprintRepositoryImpl) GetByPhotoID(ctx context.Context, photoID string) (*models.VisualFingerprint, error) {
	var fp models.VisualFingerprint
	err := r.db.WithContext(ctx).First(&fp, "photo_id = ?", photoID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("fingerprint not found for photo: %s", photoID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	return &fp, nil
}

// ListCompletedByBuckets feeds the cascade's coarse stage: completed
// fingerprints in the given LSH bucket prefixes, excluding the query's own
// case. Empty buckets means a bounded recency-ordered scan (fallback for
// fingerprints without an embedding hash).
func (r *FingerprintRepositoryImpl) ListCompletedByBuckets(ctx context.Context, buckets []string, excludeCaseID string, limit int) ([]*models.VisualFingerprint, error) {
	q := r.db.WithContext(ctx).
		Where("processing_status = ?", models.ProcessingCompleted).
		Where("case_id <> ?", excludeCaseID)

	if len(buckets) > 0 {
		q = q.Where("LEFT(embedding_hash, 2) IN ?", buckets)
	}

	var fps []*models.VisualFingerprint
	// KSUID is time-ordered: id DESC = newest first
	if err := q.Order("id DESC").Limit(limit).Find(&fps).Error; err != nil {
		return nil, fmt.Errorf("failed to list candidate fingerprints: %w", err)
	}
	return fps, nil
}
