package repository

import (
	"context"
	"errors"
	"fmt"

	"lostmatch/internal/models"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// MatchRepositoryImpl handles PhotoMatch persistence using GORM
type MatchRepositoryImpl struct {
	db *gorm.DB
}

// NewMatchRepository creates a new match repository
func NewMatchRepository(db *gorm.DB) *MatchRepositoryImpl {
	return &MatchRepositoryImpl{db: db}
}

/*
LEARNING: ATOMIC UPSERT-IF-BETTER

Two concurrent searches discovering the same case pair must end up with
exactly one row, holding the higher score. Check-then-act (SELECT, then
INSERT or UPDATE) has a race window; instead the whole decision is pushed
into one statement - the unique index on pair_key turns the loser of the
race into the DO UPDATE branch, and the WHERE clause on the update makes
lower scores a no-op. Review state is never touched here: a recomputed
score must not resurrect an already-rejected match.
*/

// UpsertIfBetter inserts a new match for the canonical case pair, or - when
// the pair already exists - raises its scores only if the new overall score
// is higher. Returns the persisted row either way.
func (r *MatchRepositoryImpl) UpsertIfBetter(ctx context.Context, match *models.PhotoMatch) (*models.PhotoMatch, error) {
	if match.PairKey == "" {
		match.PairKey = models.CanonicalPairKey(match.SourceCaseID, match.TargetCaseID)
	}
	if match.ID == "" {
		match.ID = ksuid.New().String()
	}
	if match.Status == "" {
		match.Status = models.MatchPending
	}

	// Raw SQL since GORM's OnConflict clause can't express the conditional
	// update
	err := r.db.WithContext(ctx).Exec(`
		INSERT INTO photo_matches (
			id, source_photo_id, target_photo_id, source_case_id, target_case_id,
			pair_key, hash_score, color_score, ocr_score, neural_score,
			entity_match, overall_score, match_type, matched_identifiers,
			scored_components, weight_profile_id, status, source_feedback,
			target_feedback, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', NOW(), NOW())
		ON CONFLICT (pair_key) DO UPDATE SET
			source_photo_id     = EXCLUDED.source_photo_id,
			target_photo_id     = EXCLUDED.target_photo_id,
			hash_score          = EXCLUDED.hash_score,
			color_score         = EXCLUDED.color_score,
			ocr_score           = EXCLUDED.ocr_score,
			neural_score        = EXCLUDED.neural_score,
			entity_match        = EXCLUDED.entity_match,
			overall_score       = EXCLUDED.overall_score,
			match_type          = EXCLUDED.match_type,
			matched_identifiers = EXCLUDED.matched_identifiers,
			scored_components   = EXCLUDED.scored_components,
			weight_profile_id   = EXCLUDED.weight_profile_id,
			updated_at          = NOW()
		WHERE EXCLUDED.overall_score > photo_matches.overall_score
	`,
		match.ID, match.SourcePhotoID, match.TargetPhotoID, match.SourceCaseID, match.TargetCaseID,
		match.PairKey, match.HashScore, match.ColorScore, match.OCRScore, match.NeuralScore,
		match.EntityMatch, match.OverallScore, match.MatchType, match.MatchedIdentifiers,
		match.ScoredComponents, match.WeightProfileID, match.Status,
	).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert match: %w", err)
	}

	return r.GetByPairKey(ctx, match.PairKey)
}

// GetByID retrieves a match by its KSUID
func (r *MatchRepositoryImpl) GetByID(ctx context.Context, id string) (*models.PhotoMatch, error) {
	var match models.PhotoMatch
	err := r.db.WithContext(ctx).First(&match, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("match not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return &match, nil
}

// GetByPairKey retrieves the single match for a canonical case pair
func (r *MatchRepositoryImpl) GetByPairKey(ctx context.Context, pairKey string) (*models.PhotoMatch, error) {
	var match models.PhotoMatch
	err := r.db.WithContext(ctx).First(&match, "pair_key = ?", pairKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("match not found for pair: %s", pairKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return &match, nil
}

// ListByCase returns all matches involving a case, best score first
func (r *MatchRepositoryImpl) ListByCase(ctx context.Context, caseID string) ([]*models.PhotoMatch, error) {
	var matches []*models.PhotoMatch
	err := r.db.WithContext(ctx).
		Where("source_case_id = ? OR target_case_id = ?", caseID, caseID).
		Order("overall_score DESC").
		Find(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for case: %w", err)
	}
	return matches, nil
}

// ListByUser returns matches involving any case owned by the user. Case
// ownership lives in the main application's cases table; the engine only
// reads it.
func (r *MatchRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]*models.PhotoMatch, error) {
	var matches []*models.PhotoMatch
	err := r.db.WithContext(ctx).
		Where(`source_case_id IN (SELECT id FROM cases WHERE owner_id = ? AND deleted_at IS NULL)
		    OR target_case_id IN (SELECT id FROM cases WHERE owner_id = ? AND deleted_at IS NULL)`,
			userID, userID).
		Order("overall_score DESC").
		Find(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for user: %w", err)
	}
	return matches, nil
}

// MarkViewed flips pending -> viewed on first read by an involved case
// owner. Idempotent: the status guard makes repeat reads a no-op, and
// decided matches are never demoted back to viewed.
func (r *MatchRepositoryImpl) MarkViewed(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).
		Model(&models.PhotoMatch{}).
		Where("id = ? AND status = ?", id, models.MatchPending).
		Updates(map[string]interface{}{
			"status":    models.MatchViewed,
			"viewed_at": gorm.Expr("NOW()"),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark match viewed: %w", err)
	}
	return nil
}

// ApplyFeedback records a side's verdict and the recomputed aggregate
// status on the match row
func (r *MatchRepositoryImpl) ApplyFeedback(ctx context.Context, id string, isSource bool, side models.SideFeedback, status models.MatchStatus) error {
	column := "target_feedback"
	if isSource {
		column = "source_feedback"
	}

	result := r.db.WithContext(ctx).
		Model(&models.PhotoMatch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			column:   side,
			"status": status,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to apply feedback: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("match not found: %s", id)
	}
	return nil
}
