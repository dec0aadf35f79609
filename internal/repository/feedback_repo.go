package repository

import (
	"context"
	"fmt"

	"lostmatch/internal/models"

	"gorm.io/gorm"
)

// FeedbackRepositoryImpl handles the append-only feedback log
type FeedbackRepositoryImpl struct {
	db *gorm.DB
}

// NewFeedbackRepository creates a new feedback repository
func NewFeedbackRepository(db *gorm.DB) *FeedbackRepositoryImpl {
	return &FeedbackRepositoryImpl{db: db}
}

// Create appends one immutable feedback event. There is no Update method on
// purpose: corrections are new events, the log is the retraining ground
// truth.
func (r *FeedbackRepositoryImpl) Create(ctx context.Context, feedback *models.MatchFeedback) error {
	if err := r.db.WithContext(ctx).Create(feedback).Error; err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}
	return nil
}

// ListByMatch returns all feedback events for a match, oldest first
func (r *FeedbackRepositoryImpl) ListByMatch(ctx context.Context, matchID string) ([]*models.MatchFeedback, error) {
	var feedbacks []*models.MatchFeedback
	err := r.db.WithContext(ctx).
		Where("photo_match_id = ?", matchID).
		Order("id ASC"). // KSUID is time-ordered
		Find(&feedbacks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return feedbacks, nil
}

// ListForTraining loads the labeled population for a tuning run: decisive
// verdicts only (confirmed/rejected), oldest first so deterministic splits
// are stable for a given data set. The returned slice is the tuning run's
// snapshot - retraining never re-reads live data mid-run.
func (r *FeedbackRepositoryImpl) ListForTraining(ctx context.Context, limit int) ([]*models.MatchFeedback, error) {
	var feedbacks []*models.MatchFeedback
	err := r.db.WithContext(ctx).
		Where("feedback_type IN ?", []models.FeedbackType{models.FeedbackConfirmed, models.FeedbackRejected}).
		Order("id ASC").
		Limit(limit).
		Find(&feedbacks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load training feedback: %w", err)
	}
	return feedbacks, nil
}

// CountByType returns verdict counts, handy for the retrain preflight check
func (r *FeedbackRepositoryImpl) CountByType(ctx context.Context) (map[models.FeedbackType]int64, error) {
	type row struct {
		FeedbackType models.FeedbackType
		N            int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.MatchFeedback{}).
		Select("feedback_type, COUNT(*) as n").
		Group("feedback_type").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count feedback: %w", err)
	}

	counts := make(map[models.FeedbackType]int64, len(rows))
	for _, r := range rows {
		counts[r.FeedbackType] = r.N
	}
	return counts, nil
}
