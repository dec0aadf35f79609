package services

import (
	"context"

	"lostmatch/internal/models"
)

/*
LEARNING: GO INTERFACE BEST PRACTICE

"Accept interfaces, return structs" - interfaces are defined where they are
USED, not where implemented. This package consumes the repositories, so the
repository interfaces it needs live here, trimmed to exactly the methods
the services call.
*/

// MatchRepository defines what services need from match storage
type MatchRepository interface {
	GetByID(ctx context.Context, id string) (*models.PhotoMatch, error)
	ListByCase(ctx context.Context, caseID string) ([]*models.PhotoMatch, error)
	ListByUser(ctx context.Context, userID string) ([]*models.PhotoMatch, error)
	MarkViewed(ctx context.Context, id string) error
	ApplyFeedback(ctx context.Context, id string, isSource bool, side models.SideFeedback, status models.MatchStatus) error
}

// FeedbackRepository defines what services need from the feedback log
type FeedbackRepository interface {
	Create(ctx context.Context, feedback *models.MatchFeedback) error
	ListByMatch(ctx context.Context, matchID string) ([]*models.MatchFeedback, error)
	ListForTraining(ctx context.Context, limit int) ([]*models.MatchFeedback, error)
	CountByType(ctx context.Context) (map[models.FeedbackType]int64, error)
}

// WeightRepository defines what services need from weight profile storage
type WeightRepository interface {
	GetActive(ctx context.Context, configName string) (*models.WeightProfile, error)
	GetByID(ctx context.Context, id string) (*models.WeightProfile, error)
	CreateVersion(ctx context.Context, profile *models.WeightProfile) (*models.WeightProfile, error)
	Promote(ctx context.Context, profileID string) (*models.WeightProfile, error)
}

// CaseRepository gives services read-only access to case ownership
type CaseRepository interface {
	GetByID(ctx context.Context, id string) (*models.Case, error)
	OwnerOf(ctx context.Context, caseID string) (string, error)
}
