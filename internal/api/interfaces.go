package api

import (
	"context"

	"lostmatch/internal/models"
	"lostmatch/internal/services"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

This package (api/handlers) is the CONSUMER of the services, so the service
interfaces live HERE.

The handler doesn't care how fingerprints get built or how matches get
found - it only cares about the methods it needs to call. Keeping the
interfaces in the consumer also makes handler tests trivial: a fake builder
is a struct with two methods.
*/

// FingerprintBuilder defines what handlers need from the build pipeline
type FingerprintBuilder interface {
	Submit(ctx context.Context, create *models.FingerprintCreate) (*models.VisualFingerprint, error)
	QueueLength() int
}

// SearchEngine defines what handlers need from the match cascade
type SearchEngine interface {
	Search(ctx context.Context, query *models.VisualFingerprint, maxResults int) (*models.SearchOutcome, error)
}

// FeedbackService defines what handlers need for match review
type FeedbackService interface {
	GetForUser(ctx context.Context, matchID, userID string) (*models.PhotoMatch, error)
	Submit(ctx context.Context, matchID string, create *models.FeedbackCreate) (*models.PhotoMatch, error)
	ListForMatch(ctx context.Context, matchID string) ([]*models.MatchFeedback, error)
}

// TuningService defines what handlers need from weight tuning
type TuningService interface {
	StartRetrain(ctx context.Context, configName string) (*services.TuningRun, error)
	GetRun(id string) (*services.TuningRun, bool)
	Promote(ctx context.Context, profileID string) (*models.WeightProfile, error)
}
