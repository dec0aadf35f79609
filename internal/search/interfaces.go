package search

import (
	"context"

	"lostmatch/internal/models"
)

// Consumer-driven interfaces: the cascade declares what it needs from the
// fingerprint store and the match store, nothing more.

// CandidateStore reads completed fingerprints for the cascade stages
type CandidateStore interface {
	// ListCompletedByBuckets returns completed fingerprints whose
	// embedding_hash starts with one of the given bucket prefixes,
	// excluding the query's own case. A nil/empty buckets slice means no
	// bucket filter (bounded fallback scan, most recent first).
	ListCompletedByBuckets(ctx context.Context, buckets []string, excludeCaseID string, limit int) ([]*models.VisualFingerprint, error)
}

// MatchWriter persists qualifying pairs with the dedup invariant: one row
// per canonical case pair, scores only ever improved, never duplicated
type MatchWriter interface {
	UpsertIfBetter(ctx context.Context, match *models.PhotoMatch) (*models.PhotoMatch, error)
}

// Notifier pushes match-found events to subscribed case channels
type Notifier interface {
	MatchFound(caseID string, match *models.PhotoMatch)
}
