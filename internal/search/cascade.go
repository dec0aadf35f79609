package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"lostmatch/internal/fingerprint"
	"lostmatch/internal/middleware"
	"lostmatch/internal/models"
	"lostmatch/internal/scoring"

	"go.opentelemetry.io/otel/attribute"
)

// ErrQueryNotReady is returned when the query fingerprint is not in a
// searchable state (pending or failed processing)
var ErrQueryNotReady = errors.New("query fingerprint is not completed")

/*
LEARNING: CASCADE SEARCH

Scoring every stored fingerprint against the query would be O(N) sidecar-
grade work per upload. The cascade narrows the population with progressively
more expensive filters:

  1. Coarse LSH bucket (pushed into SQL via the embedding_hash prefix index)
  2. Entity gate (in memory, so the ambiguity semantics live in one place)
  3. Full pairwise scoring only on the survivors
  4. Threshold, rank, truncate

Bucket-boundary trade-off: two near-identical embeddings can hash one bit
apart and land in different buckets. When fewer than CascadeMinCandidates
survive the gate, the engine expands to all prefixes within Hamming
distance 1 of the query's 8-bit prefix (8 neighbor buckets). That recovers
boundary cases at ~9x the bucket scan cost in the worst case, and is a
recall/latency tuning knob, not a hard completeness guarantee: a candidate
2+ bits away from a sparse query bucket can still be missed.
*/

// Config carries the cascade tuning knobs (from internal/config)
type Config struct {
	MinCandidates     int // expand buckets when fewer than this survive the gate
	MaxResults        int // default result cap
	EntityFloor       float64
	FallbackScanLimit int // bound for bucketless queries (no embedding hash)
}

// Engine runs cascade searches and persists qualifying matches
type Engine struct {
	candidates CandidateStore
	matches    MatchWriter
	scorer     *scoring.Scorer
	profiles   *scoring.Resolver
	notifier   Notifier
	cfg        Config
}

// NewEngine creates a cascade engine.
// Returns concrete type - "Accept interfaces, return structs".
func NewEngine(
	candidates CandidateStore,
	matches MatchWriter,
	scorer *scoring.Scorer,
	profiles *scoring.Resolver,
	notifier Notifier,
	cfg Config,
) *Engine {
	if cfg.FallbackScanLimit == 0 {
		cfg.FallbackScanLimit = 2000
	}
	return &Engine{
		candidates: candidates,
		matches:    matches,
		scorer:     scorer,
		profiles:   profiles,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// Search narrows the candidate population for a query fingerprint, scores
// the shortlist, persists pairs clearing the minimum threshold and returns
// the ranked results. Read-only over the fingerprint store; safe for any
// number of concurrent callers.
func (e *Engine) Search(ctx context.Context, query *models.VisualFingerprint, maxResults int) (*models.SearchOutcome, error) {
	if query == nil {
		return nil, fmt.Errorf("query fingerprint is required")
	}
	if !query.IsCompleted() {
		return nil, fmt.Errorf("%w: fingerprint %s is %s", ErrQueryNotReady, query.ID, query.ProcessingStatus)
	}
	if maxResults <= 0 || maxResults > e.cfg.MaxResults {
		maxResults = e.cfg.MaxResults
	}

	ctx, span := middleware.StartSpan(ctx, "Search.Cascade",
		attribute.String("fingerprint_id", query.ID),
		attribute.String("case_id", query.CaseID),
		attribute.Int("max_results", maxResults),
	)
	defer span.End()

	outcome := &models.SearchOutcome{Status: "ok"}

	// Stage 1: coarse LSH bucket, expanded to Hamming-1 neighbors when thin
	candidates, err := e.gatherCandidates(ctx, query, outcome)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	if outcome.Scanned == 0 {
		outcome.Status = "no_candidates"
		outcome.Results = []models.MatchResult{}
		return outcome, nil
	}

	// Stage 3: full pairwise scoring on the shortlist
	profile, err := e.profiles.ResolveForEntity(ctx, query.EntityType)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		return nil, err
	}
	thresholds := e.profiles.EffectiveThresholds(profile)

	type scored struct {
		fp *models.VisualFingerprint
		cs *scoring.ComponentScores
	}
	var passing []scored

	for _, cand := range candidates {
		cs, err := e.scorer.Score(query, cand, profile)
		if err != nil {
			// Should not happen for completed candidates; skip, never fail
			// the whole search over one bad row.
			log.Printf("⚠️  Skipping candidate %s: %v", cand.ID, err)
			continue
		}
		outcome.Shortlisted++

		if cs.Overall >= thresholds.MinScore {
			passing = append(passing, scored{fp: cand, cs: cs})
		}
	}

	if len(passing) == 0 {
		outcome.Status = "no_matches_above_threshold"
		outcome.Results = []models.MatchResult{}
		return outcome, nil
	}

	// Stage 4: rank descending, tie-break newer candidate first
	sort.Slice(passing, func(i, j int) bool {
		if passing[i].cs.Overall != passing[j].cs.Overall {
			return passing[i].cs.Overall > passing[j].cs.Overall
		}
		return passing[i].fp.CreatedAt.After(passing[j].fp.CreatedAt)
	})
	if len(passing) > maxResults {
		passing = passing[:maxResults]
	}

	outcome.Results = make([]models.MatchResult, 0, len(passing))
	for _, p := range passing {
		matchType := models.TypeForScore(p.cs.Overall, thresholds.HighConfidence, thresholds.Probable)

		match := &models.PhotoMatch{
			SourcePhotoID:      query.PhotoID,
			TargetPhotoID:      p.fp.PhotoID,
			SourceCaseID:       query.CaseID,
			TargetCaseID:       p.fp.CaseID,
			PairKey:            models.CanonicalPairKey(query.CaseID, p.fp.CaseID),
			HashScore:          p.cs.Hash,
			ColorScore:         p.cs.Color,
			OCRScore:           p.cs.OCR,
			NeuralScore:        p.cs.Neural,
			EntityMatch:        p.cs.Entity,
			OverallScore:       p.cs.Overall,
			MatchType:          matchType,
			MatchedIdentifiers: p.cs.Reasons,
			ScoredComponents:   p.cs.Snapshot().AvailableComponents,
			WeightProfileID:    profile.ID,
		}

		persisted, err := e.matches.UpsertIfBetter(ctx, match)
		if err != nil {
			err = fmt.Errorf("failed to persist match for pair %s: %w", match.PairKey, err)
			middleware.AddSpanError(ctx, err)
			return nil, err
		}
		if e.notifier != nil {
			e.notifier.MatchFound(persisted.SourceCaseID, persisted)
			e.notifier.MatchFound(persisted.TargetCaseID, persisted)
		}

		outcome.Results = append(outcome.Results, models.MatchResult{
			CaseID:       p.fp.CaseID,
			PhotoID:      p.fp.PhotoID,
			OverallScore: p.cs.Overall,
			MatchType:    matchType,
			Reasons:      p.cs.Reasons,
		})
	}

	middleware.AddSpanEvent(ctx, "cascade_completed",
		attribute.Int("scanned", outcome.Scanned),
		attribute.Int("entity_passed", outcome.EntityPassed),
		attribute.Int("shortlisted", outcome.Shortlisted),
		attribute.Int("results", len(outcome.Results)),
	)

	return outcome, nil
}

// gatherCandidates runs the bucket stage plus the entity gate, expanding to
// neighbor buckets when the gated set is too thin
func (e *Engine) gatherCandidates(ctx context.Context, query *models.VisualFingerprint, outcome *models.SearchOutcome) ([]*models.VisualFingerprint, error) {
	prefix := fingerprint.BucketPrefix(query.EmbeddingHash)

	var buckets []string
	limit := e.cfg.FallbackScanLimit
	if prefix != "" {
		buckets = []string{prefix}
	}

	fetched, err := e.candidates.ListCompletedByBuckets(ctx, buckets, query.CaseID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	outcome.Scanned = len(fetched)

	gated := e.entityGate(query, fetched)

	// Stage 2 expansion: thin bucket, pull in Hamming-1 neighbors
	if prefix != "" && len(gated) < e.cfg.MinCandidates {
		neighbors := fingerprint.NeighborPrefixes(prefix)
		more, err := e.candidates.ListCompletedByBuckets(ctx, neighbors, query.CaseID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to expand candidate buckets: %w", err)
		}
		outcome.Scanned += len(more)
		gated = append(gated, e.entityGate(query, more)...)
	}

	outcome.EntityPassed = len(gated)
	return gated, nil
}

// entityGate keeps candidates of the query's entity type. Ambiguous
// classifications on either side pass through rather than being dropped -
// a low-confidence "other" must not hide a true match behind a bad label.
func (e *Engine) entityGate(query *models.VisualFingerprint, candidates []*models.VisualFingerprint) []*models.VisualFingerprint {
	queryAmbiguous := query.EntityConfidence < e.cfg.EntityFloor

	kept := candidates[:0:0]
	for _, c := range candidates {
		switch {
		case queryAmbiguous:
			kept = append(kept, c)
		case c.EntityConfidence < e.cfg.EntityFloor:
			kept = append(kept, c)
		case c.EntityType == query.EntityType:
			kept = append(kept, c)
		}
	}
	return kept
}
