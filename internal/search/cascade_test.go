package search

import (
	"context"
	"sync"
	"testing"
	"time"

	"lostmatch/internal/models"
	"lostmatch/internal/scoring"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// fakeCandidateStore serves fingerprints from memory with the same bucket
// semantics as the SQL implementation
type fakeCandidateStore struct {
	fingerprints []*models.VisualFingerprint
	calls        [][]string // bucket slices per call
}

func (s *fakeCandidateStore) ListCompletedByBuckets(ctx context.Context, buckets []string, excludeCaseID string, limit int) ([]*models.VisualFingerprint, error) {
	s.calls = append(s.calls, buckets)

	var out []*models.VisualFingerprint
	for _, fp := range s.fingerprints {
		if fp.CaseID == excludeCaseID || !fp.IsCompleted() {
			continue
		}
		if len(buckets) > 0 {
			hit := false
			for _, b := range buckets {
				if len(fp.EmbeddingHash) >= 2 && fp.EmbeddingHash[:2] == b {
					hit = true
					break
				}
			}
			if !hit {
				continue
			}
		}
		out = append(out, fp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakeMatchWriter keeps the best score per pair key, like the SQL upsert
type fakeMatchWriter struct {
	mu      sync.Mutex
	matches map[string]*models.PhotoMatch
}

func newFakeMatchWriter() *fakeMatchWriter {
	return &fakeMatchWriter{matches: make(map[string]*models.PhotoMatch)}
}

func (w *fakeMatchWriter) UpsertIfBetter(ctx context.Context, match *models.PhotoMatch) (*models.PhotoMatch, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	existing, ok := w.matches[match.PairKey]
	if ok && existing.OverallScore >= match.OverallScore {
		return existing, nil
	}
	if ok {
		// Score columns improve, review state survives
		match.Status = existing.Status
		match.ID = existing.ID
	} else {
		match.ID = "match-" + match.PairKey
		match.Status = models.MatchPending
	}
	w.matches[match.PairKey] = match
	return match, nil
}

type fakeSearchNotifier struct {
	mu     sync.Mutex
	events []string // caseID values
}

func (n *fakeSearchNotifier) MatchFound(caseID string, match *models.PhotoMatch) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, caseID)
}

type staticProfileStore struct{ profile *models.WeightProfile }

func (s *staticProfileStore) GetActive(ctx context.Context, configName string) (*models.WeightProfile, error) {
	if configName == models.GlobalProfileName {
		return s.profile, nil
	}
	return nil, nil
}

func globalProfile() *models.WeightProfile {
	return &models.WeightProfile{
		ID:         "prof-global",
		ConfigName: models.GlobalProfileName,
		Version:    1,
		IsActive:   true,
		ConfigData: datatypes.NewJSONType(models.WeightConfig{
			Weights: models.DefaultWeightConfig().Weights,
		}),
	}
}

// testFingerprint builds a completed candidate in the "7f" bucket
func testFingerprint(id, caseID string, embedding []float32) *models.VisualFingerprint {
	return &models.VisualFingerprint{
		ID:               id,
		PhotoID:          "photo-" + id,
		CaseID:           caseID,
		EntityType:       models.EntityBag,
		EntityConfidence: 0.9,
		PerceptualHash:   "a1b2c3d4e5f60718",
		AverageHash:      "00ff00ff00ff00ff",
		DifferenceHash:   "123456789abcdef0",
		ColorFingerprint: datatypes.NewJSONType(models.ColorFingerprint{
			Colors: []models.DominantColor{
				{Name: "navy blue", Code: "NVY", Proportion: 0.6},
				{Name: "black", Code: "BLK", Proportion: 0.4},
			},
		}),
		OCRText:          "TUMI alpha",
		Embedding:        pgvector.NewVector(embedding),
		EmbeddingHash:    "7f3a",
		ProcessingStatus: models.ProcessingCompleted,
		CreatedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testEngine(store *fakeCandidateStore, writer *fakeMatchWriter, notifier *fakeSearchNotifier) *Engine {
	resolver := scoring.NewResolver(
		&staticProfileStore{profile: globalProfile()},
		scoring.Thresholds{MinScore: 55, Probable: 70, HighConfidence: 85},
	)
	var n Notifier
	if notifier != nil {
		n = notifier
	}
	return NewEngine(store, writer, scoring.NewScorer(0.5), resolver, n, Config{
		MinCandidates: 3,
		MaxResults:    20,
		EntityFloor:   0.5,
	})
}

func testEngineWithMinScore(store *fakeCandidateStore, writer *fakeMatchWriter, minScore float64) *Engine {
	resolver := scoring.NewResolver(
		&staticProfileStore{profile: globalProfile()},
		scoring.Thresholds{MinScore: minScore, Probable: 70, HighConfidence: 85},
	)
	return NewEngine(store, writer, scoring.NewScorer(0.5), resolver, nil, Config{
		MinCandidates: 3,
		MaxResults:    20,
		EntityFloor:   0.5,
	})
}

// Two photos of the same blue wallet: strong embedding similarity plus
// overlapping printed text land in the top confidence tier.
func TestSearch_SameBlueWalletIsHighConfidence(t *testing.T) {
	lost := testFingerprint("lost", "case-lost", []float32{1, 0})
	lost.OCRText = "VISA debit card"

	// cos({1,0}, {0.92,0.392}) ≈ 0.92
	found := testFingerprint("found", "case-found", []float32{0.92, 0.392})
	found.OCRText = "VISA card holder"

	store := &fakeCandidateStore{fingerprints: []*models.VisualFingerprint{found}}
	writer := newFakeMatchWriter()
	e := testEngine(store, writer, nil)

	outcome, err := e.Search(context.Background(), lost, 10)
	require.NoError(t, err)

	require.Len(t, outcome.Results, 1)
	assert.Equal(t, models.MatchHighConfidence, outcome.Results[0].MatchType)
	assert.GreaterOrEqual(t, outcome.Results[0].OverallScore, 85.0)
	assert.Contains(t, outcome.Results[0].Reasons, "ocr:visa")

	persisted, ok := writer.matches[models.CanonicalPairKey("case-lost", "case-found")]
	require.True(t, ok)
	assert.Equal(t, models.MatchHighConfidence, persisted.MatchType)
}

// Two different brown wallets: same category and some shared brown, but a
// weak embedding, no text on either side and unrelated hashes must stay
// below the floor and leave no row behind.
func TestSearch_DifferentBrownWalletsNotPersisted(t *testing.T) {
	lost := testFingerprint("lost", "case-lost", []float32{1, 0})
	lost.OCRText = ""
	lost.PerceptualHash = "0000000000000000"
	lost.AverageHash = "0000000000000000"
	lost.DifferenceHash = "0000000000000000"
	lost.ColorFingerprint = datatypes.NewJSONType(models.ColorFingerprint{
		Colors: []models.DominantColor{
			{Name: "brown", Code: "BRN", Proportion: 0.6},
			{Name: "tan", Code: "TAN", Proportion: 0.4},
		},
	})

	// cos({1,0}, {0.4,0.9165}) ≈ 0.4
	found := testFingerprint("found", "case-found", []float32{0.4, 0.9165})
	found.OCRText = ""
	found.PerceptualHash = "ffffffffffffffff"
	found.AverageHash = "ffffffffffffffff"
	found.DifferenceHash = "ffffffffffffffff"
	found.ColorFingerprint = datatypes.NewJSONType(models.ColorFingerprint{
		Colors: []models.DominantColor{
			{Name: "brown", Code: "BRN", Proportion: 0.3},
			{Name: "black", Code: "BLK", Proportion: 0.7},
		},
	})

	store := &fakeCandidateStore{fingerprints: []*models.VisualFingerprint{found}}
	writer := newFakeMatchWriter()
	e := testEngine(store, writer, nil)

	outcome, err := e.Search(context.Background(), lost, 10)
	require.NoError(t, err)

	assert.Equal(t, "no_matches_above_threshold", outcome.Status)
	assert.Empty(t, outcome.Results)
	assert.Empty(t, writer.matches, "a sub-threshold pair leaves no PhotoMatch behind")
}

func TestSearch_RaisingMinScoreNeverAddsResults(t *testing.T) {
	// Identical strong signals except the embedding, giving three distinct
	// overall scores (perfect, orthogonal, opposite neural similarity)
	population := []*models.VisualFingerprint{
		testFingerprint("a", "case-a", []float32{1, 0}),
		testFingerprint("b", "case-b", []float32{0, 1}),
		testFingerprint("c", "case-c", []float32{-1, 0}),
	}
	query := testFingerprint("q", "case-q", []float32{1, 0})

	prev := len(population) + 1
	counts := make([]int, 0, 4)
	for _, minScore := range []float64{50, 70, 85, 95} {
		store := &fakeCandidateStore{fingerprints: population}
		e := testEngineWithMinScore(store, newFakeMatchWriter(), minScore)

		outcome, err := e.Search(context.Background(), query, 10)
		require.NoError(t, err)

		assert.LessOrEqual(t, len(outcome.Results), prev,
			"raising the floor to %.0f must not add results", minScore)
		prev = len(outcome.Results)
		counts = append(counts, len(outcome.Results))
	}
	assert.Equal(t, []int{3, 2, 1, 1}, counts)
}

func TestSearch_RefusesIncompleteQuery(t *testing.T) {
	e := testEngine(&fakeCandidateStore{}, newFakeMatchWriter(), nil)

	query := testFingerprint("q", "case-q", []float32{1, 0})
	query.ProcessingStatus = models.ProcessingPending

	_, err := e.Search(context.Background(), query, 10)
	assert.ErrorIs(t, err, ErrQueryNotReady)
}

func TestSearch_EmptyPopulationIsAStatus(t *testing.T) {
	e := testEngine(&fakeCandidateStore{}, newFakeMatchWriter(), nil)

	outcome, err := e.Search(context.Background(), testFingerprint("q", "case-q", []float32{1, 0}), 10)
	require.NoError(t, err, "an empty index is not an error")
	assert.Equal(t, "no_candidates", outcome.Status)
	assert.Empty(t, outcome.Results)
}

func TestSearch_BelowThresholdIsAStatus(t *testing.T) {
	// Candidate shares nothing: opposite embedding, different colors/text/hashes
	stranger := testFingerprint("s", "case-s", []float32{-1, 0})
	stranger.PerceptualHash = "0000000000000000"
	stranger.AverageHash = "ffffffffffffffff"
	stranger.DifferenceHash = "0f0f0f0f0f0f0f0f"
	stranger.OCRText = "completely different text"
	stranger.ColorFingerprint = datatypes.NewJSONType(models.ColorFingerprint{
		Colors: []models.DominantColor{{Name: "red", Code: "RED", Proportion: 1}},
	})

	store := &fakeCandidateStore{fingerprints: []*models.VisualFingerprint{stranger}}
	writer := newFakeMatchWriter()
	e := testEngine(store, writer, nil)

	outcome, err := e.Search(context.Background(), testFingerprint("q", "case-q", []float32{1, 0}), 10)
	require.NoError(t, err)
	assert.Equal(t, "no_matches_above_threshold", outcome.Status)
	assert.Empty(t, outcome.Results)
	assert.Empty(t, writer.matches, "nothing below threshold is ever persisted")
}

func TestSearch_FindsAndPersistsMatch(t *testing.T) {
	twin := testFingerprint("t", "case-t", []float32{1, 0})
	store := &fakeCandidateStore{fingerprints: []*models.VisualFingerprint{twin}}
	writer := newFakeMatchWriter()
	notifier := &fakeSearchNotifier{}
	e := testEngine(store, writer, notifier)

	query := testFingerprint("q", "case-q", []float32{1, 0})
	outcome, err := e.Search(context.Background(), query, 10)
	require.NoError(t, err)

	assert.Equal(t, "ok", outcome.Status)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, "case-t", outcome.Results[0].CaseID)
	assert.Equal(t, models.MatchHighConfidence, outcome.Results[0].MatchType)
	assert.NotEmpty(t, outcome.Results[0].Reasons)

	persisted, ok := writer.matches[models.CanonicalPairKey("case-q", "case-t")]
	require.True(t, ok)
	assert.Equal(t, "prof-global", persisted.WeightProfileID)
	assert.NotEmpty(t, persisted.ScoredComponents)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.ElementsMatch(t, []string{"case-q", "case-t"}, notifier.events,
		"both involved cases get notified")
}

func TestSearch_EntityGate(t *testing.T) {
	sameType := testFingerprint("same", "case-same", []float32{1, 0})
	otherType := testFingerprint("other", "case-other", []float32{1, 0})
	otherType.EntityType = models.EntityElectronics
	ambiguous := testFingerprint("ambi", "case-ambi", []float32{1, 0})
	ambiguous.EntityType = models.EntityElectronics
	ambiguous.EntityConfidence = 0.2

	store := &fakeCandidateStore{fingerprints: []*models.VisualFingerprint{sameType, otherType, ambiguous}}
	e := testEngine(store, newFakeMatchWriter(), nil)

	outcome, err := e.Search(context.Background(), testFingerprint("q", "case-q", []float32{1, 0}), 10)
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.EntityPassed,
		"the confident mismatch is gated out, the ambiguous one passes")
	var caseIDs []string
	for _, r := range outcome.Results {
		caseIDs = append(caseIDs, r.CaseID)
	}
	assert.NotContains(t, caseIDs, "case-other")
}

func TestSearch_AmbiguousQueryPassesEverything(t *testing.T) {
	otherType := testFingerprint("other", "case-other", []float32{1, 0})
	otherType.EntityType = models.EntityElectronics

	store := &fakeCandidateStore{fingerprints: []*models.VisualFingerprint{otherType}}
	e := testEngine(store, newFakeMatchWriter(), nil)

	query := testFingerprint("q", "case-q", []float32{1, 0})
	query.EntityConfidence = 0.1

	outcome, err := e.Search(context.Background(), query, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.EntityPassed,
		"an ambiguous query must not gate candidates on its unreliable type")
}

func TestSearch_ExpandsThinBuckets(t *testing.T) {
	// One candidate in the home bucket (7f), one a single bit away (7e);
	// MinCandidates=3 forces the neighbor expansion
	near := testFingerprint("near", "case-near", []float32{1, 0})
	boundary := testFingerprint("boundary", "case-bound", []float32{1, 0})
	boundary.EmbeddingHash = "7e11"

	store := &fakeCandidateStore{fingerprints: []*models.VisualFingerprint{near, boundary}}
	e := testEngine(store, newFakeMatchWriter(), nil)

	outcome, err := e.Search(context.Background(), testFingerprint("q", "case-q", []float32{1, 0}), 10)
	require.NoError(t, err)

	require.Len(t, store.calls, 2, "thin home bucket triggers one expansion query")
	assert.Equal(t, []string{"7f"}, store.calls[0])
	assert.Contains(t, store.calls[1], "7e")
	assert.Equal(t, 2, outcome.EntityPassed)
}

func TestSearch_RanksByScoreThenRecency(t *testing.T) {
	strong := testFingerprint("strong", "case-strong", []float32{1, 0})

	// Two identical weaker candidates differing only in age
	older := testFingerprint("older", "case-older", []float32{0.9, 0.4})
	older.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := testFingerprint("newer", "case-newer", []float32{0.9, 0.4})
	newer.CreatedAt = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	store := &fakeCandidateStore{fingerprints: []*models.VisualFingerprint{older, strong, newer}}
	e := testEngine(store, newFakeMatchWriter(), nil)

	outcome, err := e.Search(context.Background(), testFingerprint("q", "case-q", []float32{1, 0}), 10)
	require.NoError(t, err)
	require.Len(t, outcome.Results, 3)

	assert.Equal(t, "case-strong", outcome.Results[0].CaseID)
	assert.Equal(t, "case-newer", outcome.Results[1].CaseID, "ties break toward the newer candidate")
	assert.Equal(t, "case-older", outcome.Results[2].CaseID)
}

func TestSearch_MaxResultsTruncates(t *testing.T) {
	var fps []*models.VisualFingerprint
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		fps = append(fps, testFingerprint(id, "case-"+id, []float32{1, 0}))
	}
	store := &fakeCandidateStore{fingerprints: fps}
	writer := newFakeMatchWriter()
	e := testEngine(store, writer, nil)

	outcome, err := e.Search(context.Background(), testFingerprint("q", "case-q", []float32{1, 0}), 2)
	require.NoError(t, err)

	assert.Len(t, outcome.Results, 2)
	assert.Len(t, writer.matches, 2, "only surfaced results are persisted")
}

func TestSearch_UpsertKeepsBetterScore(t *testing.T) {
	twin := testFingerprint("t", "case-t", []float32{1, 0})
	store := &fakeCandidateStore{fingerprints: []*models.VisualFingerprint{twin}}
	writer := newFakeMatchWriter()
	e := testEngine(store, writer, nil)

	query := testFingerprint("q", "case-q", []float32{1, 0})
	_, err := e.Search(context.Background(), query, 10)
	require.NoError(t, err)

	pairKey := models.CanonicalPairKey("case-q", "case-t")
	first := writer.matches[pairKey]

	// Second run of the same search: same score, the row is not replaced
	_, err = e.Search(context.Background(), query, 10)
	require.NoError(t, err)
	assert.Equal(t, first, writer.matches[pairKey])
	assert.Len(t, writer.matches, 1, "one row per case pair, ever")
}
