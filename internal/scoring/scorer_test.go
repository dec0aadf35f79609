package scoring

import (
	"testing"

	"lostmatch/internal/models"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func testProfile(weights map[string]float64) *models.WeightProfile {
	return &models.WeightProfile{
		ID:         "prof-test",
		ConfigName: models.GlobalProfileName,
		Version:    1,
		IsActive:   true,
		ConfigData: datatypes.NewJSONType(models.WeightConfig{Weights: weights}),
	}
}

func defaultProfile() *models.WeightProfile {
	return testProfile(models.DefaultWeightConfig().Weights)
}

// completedFingerprint builds a fully-signaled fingerprint for scoring tests
func completedFingerprint(id string, embedding []float32) *models.VisualFingerprint {
	return &models.VisualFingerprint{
		ID:               id,
		PhotoID:          "photo-" + id,
		CaseID:           "case-" + id,
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
			ColorCode: "NVY-BLK",
		}),
		OCRText:          "TUMI alpha 3",
		DetectedLabels:   []string{"bag", "zipper"},
		Embedding:        pgvector.NewVector(embedding),
		EmbeddingHash:    "7f3a",
		ProcessingStatus: models.ProcessingCompleted,
	}
}

func TestScorer_SelfIdentity(t *testing.T) {
	s := NewScorer(0.5)
	fp := completedFingerprint("a", []float32{0.5, -0.2, 0.8, 0.1})

	cs, err := s.Score(fp, fp, defaultProfile())
	require.NoError(t, err)

	assert.InDelta(t, 100, cs.Overall, 0.01, "a fingerprint against itself is a perfect match")
	assert.True(t, cs.HashAvailable)
	assert.True(t, cs.ColorAvailable)
	assert.True(t, cs.OCRAvailable)
	assert.True(t, cs.NeuralAvailable)
	assert.True(t, cs.EntityAvailable)
	assert.True(t, cs.Entity)
}

func TestScorer_SelfIdentityWithPartialColorCoverage(t *testing.T) {
	s := NewScorer(0.5)
	fp := completedFingerprint("a", []float32{0.5, -0.2, 0.8, 0.1})
	fp.ColorFingerprint = datatypes.NewJSONType(models.ColorFingerprint{
		Colors: []models.DominantColor{
			{Name: "navy blue", Code: "NVY", Proportion: 0.5},
			{Name: "black", Code: "BLK", Proportion: 0.3},
		},
		ColorCode: "NVY-BLK",
	})

	cs, err := s.Score(fp, fp, defaultProfile())
	require.NoError(t, err)

	assert.InDelta(t, 100, cs.Color, 1e-9,
		"dominant colors covering 80% of pixels must still intersect perfectly with themselves")
	assert.InDelta(t, 100, cs.Overall, 0.01)
}

func TestScorer_Symmetric(t *testing.T) {
	s := NewScorer(0.5)
	a := completedFingerprint("a", []float32{0.5, -0.2, 0.8, 0.1})
	b := completedFingerprint("b", []float32{0.4, -0.1, 0.7, 0.3})
	b.OCRText = "TUMI voyageur"
	b.PerceptualHash = "a1b2c3d4e5f60719"

	csAB, err := s.Score(a, b, defaultProfile())
	require.NoError(t, err)
	csBA, err := s.Score(b, a, defaultProfile())
	require.NoError(t, err)

	assert.Equal(t, csAB.Overall, csBA.Overall)
	assert.Equal(t, csAB.Hash, csBA.Hash)
	assert.Equal(t, csAB.OCR, csBA.OCR)
	assert.Equal(t, csAB.Reasons, csBA.Reasons)
}

func TestScorer_Deterministic(t *testing.T) {
	s := NewScorer(0.5)
	a := completedFingerprint("a", []float32{0.5, -0.2, 0.8, 0.1})
	b := completedFingerprint("b", []float32{0.1, 0.9, -0.3, 0.2})

	first, err := s.Score(a, b, defaultProfile())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Score(a, b, defaultProfile())
		require.NoError(t, err)
		assert.Equal(t, first.Overall, again.Overall)
	}
}

func TestScorer_RefusesIncomplete(t *testing.T) {
	s := NewScorer(0.5)
	done := completedFingerprint("a", []float32{1, 0})
	pending := completedFingerprint("b", []float32{1, 0})
	pending.ProcessingStatus = models.ProcessingPending

	_, err := s.Score(done, pending, defaultProfile())
	assert.ErrorIs(t, err, ErrScoringRefused)

	_, err = s.Score(nil, done, defaultProfile())
	assert.ErrorIs(t, err, ErrScoringRefused)
}

func TestScorer_RenormalizationExcludesAbsentOCR(t *testing.T) {
	s := NewScorer(0.5)
	a := completedFingerprint("a", []float32{0.5, -0.2, 0.8, 0.1})
	b := completedFingerprint("b", []float32{0.5, -0.2, 0.8, 0.1})
	a.OCRText = ""
	b.OCRText = ""

	cs, err := s.Score(a, b, defaultProfile())
	require.NoError(t, err)

	assert.False(t, cs.OCRAvailable)
	assert.InDelta(t, 100, cs.Overall, 0.01,
		"identical pair without text must still score perfect: the OCR weight is renormalized away, not counted as zero")
}

func TestScorer_AmbiguousEntityExcluded(t *testing.T) {
	s := NewScorer(0.5)
	a := completedFingerprint("a", []float32{1, 0, 0, 0})
	b := completedFingerprint("b", []float32{1, 0, 0, 0})
	b.EntityType = models.EntityElectronics // different type...
	b.EntityConfidence = 0.3                // ...but below the floor

	cs, err := s.Score(a, b, defaultProfile())
	require.NoError(t, err)

	assert.False(t, cs.EntityAvailable, "one ambiguous side excludes the entity component")
	assert.False(t, cs.Entity)
	assert.InDelta(t, 100, cs.Overall, 0.01,
		"the mismatched but ambiguous entity must not drag the score down")
}

func TestScorer_EntityMismatchScoresZeroComponent(t *testing.T) {
	s := NewScorer(0.5)
	a := completedFingerprint("a", []float32{1, 0, 0, 0})
	b := completedFingerprint("b", []float32{1, 0, 0, 0})
	b.EntityType = models.EntityElectronics
	b.EntityConfidence = 0.9

	cs, err := s.Score(a, b, defaultProfile())
	require.NoError(t, err)

	assert.True(t, cs.EntityAvailable)
	assert.False(t, cs.Entity)
	// Entity weight is 0.08 of 1.0; everything else is perfect
	assert.InDelta(t, 92, cs.Overall, 0.01)
}

func TestScorer_WeightShiftChangesRanking(t *testing.T) {
	s := NewScorer(0.5)
	query := completedFingerprint("q", []float32{1, 0, 0, 0})

	// Candidate 1: perfect text overlap, weaker embedding
	textTwin := completedFingerprint("text", []float32{0.2, 0.9, 0.1, 0})
	// Candidate 2: perfect embedding, no text overlap
	visualTwin := completedFingerprint("visual", []float32{1, 0, 0, 0})
	visualTwin.OCRText = "unrelated label 99"

	ocrHeavy := testProfile(map[string]float64{
		models.ComponentOCR:    0.70,
		models.ComponentNeural: 0.30,
	})
	neuralHeavy := testProfile(map[string]float64{
		models.ComponentOCR:    0.30,
		models.ComponentNeural: 0.70,
	})

	underOCR1, err := s.Score(query, textTwin, ocrHeavy)
	require.NoError(t, err)
	underOCR2, err := s.Score(query, visualTwin, ocrHeavy)
	require.NoError(t, err)
	assert.Greater(t, underOCR1.Overall, underOCR2.Overall)

	underNeural1, err := s.Score(query, textTwin, neuralHeavy)
	require.NoError(t, err)
	underNeural2, err := s.Score(query, visualTwin, neuralHeavy)
	require.NoError(t, err)
	assert.Greater(t, underNeural2.Overall, underNeural1.Overall)
}

func TestScorer_ReasonsCollectSharedIdentifiers(t *testing.T) {
	s := NewScorer(0.5)
	a := completedFingerprint("a", []float32{1, 0, 0, 0})
	b := completedFingerprint("b", []float32{1, 0, 0, 0})

	cs, err := s.Score(a, b, defaultProfile())
	require.NoError(t, err)

	assert.Contains(t, cs.Reasons, "ocr:tumi")
	assert.Contains(t, cs.Reasons, "color:NVY")
	assert.Contains(t, cs.Reasons, "label:bag")
}

func TestComponentScores_Snapshot(t *testing.T) {
	cs := &ComponentScores{
		Hash: 90, Neural: 80, Overall: 85,
		HashAvailable:   true,
		NeuralAvailable: true,
	}

	snap := cs.Snapshot()
	assert.Equal(t, []string{models.ComponentHash, models.ComponentNeural}, snap.AvailableComponents)
	assert.Equal(t, 85.0, snap.OverallScore)
}
