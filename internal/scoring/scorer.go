package scoring

import (
	"errors"
	"fmt"
	"math"

	"lostmatch/internal/models"
)

// ErrScoringRefused is returned when either fingerprint is not in a
// scoreable state. The caller must never receive a fabricated 0 for an
// incomplete fingerprint.
var ErrScoringRefused = errors.New("scoring refused: fingerprint not completed")

// ComponentScores is the full pairwise result: every component with its
// availability, the renormalized overall, and the structured reasons
// explaining why the pair matched.
type ComponentScores struct {
	Hash   float64
	Color  float64
	OCR    float64
	Neural float64
	Entity bool

	HashAvailable   bool
	ColorAvailable  bool
	OCRAvailable    bool
	NeuralAvailable bool
	EntityAvailable bool // both sides classified above the confidence floor

	Overall float64

	// Matched identifiers: shared OCR tokens, labels and color codes
	Reasons []string
}

// Snapshot converts the result into the frozen form stored on feedback
func (cs *ComponentScores) Snapshot() models.ScoresSnapshot {
	var available []string
	if cs.HashAvailable {
		available = append(available, models.ComponentHash)
	}
	if cs.ColorAvailable {
		available = append(available, models.ComponentColor)
	}
	if cs.OCRAvailable {
		available = append(available, models.ComponentOCR)
	}
	if cs.NeuralAvailable {
		available = append(available, models.ComponentNeural)
	}
	if cs.EntityAvailable {
		available = append(available, models.ComponentEntity)
	}
	return models.ScoresSnapshot{
		HashScore:           cs.Hash,
		ColorScore:          cs.Color,
		OCRScore:            cs.OCR,
		NeuralScore:         cs.Neural,
		EntityMatch:         cs.Entity,
		OverallScore:        cs.Overall,
		AvailableComponents: available,
	}
}

// Scorer computes multi-component similarity between two fingerprints.
// It is pure and deterministic: the same two fingerprints and the same
// weight profile always produce the same result. Weight profiles are always
// passed in explicitly, never read from ambient state, so tests can pin a
// fixed profile.
type Scorer struct {
	entityFloor float64
}

// NewScorer creates a scorer with the configured entity confidence floor
func NewScorer(entityFloor float64) *Scorer {
	return &Scorer{entityFloor: entityFloor}
}

// Score computes component and overall scores for a pair under the given
// weight profile. Refuses (ErrScoringRefused) if either fingerprint is not
// completed. All component scores are symmetric in their arguments.
func (s *Scorer) Score(a, b *models.VisualFingerprint, profile *models.WeightProfile) (*ComponentScores, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: nil fingerprint", ErrScoringRefused)
	}
	if !a.IsCompleted() || !b.IsCompleted() {
		return nil, fmt.Errorf("%w: %s=%s, %s=%s", ErrScoringRefused,
			a.ID, a.ProcessingStatus, b.ID, b.ProcessingStatus)
	}
	if profile == nil {
		return nil, fmt.Errorf("weight profile is required")
	}

	weights, err := profile.ConfigData.Data().Normalized()
	if err != nil {
		return nil, fmt.Errorf("invalid weight profile %s: %w", profile.ID, err)
	}

	cs := &ComponentScores{}

	cs.Hash, cs.HashAvailable = hashScore(a, b)

	var colorShared []string
	cs.Color, cs.ColorAvailable, colorShared = colorScore(a.ColorFingerprint.Data(), b.ColorFingerprint.Data())

	var ocrShared []string
	cs.OCR, cs.OCRAvailable, ocrShared = ocrScore(a.OCRText, b.OCRText)

	cs.Neural, cs.NeuralAvailable = neuralScore(a.Embedding.Slice(), b.Embedding.Slice())

	// Entity participates as a component only when both sides classified
	// confidently; ambiguous classifications are excluded, not penalized.
	cs.EntityAvailable = a.EntityConfidence >= s.entityFloor && b.EntityConfidence >= s.entityFloor
	cs.Entity = cs.EntityAvailable && a.EntityType == b.EntityType

	cs.Overall = s.combine(cs, weights)

	cs.Reasons = append(cs.Reasons, ocrShared...)
	cs.Reasons = append(cs.Reasons, colorShared...)
	cs.Reasons = append(cs.Reasons, sharedLabels(a.DetectedLabels, b.DetectedLabels)...)

	return cs, nil
}

/*
LEARNING: WEIGHT RENORMALIZATION

A pair where neither photo has OCR text must not be punished for a signal
that structurally cannot exist. Instead of scoring absent components as 0,
their weights are removed and the remaining weights rescaled to sum 1.0.
A no-text pair is then scored purely on hash/color/neural - and ranks the
same relative to its peers as it would if OCR had never been a component.
*/
func (s *Scorer) combine(cs *ComponentScores, weights map[string]float64) float64 {
	type contribution struct {
		score     float64
		weight    float64
		available bool
	}

	entityScore := 0.0
	if cs.Entity {
		entityScore = 100
	}

	contributions := []contribution{
		{cs.Hash, weights[models.ComponentHash], cs.HashAvailable},
		{cs.Color, weights[models.ComponentColor], cs.ColorAvailable},
		{cs.OCR, weights[models.ComponentOCR], cs.OCRAvailable},
		{cs.Neural, weights[models.ComponentNeural], cs.NeuralAvailable},
		{entityScore, weights[models.ComponentEntity], cs.EntityAvailable},
	}

	var sum, weightSum float64
	for _, c := range contributions {
		if c.available && c.weight > 0 {
			sum += c.score * c.weight
			weightSum += c.weight
		}
	}
	if weightSum == 0 {
		// Nothing comparable on both sides
		return 0
	}

	overall := sum / weightSum
	// Clamp for float-noise safety; kept to two decimals so identical input
	// always serializes identically.
	overall = math.Max(0, math.Min(100, overall))
	return math.Round(overall*100) / 100
}
