package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"lostmatch/internal/models"
	"lostmatch/internal/scoring"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

/*
LEARNING: OFFLINE WEIGHT TUNING

Retraining never runs on the request path and never holds a lock that
blocks live search or scoring. The run loads ONE snapshot of the decisive
feedback, then works entirely in memory: deterministic shuffle, 80/20
train/holdout split, coordinate ascent over the component-weight simplex
maximizing F1 of "overall >= threshold" against user verdicts, final
metrics on the held-out slice only.

The output is a new INACTIVE WeightProfile version. Nothing starts using
it until someone explicitly promotes it - candidate generation and
activation are deliberately separate steps.
*/

// tuningSeed fixes the shuffle so a given feedback set always produces the
// same split (and therefore reproducible candidate profiles)
const tuningSeed = 0x10577a7c

// trainingSnapshotLimit bounds the feedback slice a run loads
const trainingSnapshotLimit = 10000

// TuningRunStatus is the lifecycle of a retrain run
type TuningRunStatus string

const (
	RunRunning   TuningRunStatus = "running"
	RunCompleted TuningRunStatus = "completed"
	RunFailed    TuningRunStatus = "failed"
)

// TuningRun is the observable state of one retrain. Progress is reported
// incrementally so long runs are not a black box.
type TuningRun struct {
	ID         string          `json:"id"`
	ConfigName string          `json:"config_name"`
	Status     TuningRunStatus `json:"status"`
	Stage      string          `json:"stage"`
	Progress   float64         `json:"progress"` // 0-1
	Samples    int             `json:"samples"`
	Holdout    int             `json:"holdout"`

	Metrics            *models.TrainingMetrics `json:"metrics,omitempty"`
	CandidateProfileID string                  `json:"candidate_profile_id,omitempty"`
	Error              string                  `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// TuningService runs feedback-driven weight recalculation and owns the
// explicit promotion step
type TuningService struct {
	feedbackRepo FeedbackRepository
	weightRepo   WeightRepository
	profiles     *scoring.Resolver

	holdoutFraction float64
	minSamples      int
	minScore        float64

	mu   sync.RWMutex
	runs map[string]*TuningRun
}

// NewTuningService creates the tuning service
func NewTuningService(
	feedbackRepo FeedbackRepository,
	weightRepo WeightRepository,
	profiles *scoring.Resolver,
	holdoutFraction float64,
	minSamples int,
	minScore float64,
) *TuningService {
	return &TuningService{
		feedbackRepo:    feedbackRepo,
		weightRepo:      weightRepo,
		profiles:        profiles,
		holdoutFraction: holdoutFraction,
		minSamples:      minSamples,
		minScore:        minScore,
		runs:            make(map[string]*TuningRun),
	}
}

// StartRetrain validates there is enough labeled feedback and kicks off a
// background run for the given profile name. Returns immediately with the
// run handle; callers poll GetRun for progress.
func (s *TuningService) StartRetrain(ctx context.Context, configName string) (*TuningRun, error) {
	if configName == "" {
		configName = models.GlobalProfileName
	}

	counts, err := s.feedbackRepo.CountByType(ctx)
	if err != nil {
		return nil, err
	}
	labeled := counts[models.FeedbackConfirmed] + counts[models.FeedbackRejected]
	if labeled < int64(s.minSamples) {
		return nil, &ValidationError{
			Message: fmt.Sprintf("not enough labeled feedback to retrain: have %d, need %d", labeled, s.minSamples),
		}
	}

	run := &TuningRun{
		ID:         uuid.New().String(),
		ConfigName: configName,
		Status:     RunRunning,
		Stage:      "loading",
		StartedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.runs[run.ID] = run
	s.mu.Unlock()

	go s.execute(run)

	return s.snapshotRun(run.ID), nil
}

// GetRun returns the current state of a run (copy, safe for callers)
func (s *TuningService) GetRun(id string) (*TuningRun, bool) {
	run := s.snapshotRun(id)
	return run, run != nil
}

// Promote atomically activates a candidate profile version and drops the
// resolver's cache entry so the swap is visible immediately
func (s *TuningService) Promote(ctx context.Context, profileID string) (*models.WeightProfile, error) {
	profile, err := s.weightRepo.Promote(ctx, profileID)
	if err != nil {
		return nil, err
	}
	s.profiles.Invalidate(profile.ConfigName)
	log.Printf("✓ Weight profile %s v%d promoted to active (%s)", profile.ConfigName, profile.Version, profile.ID)
	return profile, nil
}

// labeledExample is one training point reconstructed from a feedback event
type labeledExample struct {
	scores models.ScoresSnapshot
	label  bool // confirmed = positive
}

// execute is the background run body. It owns no locks while computing.
func (s *TuningService) execute(run *TuningRun) {
	ctx := context.Background()

	fail := func(err error) {
		log.Printf("❌ Tuning run %s failed: %v", run.ID, err)
		s.updateRun(run.ID, func(r *TuningRun) {
			r.Status = RunFailed
			r.Error = err.Error()
			now := time.Now().UTC()
			r.FinishedAt = &now
		})
	}

	feedbacks, err := s.feedbackRepo.ListForTraining(ctx, trainingSnapshotLimit)
	if err != nil {
		fail(err)
		return
	}

	examples := make([]labeledExample, 0, len(feedbacks))
	for _, fb := range feedbacks {
		examples = append(examples, labeledExample{
			scores: fb.ScoresSnapshot.Data(),
			label:  fb.FeedbackType == models.FeedbackConfirmed,
		})
	}

	train, holdout := splitExamples(examples, s.holdoutFraction)
	s.updateRun(run.ID, func(r *TuningRun) {
		r.Stage = "searching"
		r.Samples = len(train)
		r.Holdout = len(holdout)
	})
	log.Printf("🔬 Tuning run %s: %d train / %d holdout samples", run.ID, len(train), len(holdout))

	active, err := s.weightRepo.GetActive(ctx, run.ConfigName)
	if err != nil {
		fail(err)
		return
	}

	startCfg := models.DefaultWeightConfig()
	parentID := ""
	if active != nil {
		startCfg = active.ConfigData.Data()
		parentID = active.ID
	}
	threshold := s.minScore
	if startCfg.MinScore > 0 {
		threshold = startCfg.MinScore
	}

	startWeights, err := startCfg.Normalized()
	if err != nil {
		fail(err)
		return
	}

	best := s.coordinateAscent(run.ID, startWeights, train, threshold)

	metrics := evaluateWeights(best, holdout, threshold)
	metrics.Samples = len(train)
	metrics.Holdout = len(holdout)

	candidate := &models.WeightProfile{
		ConfigName: run.ConfigName,
		ConfigData: datatypes.NewJSONType(models.WeightConfig{
			Weights:        best,
			MinScore:       startCfg.MinScore,
			HighConfidence: startCfg.HighConfidence,
			Probable:       startCfg.Probable,
		}),
		Metrics:        datatypes.NewJSONType(metrics),
		ParentConfigID: parentID,
		TrainingRunID:  run.ID,
	}

	created, err := s.weightRepo.CreateVersion(ctx, candidate)
	if err != nil {
		fail(err)
		return
	}

	s.updateRun(run.ID, func(r *TuningRun) {
		r.Status = RunCompleted
		r.Stage = "done"
		r.Progress = 1
		r.Metrics = &metrics
		r.CandidateProfileID = created.ID
		now := time.Now().UTC()
		r.FinishedAt = &now
	})
	log.Printf("✓ Tuning run %s completed: candidate %s v%d (F1 %.3f on holdout)",
		run.ID, created.ID, created.Version, metrics.F1)
}

// weightGrid is the per-component search grid for coordinate ascent
var weightGrid = []float64{0.05, 0.10, 0.15, 0.20, 0.25, 0.30, 0.35, 0.40, 0.45, 0.50, 0.55, 0.60}

const ascentPasses = 3

// coordinateAscent greedily improves one component weight at a time, always
// renormalizing to the simplex, keeping any change that improves train F1
func (s *TuningService) coordinateAscent(runID string, start map[string]float64, train []labeledExample, threshold float64) map[string]float64 {
	components := []string{
		models.ComponentHash, models.ComponentColor, models.ComponentOCR,
		models.ComponentNeural, models.ComponentEntity,
	}

	best := copyWeights(start)
	bestF1 := evaluateWeights(best, train, threshold).F1

	totalSteps := ascentPasses * len(components)
	done := 0

	for pass := 0; pass < ascentPasses; pass++ {
		for _, comp := range components {
			for _, value := range weightGrid {
				candidate := copyWeights(best)
				candidate[comp] = value
				normalizeInPlace(candidate)

				if f1 := evaluateWeights(candidate, train, threshold).F1; f1 > bestF1 {
					best = candidate
					bestF1 = f1
				}
			}

			done++
			progress := float64(done) / float64(totalSteps)
			s.updateRun(runID, func(r *TuningRun) { r.Progress = progress })
		}
		log.Printf("  Tuning run %s: pass %d/%d, train F1 %.3f", runID, pass+1, ascentPasses, bestF1)
	}

	return best
}

// evaluateWeights scores every example under the candidate weights exactly
// the way the live scorer would (renormalized over available components)
// and compares the thresholded prediction against the user verdicts
func evaluateWeights(weights map[string]float64, examples []labeledExample, threshold float64) models.TrainingMetrics {
	var tp, fp, tn, fn float64

	for _, ex := range examples {
		predicted := overallFromSnapshot(ex.scores, weights) >= threshold
		switch {
		case predicted && ex.label:
			tp++
		case predicted && !ex.label:
			fp++
		case !predicted && !ex.label:
			tn++
		default:
			fn++
		}
	}

	total := tp + fp + tn + fn
	metrics := models.TrainingMetrics{}
	if total > 0 {
		metrics.Accuracy = (tp + tn) / total
	}
	if tp+fp > 0 {
		metrics.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		metrics.Recall = tp / (tp + fn)
	}
	if metrics.Precision+metrics.Recall > 0 {
		metrics.F1 = 2 * metrics.Precision * metrics.Recall / (metrics.Precision + metrics.Recall)
	}
	return metrics
}

// overallFromSnapshot recomputes the renormalized weighted sum from a
// frozen score snapshot - the counterfactual "what would this pair have
// scored under these weights"
func overallFromSnapshot(snap models.ScoresSnapshot, weights map[string]float64) float64 {
	componentScore := map[string]float64{
		models.ComponentHash:   snap.HashScore,
		models.ComponentColor:  snap.ColorScore,
		models.ComponentOCR:    snap.OCRScore,
		models.ComponentNeural: snap.NeuralScore,
		models.ComponentEntity: 0,
	}
	if snap.EntityMatch {
		componentScore[models.ComponentEntity] = 100
	}

	var sum, weightSum float64
	for _, comp := range snap.AvailableComponents {
		w := weights[comp]
		if w > 0 {
			sum += componentScore[comp] * w
			weightSum += w
		}
	}
	if weightSum == 0 {
		return 0
	}
	overall := math.Max(0, math.Min(100, sum/weightSum))
	return math.Round(overall*100) / 100
}

// splitExamples shuffles deterministically and carves off the holdout slice
func splitExamples(examples []labeledExample, holdoutFraction float64) (train, holdout []labeledExample) {
	shuffled := make([]labeledExample, len(examples))
	copy(shuffled, examples)

	rng := rand.New(rand.NewPCG(tuningSeed, uint64(len(examples))))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	n := int(float64(len(shuffled)) * holdoutFraction)
	if n < 1 && len(shuffled) > 1 {
		n = 1
	}
	return shuffled[n:], shuffled[:n]
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

func normalizeInPlace(w map[string]float64) {
	var sum float64
	for _, v := range w {
		sum += v
	}
	if sum <= 0 {
		return
	}
	for k, v := range w {
		w[k] = v / sum
	}
}

func (s *TuningService) updateRun(id string, fn func(*TuningRun)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		fn(run)
	}
}

func (s *TuningService) snapshotRun(id string) *TuningRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil
	}
	copied := *run
	if run.Metrics != nil {
		m := *run.Metrics
		copied.Metrics = &m
	}
	return &copied
}
