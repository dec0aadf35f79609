package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lostmatch/internal/models"

	"gorm.io/datatypes"
)

// ValidationError is returned for malformed feedback synchronously, with
// enough detail for the caller to correct the request. No state changes
// when one is returned.
type ValidationError struct {
	Message      string   `json:"message"`
	ValidOptions []string `json:"valid_options,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.ValidOptions) > 0 {
		return fmt.Sprintf("%s (valid: %s)", e.Message, strings.Join(e.ValidOptions, ", "))
	}
	return e.Message
}

// FeedbackService handles match review: viewed transitions, verdict
// validation, snapshotting and the per-side state machine
type FeedbackService struct {
	matchRepo    MatchRepository
	feedbackRepo FeedbackRepository
	weightRepo   WeightRepository
	caseRepo     CaseRepository
	minScore     float64 // configured global minimum, snapshotted with weights
}

// NewFeedbackService creates the feedback service.
// Returns concrete type - "Accept interfaces, return structs".
func NewFeedbackService(
	matchRepo MatchRepository,
	feedbackRepo FeedbackRepository,
	weightRepo WeightRepository,
	caseRepo CaseRepository,
	minScore float64,
) *FeedbackService {
	return &FeedbackService{
		matchRepo:    matchRepo,
		feedbackRepo: feedbackRepo,
		weightRepo:   weightRepo,
		caseRepo:     caseRepo,
		minScore:     minScore,
	}
}

// GetForUser fetches a match and applies the idempotent pending->viewed
// transition when the reader is one of the involved case owners
func (s *FeedbackService) GetForUser(ctx context.Context, matchID, userID string) (*models.PhotoMatch, error) {
	match, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if userID != "" {
		if _, err := s.sideForUser(ctx, match, userID); err == nil {
			if err := s.matchRepo.MarkViewed(ctx, matchID); err != nil {
				return nil, err
			}
			// Reread so the caller sees the transition
			return s.matchRepo.GetByID(ctx, matchID)
		}
	}
	return match, nil
}

// Submit validates and records one verdict, snapshots the scores and
// weights that produced the match, and updates the match's per-side
// feedback plus the aggregate status. Returns the updated match.
func (s *FeedbackService) Submit(ctx context.Context, matchID string, create *models.FeedbackCreate) (*models.PhotoMatch, error) {
	if err := s.validate(create); err != nil {
		return nil, err
	}

	match, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return nil, err
	}

	isSource, err := s.sideForUser(ctx, match, create.UserID)
	if err != nil {
		return nil, err
	}

	feedback := &models.MatchFeedback{
		PhotoMatchID:     match.ID,
		UserID:           create.UserID,
		IsSourceUser:     isSource,
		FeedbackType:     create.Verdict,
		RejectionReasons: create.Reasons,
		Explanation:      create.Explanation,
		ScoresSnapshot:   datatypes.NewJSONType(snapshotScores(match)),
		WeightsSnapshot:  datatypes.NewJSONType(s.snapshotWeights(ctx, match)),
	}
	if err := s.feedbackRepo.Create(ctx, feedback); err != nil {
		return nil, err
	}

	side := sideForVerdict(create.Verdict)
	source, target := match.SourceFeedback, match.TargetFeedback
	if isSource {
		source = side
	} else {
		target = side
	}
	status := models.AggregateStatus(match.Status, source, target)

	if err := s.matchRepo.ApplyFeedback(ctx, match.ID, isSource, side, status); err != nil {
		return nil, err
	}

	return s.matchRepo.GetByID(ctx, match.ID)
}

// ListForMatch returns the feedback history of a match
func (s *FeedbackService) ListForMatch(ctx context.Context, matchID string) ([]*models.MatchFeedback, error) {
	return s.feedbackRepo.ListByMatch(ctx, matchID)
}

func (s *FeedbackService) validate(create *models.FeedbackCreate) error {
	if create.UserID == "" {
		return &ValidationError{Message: "user_id is required"}
	}

	validVerdict := false
	for _, v := range models.ValidFeedbackTypes {
		if create.Verdict == v {
			validVerdict = true
			break
		}
	}
	if !validVerdict {
		return &ValidationError{
			Message:      fmt.Sprintf("unknown verdict %q", create.Verdict),
			ValidOptions: []string{string(models.FeedbackConfirmed), string(models.FeedbackRejected), string(models.FeedbackUnsure)},
		}
	}

	if create.Verdict == models.FeedbackRejected {
		if len(create.Reasons) == 0 {
			return &ValidationError{
				Message:      "rejected feedback requires at least one reason",
				ValidOptions: models.ValidRejectionReasons,
			}
		}
		for _, reason := range create.Reasons {
			if !models.IsValidRejectionReason(reason) {
				return &ValidationError{
					Message:      fmt.Sprintf("unknown rejection reason %q", reason),
					ValidOptions: models.ValidRejectionReasons,
				}
			}
		}
	}
	return nil
}

// sideForUser resolves which side of the match the user owns.
// A user who owns neither case cannot submit feedback or trigger viewed.
func (s *FeedbackService) sideForUser(ctx context.Context, match *models.PhotoMatch, userID string) (isSource bool, err error) {
	sourceOwner, err := s.caseRepo.OwnerOf(ctx, match.SourceCaseID)
	if err != nil {
		return false, err
	}
	if sourceOwner == userID {
		return true, nil
	}

	targetOwner, err := s.caseRepo.OwnerOf(ctx, match.TargetCaseID)
	if err != nil {
		return false, err
	}
	if targetOwner == userID {
		return false, nil
	}

	return false, &ValidationError{Message: "user is not a party to this match"}
}

func sideForVerdict(verdict models.FeedbackType) models.SideFeedback {
	switch verdict {
	case models.FeedbackConfirmed:
		return models.SideConfirmed
	case models.FeedbackRejected:
		return models.SideRejected
	default:
		return models.SideUnsure
	}
}

// snapshotScores freezes the match's component scores at decision time
func snapshotScores(match *models.PhotoMatch) models.ScoresSnapshot {
	return models.ScoresSnapshot{
		HashScore:           match.HashScore,
		ColorScore:          match.ColorScore,
		OCRScore:            match.OCRScore,
		NeuralScore:         match.NeuralScore,
		EntityMatch:         match.EntityMatch,
		OverallScore:        match.OverallScore,
		AvailableComponents: match.ScoredComponents,
	}
}

// snapshotWeights freezes the weight profile that produced the match score.
// Falls back to the currently active global profile if the producing
// version was deleted (shouldn't happen - versions are kept for audit).
func (s *FeedbackService) snapshotWeights(ctx context.Context, match *models.PhotoMatch) models.WeightsSnapshot {
	if match.WeightProfileID != "" {
		if profile, err := s.weightRepo.GetByID(ctx, match.WeightProfileID); err == nil {
			return profile.Snapshot(s.minScore)
		}
	}
	if profile, err := s.weightRepo.GetActive(ctx, models.GlobalProfileName); err == nil && profile != nil {
		return profile.Snapshot(s.minScore)
	}
	return models.WeightsSnapshot{MinScore: s.minScore, SnapshottedAt: time.Now().UTC()}
}
