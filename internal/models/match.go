package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// MatchStatus is the aggregate review state of a match
type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchViewed    MatchStatus = "viewed"
	MatchConfirmed MatchStatus = "confirmed"
	MatchRejected  MatchStatus = "rejected"
	MatchUnsure    MatchStatus = "unsure" // soft state, can still move to confirmed/rejected
)

// MatchType is the confidence tier derived from the overall score
type MatchType string

const (
	MatchHighConfidence MatchType = "high_confidence"
	MatchProbable       MatchType = "probable"
	MatchPossible       MatchType = "possible"
)

// SideFeedback is the per-side verdict recorded on the match row itself
// (the full feedback event with snapshots lives in MatchFeedback)
type SideFeedback string

const (
	SideNone      SideFeedback = ""
	SideConfirmed SideFeedback = "confirmed"
	SideRejected  SideFeedback = "rejected"
	SideUnsure    SideFeedback = "unsure"
)

/*
LEARNING: CANONICAL PAIR KEYS

Two concurrent searches can discover the same pair of cases from opposite
directions: search(A) finds B while search(B) finds A. If each inserted a
row keyed on (source, target) we would end up with both (A,B) and (B,A).

Instead the pair is canonicalized - the lexicographically smaller case ID
always comes first - and a unique index on pair_key makes the database the
arbiter. The loser of the race degrades to an update, never a duplicate.
*/

// PhotoMatch records one qualifying pair of cases. At most one row exists
// per unordered case pair; rows are soft-status-transitioned, never deleted.
type PhotoMatch struct {
	ID string `json:"id" gorm:"type:char(27);primaryKey"`

	SourcePhotoID string `json:"source_photo_id" gorm:"type:char(27);not null"`
	TargetPhotoID string `json:"target_photo_id" gorm:"type:char(27);not null"`
	SourceCaseID  string `json:"source_case_id" gorm:"type:char(27);not null;index"`
	TargetCaseID  string `json:"target_case_id" gorm:"type:char(27);not null;index"`

	// Canonical unordered pair, smaller case ID first: "caseA|caseB"
	PairKey string `json:"-" gorm:"type:varchar(55);not null;uniqueIndex"`

	HashScore    float64 `json:"hash_score" gorm:"not null;default:0"`
	ColorScore   float64 `json:"color_score" gorm:"not null;default:0"`
	OCRScore     float64 `json:"ocr_score" gorm:"not null;default:0"`
	NeuralScore  float64 `json:"neural_score" gorm:"not null;default:0"`
	EntityMatch  bool    `json:"entity_match" gorm:"not null;default:false"`
	OverallScore float64 `json:"overall_score" gorm:"not null;default:0;index"`

	MatchType          MatchType      `json:"match_type" gorm:"type:varchar(20);not null"`
	MatchedIdentifiers pq.StringArray `json:"matched_identifiers" gorm:"type:text[]"` // why: shared tokens, labels, colors
	ScoredComponents   pq.StringArray `json:"scored_components" gorm:"type:text[]"`   // components present on both sides

	WeightProfileID string `json:"weight_profile_id" gorm:"type:char(27)"` // profile version that produced the score

	Status         MatchStatus  `json:"status" gorm:"type:varchar(12);not null;default:'pending';index"`
	SourceFeedback SideFeedback `json:"source_feedback" gorm:"type:varchar(12);default:''"`
	TargetFeedback SideFeedback `json:"target_feedback" gorm:"type:varchar(12);default:''"`
	ViewedAt       *time.Time   `json:"viewed_at,omitempty"`

	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

// BeforeCreate hook generates KSUID and the canonical pair key
func (m *PhotoMatch) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = ksuid.New().String()
	}
	if m.PairKey == "" {
		m.PairKey = CanonicalPairKey(m.SourceCaseID, m.TargetCaseID)
	}
	return nil
}

// TableName override
func (PhotoMatch) TableName() string {
	return "photo_matches"
}

// CanonicalPairKey normalizes an unordered case pair to a fixed order
func CanonicalPairKey(caseA, caseB string) string {
	if caseB < caseA {
		caseA, caseB = caseB, caseA
	}
	return caseA + "|" + caseB
}

// InvolvesCase reports whether the match references the given case
func (m *PhotoMatch) InvolvesCase(caseID string) bool {
	return m.SourceCaseID == caseID || m.TargetCaseID == caseID
}

// TypeForScore derives the confidence tier for an overall score given the
// configured cutoffs. Scores below the possible cutoff have no tier; the
// caller should not be persisting them at all.
func TypeForScore(score, highConfidence, probable float64) MatchType {
	switch {
	case score >= highConfidence:
		return MatchHighConfidence
	case score >= probable:
		return MatchProbable
	default:
		return MatchPossible
	}
}

// AggregateStatus resolves the per-side verdicts into the surfaced status.
// The more decisive verdict wins: a confirm from either side (without an
// opposing reject) surfaces as confirmed; both sides rejecting surfaces as
// rejected; a single reject leaves the match open for the other side.
func AggregateStatus(current MatchStatus, source, target SideFeedback) MatchStatus {
	confirmed := source == SideConfirmed || target == SideConfirmed
	rejectedBoth := source == SideRejected && target == SideRejected
	rejectedAny := source == SideRejected || target == SideRejected

	switch {
	case confirmed && !rejectedAny:
		return MatchConfirmed
	case confirmed && rejectedAny:
		// Conflicting verdicts: the positive signal wins for surfacing,
		// the per-side fields preserve the disagreement.
		return MatchConfirmed
	case rejectedBoth:
		return MatchRejected
	case source == SideUnsure || target == SideUnsure:
		return MatchUnsure
	case rejectedAny:
		// One side rejected, the other undecided: stays open.
		if current == MatchPending {
			return MatchViewed
		}
		return current
	default:
		return current
	}
}

// MatchResult is one ranked entry returned by a cascade search
type MatchResult struct {
	CaseID       string    `json:"case_id"`
	PhotoID      string    `json:"photo_id"`
	OverallScore float64   `json:"score"`
	MatchType    MatchType `json:"match_type"`
	Reasons      []string  `json:"reasons"`
}

// SearchOutcome wraps a full cascade run, including the narrowing stats
// that explain why a result set is empty. An empty population is a
// descriptive status, not an error.
type SearchOutcome struct {
	Results      []MatchResult `json:"results"`
	Status       string        `json:"status"` // "ok", "no_candidates", "no_matches_above_threshold"
	Scanned      int           `json:"scanned"`
	EntityPassed int           `json:"entity_passed"`
	Shortlisted  int           `json:"shortlisted"`
}
