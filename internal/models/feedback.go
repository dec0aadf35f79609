package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/segmentio/ksuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FeedbackType is a user verdict on a surfaced match
type FeedbackType string

const (
	FeedbackConfirmed FeedbackType = "confirmed"
	FeedbackRejected  FeedbackType = "rejected"
	FeedbackUnsure    FeedbackType = "unsure"
)

// ValidFeedbackTypes enumerates accepted verdicts (used in validation errors)
var ValidFeedbackTypes = []FeedbackType{FeedbackConfirmed, FeedbackRejected, FeedbackUnsure}

// RejectionReason codes - a rejected verdict must carry at least one
const (
	ReasonDifferentColor   = "different_color"
	ReasonDifferentBrand   = "different_brand"
	ReasonDifferentSize    = "different_size"
	ReasonWrongCategory    = "wrong_category"
	ReasonPhotoUnclear     = "photo_unclear"
	ReasonLocationMismatch = "location_mismatch"
	ReasonAlreadyRecovered = "already_recovered"
	ReasonOther            = "other"
)

// ValidRejectionReasons is the fixed enumerated set of reason codes
var ValidRejectionReasons = []string{
	ReasonDifferentColor,
	ReasonDifferentBrand,
	ReasonDifferentSize,
	ReasonWrongCategory,
	ReasonPhotoUnclear,
	ReasonLocationMismatch,
	ReasonAlreadyRecovered,
	ReasonOther,
}

// IsValidRejectionReason checks a single reason code against the enum
func IsValidRejectionReason(reason string) bool {
	for _, r := range ValidRejectionReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// ScoresSnapshot is the component-score copy frozen into each feedback event.
// It is the ground truth for weight retraining: the scores as they were when
// the user decided, regardless of later fingerprint recomputes.
type ScoresSnapshot struct {
	HashScore    float64 `json:"hash_score"`
	ColorScore   float64 `json:"color_score"`
	OCRScore     float64 `json:"ocr_score"`
	NeuralScore  float64 `json:"neural_score"`
	EntityMatch  bool    `json:"entity_match"`
	OverallScore float64 `json:"overall_score"`

	// Components that were present on both sides when scored. Needed so a
	// retrain can re-run the renormalized sum exactly as the scorer did.
	AvailableComponents []string `json:"available_components"`
}

// WeightsSnapshot freezes the weight profile that produced the score
type WeightsSnapshot struct {
	ProfileID     string             `json:"profile_id"`
	ConfigName    string             `json:"config_name"`
	Version       int                `json:"version"`
	Weights       map[string]float64 `json:"weights"`
	MinScore      float64            `json:"min_score"`
	SnapshottedAt time.Time          `json:"snapshotted_at"`
}

// MatchFeedback is one user verdict event. Append-only and immutable once
// written - corrections are new events, never updates.
type MatchFeedback struct {
	ID           string `json:"id" gorm:"type:char(27);primaryKey"`
	PhotoMatchID string `json:"photo_match_id" gorm:"type:char(27);not null;index"`
	UserID       string `json:"user_id" gorm:"type:char(27);not null;index"`
	IsSourceUser bool   `json:"is_source_user" gorm:"not null"`

	FeedbackType     FeedbackType   `json:"feedback_type" gorm:"type:varchar(12);not null"`
	RejectionReasons pq.StringArray `json:"rejection_reasons,omitempty" gorm:"type:text[]"`
	Explanation      string         `json:"explanation,omitempty" gorm:"type:text"`

	ScoresSnapshot  datatypes.JSONType[ScoresSnapshot]  `json:"scores_snapshot"`
	WeightsSnapshot datatypes.JSONType[WeightsSnapshot] `json:"weights_snapshot"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate hook generates KSUID before inserting
func (f *MatchFeedback) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (MatchFeedback) TableName() string {
	return "match_feedbacks"
}

// FeedbackCreate is the request payload for submitting a verdict
type FeedbackCreate struct {
	UserID      string       `json:"user_id"`
	Verdict     FeedbackType `json:"verdict"`
	Reasons     []string     `json:"reasons,omitempty"`
	Explanation string       `json:"explanation,omitempty"`
}
