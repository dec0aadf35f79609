package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/segmentio/ksuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EntityType is the classified object category of a photo
type EntityType string

const (
	EntityPet         EntityType = "pet"
	EntityElectronics EntityType = "electronics"
	EntityJewelry     EntityType = "jewelry"
	EntityDocument    EntityType = "document"
	EntityVehicle     EntityType = "vehicle"
	EntityBag         EntityType = "bag"
	EntityOther       EntityType = "other"
)

// entityAbbrev maps entity types to the short codes used in human-readable IDs
var entityAbbrev = map[EntityType]string{
	EntityPet:         "PET",
	EntityElectronics: "ELEC",
	EntityJewelry:     "JWL",
	EntityDocument:    "DOC",
	EntityVehicle:     "VEH",
	EntityBag:         "BAG",
	EntityOther:       "OBJ",
}

// ProcessingStatus tracks fingerprint extraction lifecycle
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingCompleted ProcessingStatus = "completed"
	ProcessingFailed    ProcessingStatus = "failed"
)

// QualityTier buckets the 0-100 quality score for display and ID encoding
type QualityTier string

const (
	QualityPoor      QualityTier = "poor"
	QualityFair      QualityTier = "fair"
	QualityGood      QualityTier = "good"
	QualityExcellent QualityTier = "excellent"
)

// DominantColor is one entry in the ordered dominant-color list
type DominantColor struct {
	Name       string  `json:"name"`       // e.g. "navy blue"
	Code       string  `json:"code"`       // abbreviation, e.g. "NVY"
	Proportion float64 `json:"proportion"` // fraction of pixels, 0-1
}

// ColorFingerprint is the full color signal for one photo.
// Colors are ordered most-dominant first; ColorCode is the compact
// concatenation of the top codes (e.g. "NVY-BLK").
type ColorFingerprint struct {
	Colors    []DominantColor `json:"colors"`
	ColorCode string          `json:"color_code"`
}

// VisualFingerprint is the full set of extracted signals for one photo.
// Immutable once processing_status reaches "completed"; a rebuild for the
// same photo replaces the row in place (upsert on photo_id).
//
// Learning: one fingerprint per photo is enforced by a unique index on
// photo_id, not by application-level check-then-act.
type VisualFingerprint struct {
	ID      string `json:"id" gorm:"type:char(27);primaryKey"`
	PhotoID string `json:"photo_id" gorm:"type:char(27);not null;uniqueIndex"`
	CaseID  string `json:"case_id" gorm:"type:char(27);not null;index"` // denormalized for filtering

	EntityType       EntityType `json:"entity_type" gorm:"type:varchar(20);not null;default:'other';index"`
	EntityConfidence float64    `json:"entity_confidence" gorm:"not null;default:0"`

	// Hash triplet: 64-bit hashes encoded as 16 lowercase hex chars each
	PerceptualHash string `json:"perceptual_hash" gorm:"type:char(16)"`
	AverageHash    string `json:"average_hash" gorm:"type:char(16)"`
	DifferenceHash string `json:"difference_hash" gorm:"type:char(16)"`

	ColorFingerprint datatypes.JSONType[ColorFingerprint] `json:"color_fingerprint"`

	OCRText        string         `json:"ocr_text" gorm:"type:text"`
	DetectedLabels pq.StringArray `json:"detected_labels" gorm:"type:text[]"`

	Embedding     pgvector.Vector `json:"-" gorm:"type:vector(512)"`
	EmbeddingHash string          `json:"embedding_hash" gorm:"type:char(4);index"` // LSH bucket key

	QualityScore int         `json:"quality_score" gorm:"not null;default:0"`
	QualityTier  QualityTier `json:"quality_tier" gorm:"type:varchar(12);not null;default:'poor'"`

	HumanReadableID string `json:"human_readable_id" gorm:"type:varchar(64);index"`

	ProcessingStatus ProcessingStatus `json:"processing_status" gorm:"type:varchar(12);not null;default:'pending';index"`
	ProcessingError  string           `json:"processing_error,omitempty" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

// BeforeCreate hook generates KSUID before inserting
func (f *VisualFingerprint) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (VisualFingerprint) TableName() string {
	return "visual_fingerprints"
}

// IsCompleted reports whether the fingerprint is queryable
func (f *VisualFingerprint) IsCompleted() bool {
	return f.ProcessingStatus == ProcessingCompleted
}

// HasHashTriplet reports whether all three perceptual hashes are present
func (f *VisualFingerprint) HasHashTriplet() bool {
	return f.PerceptualHash != "" && f.AverageHash != "" && f.DifferenceHash != ""
}

// HasEmbedding reports whether the neural embedding is present
func (f *VisualFingerprint) HasEmbedding() bool {
	return len(f.Embedding.Slice()) > 0
}

// TierForQuality derives the quality tier from a 0-100 quality score.
// Thresholds are deterministic: >=80 excellent, >=60 good, >=40 fair, else poor.
func TierForQuality(score int) QualityTier {
	switch {
	case score >= 80:
		return QualityExcellent
	case score >= 60:
		return QualityGood
	case score >= 40:
		return QualityFair
	default:
		return QualityPoor
	}
}

// EntityAbbrev returns the short code for an entity type ("OBJ" for unknown)
func EntityAbbrev(t EntityType) string {
	if abbr, ok := entityAbbrev[t]; ok {
		return abbr
	}
	return "OBJ"
}

// BuildHumanReadableID encodes entity, colors, shape and quality into a
// deterministic debugging ID like "ELEC-BLK-SLV-RECT-G-7f3a".
// Not a primary key - two near-identical items can share one.
func BuildHumanReadableID(entity EntityType, colors ColorFingerprint, shape string, tier QualityTier, embeddingHash string) string {
	parts := []string{EntityAbbrev(entity)}

	for i, c := range colors.Colors {
		if i >= 2 { // top two colors only
			break
		}
		if c.Code != "" {
			parts = append(parts, strings.ToUpper(c.Code))
		}
	}
	if len(parts) == 1 {
		parts = append(parts, "UNC") // uncolored / unknown
	}

	if shape == "" {
		shape = "FORM"
	}
	parts = append(parts, strings.ToUpper(shape))

	// Single tier letter: P/F/G/E
	tierLetter := strings.ToUpper(string(tier[0]))
	parts = append(parts, tierLetter)

	if embeddingHash != "" {
		parts = append(parts, strings.ToLower(embeddingHash))
	}

	return strings.Join(parts, "-")
}

// FingerprintCreate is the request payload for an async fingerprint build
type FingerprintCreate struct {
	PhotoID    string     `json:"photo_id"`
	CaseID     string     `json:"case_id"`
	PhotoURL   string     `json:"photo_url"`
	EntityHint EntityType `json:"entity_hint,omitempty"` // optional category from the case record
}

// Validate checks the build request before queueing
func (c *FingerprintCreate) Validate() error {
	if c.PhotoID == "" {
		return fmt.Errorf("photo_id is required")
	}
	if c.CaseID == "" {
		return fmt.Errorf("case_id is required")
	}
	if c.PhotoURL == "" {
		return fmt.Errorf("photo_url is required")
	}
	return nil
}
