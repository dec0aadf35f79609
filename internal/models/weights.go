package models

import (
	"fmt"
	"math"
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Component keys used in weight maps. Entity participates as a scored
// component as well as a cascade gate.
const (
	ComponentHash   = "hash"
	ComponentColor  = "color"
	ComponentOCR    = "ocr"
	ComponentNeural = "neural"
	ComponentEntity = "entity"
)

// GlobalProfileName is the fallback profile when no category-specific
// profile is active for an entity type
const GlobalProfileName = "global"

// WeightConfig is the structured payload of a weight profile version:
// per-component weights (normalized to sum 1.0) plus optional threshold
// overrides for the category this profile applies to.
type WeightConfig struct {
	Weights map[string]float64 `json:"weights"`

	// Optional per-category threshold overrides; zero means "use global"
	MinScore       float64 `json:"min_score,omitempty"`
	HighConfidence float64 `json:"high_confidence,omitempty"`
	Probable       float64 `json:"probable,omitempty"`
}

// Normalized returns a copy of the weight map rescaled to sum 1.0.
// Returns an error if the weights are empty or non-positive.
func (c WeightConfig) Normalized() (map[string]float64, error) {
	var sum float64
	for _, w := range c.Weights {
		if w < 0 {
			return nil, fmt.Errorf("negative weight not allowed")
		}
		sum += w
	}
	if len(c.Weights) == 0 || sum <= 0 {
		return nil, fmt.Errorf("weight config has no positive weights")
	}
	out := make(map[string]float64, len(c.Weights))
	for k, w := range c.Weights {
		out[k] = w / sum
	}
	return out, nil
}

// DefaultWeightConfig is the hand-tuned starting point for the global
// profile, seeded on first boot if no profile exists
func DefaultWeightConfig() WeightConfig {
	return WeightConfig{
		Weights: map[string]float64{
			ComponentNeural: 0.40,
			ComponentHash:   0.25,
			ComponentColor:  0.15,
			ComponentOCR:    0.12,
			ComponentEntity: 0.08,
		},
	}
}

// TrainingMetrics describes how a candidate profile performed on the
// held-out feedback slice
type TrainingMetrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Samples   int     `json:"samples"`
	Holdout   int     `json:"holdout"`
}

// WeightProfile is one versioned weight configuration. Exactly one version
// per config_name is active at a time (enforced by a partial unique index);
// promotion swaps active atomically in a single transaction.
type WeightProfile struct {
	ID         string `json:"id" gorm:"type:char(27);primaryKey"`
	ConfigName string `json:"config_name" gorm:"type:varchar(40);not null;index:idx_profile_name_version,unique,composite:name"`
	Version    int    `json:"version" gorm:"not null;index:idx_profile_name_version,unique,composite:version"`

	ConfigData datatypes.JSONType[WeightConfig] `json:"config_data"`

	IsActive bool `json:"is_active" gorm:"not null;default:false;index"`

	Metrics        datatypes.JSONType[TrainingMetrics] `json:"metrics"`
	ParentConfigID string                              `json:"parent_config_id,omitempty" gorm:"type:char(27)"` // prior version, for audit/rollback
	TrainingRunID  string                              `json:"training_run_id,omitempty" gorm:"type:char(36)"`  // UUID of the tuning run that produced it

	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"column:deleted_at;index"`
}

// BeforeCreate hook generates KSUID before inserting
func (p *WeightProfile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (WeightProfile) TableName() string {
	return "weight_profiles"
}

// Snapshot freezes the profile for embedding into a feedback event
func (p *WeightProfile) Snapshot(minScore float64) WeightsSnapshot {
	cfg := p.ConfigData.Data()
	weights := make(map[string]float64, len(cfg.Weights))
	for k, v := range cfg.Weights {
		weights[k] = v
	}
	if cfg.MinScore > 0 {
		minScore = cfg.MinScore
	}
	return WeightsSnapshot{
		ProfileID:     p.ID,
		ConfigName:    p.ConfigName,
		Version:       p.Version,
		Weights:       weights,
		MinScore:      minScore,
		SnapshottedAt: time.Now().UTC(),
	}
}

// WeightsEqual compares two weight maps within a small epsilon
// (useful in tests and promotion sanity checks)
func WeightsEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || math.Abs(va-vb) > 1e-9 {
			return false
		}
	}
	return true
}
