package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightConfig_Normalized(t *testing.T) {
	cfg := WeightConfig{Weights: map[string]float64{
		ComponentNeural: 2,
		ComponentHash:   1,
		ComponentColor:  1,
	}}

	normalized, err := cfg.Normalized()
	require.NoError(t, err)

	assert.InDelta(t, 0.5, normalized[ComponentNeural], 1e-9)
	assert.InDelta(t, 0.25, normalized[ComponentHash], 1e-9)
	assert.InDelta(t, 0.25, normalized[ComponentColor], 1e-9)

	var sum float64
	for _, w := range normalized {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestWeightConfig_Normalized_LeavesOriginalUntouched(t *testing.T) {
	cfg := WeightConfig{Weights: map[string]float64{ComponentHash: 4, ComponentColor: 4}}

	_, err := cfg.Normalized()
	require.NoError(t, err)

	assert.Equal(t, 4.0, cfg.Weights[ComponentHash])
}

func TestWeightConfig_Normalized_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  WeightConfig
	}{
		{"empty weights", WeightConfig{}},
		{"all zero", WeightConfig{Weights: map[string]float64{ComponentHash: 0}}},
		{"negative weight", WeightConfig{Weights: map[string]float64{ComponentHash: -1, ComponentColor: 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Normalized()
			assert.Error(t, err)
		})
	}
}

func TestDefaultWeightConfig_SumsToOne(t *testing.T) {
	cfg := DefaultWeightConfig()

	var sum float64
	for _, w := range cfg.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Len(t, cfg.Weights, 5)
}

func TestWeightsEqual(t *testing.T) {
	a := map[string]float64{ComponentHash: 0.5, ComponentColor: 0.5}
	b := map[string]float64{ComponentHash: 0.5, ComponentColor: 0.5}
	c := map[string]float64{ComponentHash: 0.6, ComponentColor: 0.4}

	assert.True(t, WeightsEqual(a, b))
	assert.False(t, WeightsEqual(a, c))
	assert.False(t, WeightsEqual(a, map[string]float64{ComponentHash: 0.5}))
}

func TestProfileSnapshot_ThresholdOverride(t *testing.T) {
	profile := &WeightProfile{ID: "prof-1", ConfigName: "pet", Version: 3}

	snap := profile.Snapshot(55)
	assert.Equal(t, 55.0, snap.MinScore, "zero override falls back to global")
	assert.Equal(t, "pet", snap.ConfigName)
	assert.Equal(t, 3, snap.Version)
}

func TestIsValidRejectionReason(t *testing.T) {
	for _, r := range ValidRejectionReasons {
		assert.True(t, IsValidRejectionReason(r), r)
	}
	assert.False(t, IsValidRejectionReason("it_was_ugly"))
	assert.False(t, IsValidRejectionReason(""))
}
