package scoring

import (
	"context"
	"testing"

	"lostmatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

// fakeProfileStore serves profiles from a map and counts lookups
type fakeProfileStore struct {
	profiles map[string]*models.WeightProfile
	calls    int
}

func (f *fakeProfileStore) GetActive(ctx context.Context, configName string) (*models.WeightProfile, error) {
	f.calls++
	return f.profiles[configName], nil
}

func testThresholds() Thresholds {
	return Thresholds{MinScore: 55, Probable: 70, HighConfidence: 85}
}

func TestResolver_FallsBackToGlobal(t *testing.T) {
	global := testProfile(models.DefaultWeightConfig().Weights)
	store := &fakeProfileStore{profiles: map[string]*models.WeightProfile{
		models.GlobalProfileName: global,
	}}
	r := NewResolver(store, testThresholds())

	p, err := r.ResolveForEntity(context.Background(), models.EntityBag)
	require.NoError(t, err)
	assert.Equal(t, global.ID, p.ID)
}

func TestResolver_CategoryProfileWins(t *testing.T) {
	global := testProfile(models.DefaultWeightConfig().Weights)
	pet := testProfile(map[string]float64{models.ComponentNeural: 1})
	pet.ID = "prof-pet"
	pet.ConfigName = "pet"

	store := &fakeProfileStore{profiles: map[string]*models.WeightProfile{
		models.GlobalProfileName: global,
		"pet":                    pet,
	}}
	r := NewResolver(store, testThresholds())

	p, err := r.ResolveForEntity(context.Background(), models.EntityPet)
	require.NoError(t, err)
	assert.Equal(t, "prof-pet", p.ID, "active category profile always wins over global")
}

func TestResolver_OtherEntitySkipsCategoryLookup(t *testing.T) {
	global := testProfile(models.DefaultWeightConfig().Weights)
	store := &fakeProfileStore{profiles: map[string]*models.WeightProfile{
		models.GlobalProfileName: global,
	}}
	r := NewResolver(store, testThresholds())

	_, err := r.ResolveForEntity(context.Background(), models.EntityOther)
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls, `"other" goes straight to the global profile`)
}

func TestResolver_NoGlobalProfileIsAnError(t *testing.T) {
	r := NewResolver(&fakeProfileStore{profiles: map[string]*models.WeightProfile{}}, testThresholds())

	_, err := r.ResolveForEntity(context.Background(), models.EntityBag)
	assert.Error(t, err)
}

func TestResolver_CachesHitsAndMisses(t *testing.T) {
	global := testProfile(models.DefaultWeightConfig().Weights)
	store := &fakeProfileStore{profiles: map[string]*models.WeightProfile{
		models.GlobalProfileName: global,
	}}
	r := NewResolver(store, testThresholds())

	for i := 0; i < 5; i++ {
		_, err := r.ResolveForEntity(context.Background(), models.EntityBag)
		require.NoError(t, err)
	}

	// One lookup for the absent "bag" profile, one for global - then cached,
	// including the negative entry for "bag"
	assert.Equal(t, 2, store.calls)
}

func TestResolver_InvalidateDropsCacheEntry(t *testing.T) {
	global := testProfile(models.DefaultWeightConfig().Weights)
	store := &fakeProfileStore{profiles: map[string]*models.WeightProfile{
		models.GlobalProfileName: global,
	}}
	r := NewResolver(store, testThresholds())

	_, err := r.ResolveForEntity(context.Background(), models.EntityOther)
	require.NoError(t, err)
	before := store.calls

	r.Invalidate(models.GlobalProfileName)

	_, err = r.ResolveForEntity(context.Background(), models.EntityOther)
	require.NoError(t, err)
	assert.Equal(t, before+1, store.calls, "promotion invalidation forces a fresh read")
}

func TestEffectiveThresholds(t *testing.T) {
	r := NewResolver(&fakeProfileStore{}, testThresholds())

	assert.Equal(t, testThresholds(), r.EffectiveThresholds(nil))

	// Zero overrides keep the globals
	plain := testProfile(models.DefaultWeightConfig().Weights)
	assert.Equal(t, testThresholds(), r.EffectiveThresholds(plain))

	// Category overrides replace only what they set
	strict := &models.WeightProfile{
		ConfigData: datatypes.NewJSONType(models.WeightConfig{
			Weights:  models.DefaultWeightConfig().Weights,
			MinScore: 65,
		}),
	}
	got := r.EffectiveThresholds(strict)
	assert.Equal(t, 65.0, got.MinScore)
	assert.Equal(t, 70.0, got.Probable)
	assert.Equal(t, 85.0, got.HighConfidence)
}
