package scoring

import (
	"context"
	"fmt"
	"time"

	"lostmatch/internal/models"

	gocache "github.com/patrickmn/go-cache"
)

// ProfileStore defines what the resolver needs from weight-profile storage.
// GetActive returns (nil, nil) when no active version exists for the name.
type ProfileStore interface {
	GetActive(ctx context.Context, configName string) (*models.WeightProfile, error)
}

// Thresholds are the effective score cutoffs for one scoring run, after
// category overrides have been applied over the configured globals
type Thresholds struct {
	MinScore       float64
	Probable       float64
	HighConfidence float64
}

// Resolver picks the weight profile for a pair and caches active versions
// briefly so the hot search path doesn't hit the database per candidate.
//
// Precedence rule (documented decision): an active category-specific
// profile ALWAYS wins over the tuned global profile for its entity type.
// Manual per-category overrides are deliberate operator choices; the tuning
// loop only ever writes new versions of the profile name it was trained
// for, so the two never silently fight.
type Resolver struct {
	store    ProfileStore
	cache    *gocache.Cache
	defaults Thresholds
}

// NewResolver creates a resolver with the configured global thresholds
func NewResolver(store ProfileStore, defaults Thresholds) *Resolver {
	return &Resolver{
		store:    store,
		cache:    gocache.New(30*time.Second, time.Minute),
		defaults: defaults,
	}
}

// ResolveForEntity returns the active profile for an entity type: the
// category profile if one is active, else the global profile
func (r *Resolver) ResolveForEntity(ctx context.Context, entity models.EntityType) (*models.WeightProfile, error) {
	if entity != "" && entity != models.EntityOther {
		if p, err := r.lookup(ctx, string(entity)); err != nil {
			return nil, err
		} else if p != nil {
			return p, nil
		}
	}

	p, err := r.lookup(ctx, models.GlobalProfileName)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("no active %q weight profile", models.GlobalProfileName)
	}
	return p, nil
}

// EffectiveThresholds applies the profile's category overrides (if any)
// over the configured global cutoffs
func (r *Resolver) EffectiveThresholds(profile *models.WeightProfile) Thresholds {
	t := r.defaults
	if profile == nil {
		return t
	}
	cfg := profile.ConfigData.Data()
	if cfg.MinScore > 0 {
		t.MinScore = cfg.MinScore
	}
	if cfg.Probable > 0 {
		t.Probable = cfg.Probable
	}
	if cfg.HighConfidence > 0 {
		t.HighConfidence = cfg.HighConfidence
	}
	return t
}

// Invalidate drops a cached profile after promotion so the new active
// version is picked up immediately rather than at TTL expiry
func (r *Resolver) Invalidate(configName string) {
	r.cache.Delete(configName)
}

// profileMiss is the cached sentinel for "no active profile for this name",
// so absent category profiles don't cause a DB roundtrip per score
type profileMiss struct{}

func (r *Resolver) lookup(ctx context.Context, name string) (*models.WeightProfile, error) {
	if cached, found := r.cache.Get(name); found {
		if _, isMiss := cached.(profileMiss); isMiss {
			return nil, nil
		}
		return cached.(*models.WeightProfile), nil
	}

	p, err := r.store.GetActive(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load weight profile %q: %w", name, err)
	}
	if p == nil {
		r.cache.Set(name, profileMiss{}, gocache.DefaultExpiration)
		return nil, nil
	}

	r.cache.Set(name, p, gocache.DefaultExpiration)
	return p, nil
}
