package preference

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/logging"
	"storefront/backend/internal/metrics"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

const lockStripes = 64

// Engine maintains one preference profile per user. Writes for the same
// user are serialized through a striped mutex; reads hit the store directly.
type Engine struct {
	store store.PreferenceStore
	now   func() time.Time
	locks [lockStripes]sync.Mutex
	log   zerolog.Logger
}

func NewEngine(prefs store.PreferenceStore, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store: prefs,
		now:   now,
		log:   logging.Component("preference"),
	}
}

func (e *Engine) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &e.locks[h.Sum32()%lockStripes]
}

// Get returns store.ErrNotFound when the user has no profile yet.
func (e *Engine) Get(ctx context.Context, userID string) (*domain.UserPreferenceProfile, error) {
	return e.store.GetPreferences(ctx, userID)
}

// Absorb adds the product's category, brand and material to the user's
// preferred sets. Empty attributes are ignored and nothing is written when
// every value is already present.
func (e *Engine) Absorb(ctx context.Context, userID string, product domain.Product) error {
	if userID == "" {
		return nil
	}
	mu := e.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	profile, err := e.loadOrNew(ctx, userID)
	if err != nil {
		return err
	}

	changed := false
	profile.PreferredCategories, changed = addUnique(profile.PreferredCategories, product.CategoryID, changed)
	profile.PreferredBrands, changed = addUnique(profile.PreferredBrands, product.BrandID, changed)
	profile.PreferredMaterials, changed = addUnique(profile.PreferredMaterials, product.Material, changed)
	if !changed {
		return nil
	}

	profile.UpdatedAt = e.now().UTC()
	if err := e.store.SavePreferences(ctx, profile); err != nil {
		return err
	}
	metrics.PreferenceUpdatesTotal.WithLabelValues("behavior").Inc()
	e.log.Debug().
		Str("user_id", userID).
		Str("product_id", product.ID).
		Msg("preferences absorbed product")
	return nil
}

// Update overwrites the supplied fields and keeps the rest. A missing
// profile is created first.
func (e *Engine) Update(ctx context.Context, userID string, update domain.PreferenceUpdate) (domain.UserPreferenceProfile, error) {
	if userID == "" {
		return domain.UserPreferenceProfile{}, fmt.Errorf("user id is required: %w", store.ErrInvalidArgument)
	}
	mu := e.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	profile, err := e.loadOrNew(ctx, userID)
	if err != nil {
		return domain.UserPreferenceProfile{}, err
	}

	if update.PreferredCategories != nil {
		profile.PreferredCategories = dedupe(update.PreferredCategories)
	}
	if update.PreferredBrands != nil {
		profile.PreferredBrands = dedupe(update.PreferredBrands)
	}
	if update.PreferredMaterials != nil {
		profile.PreferredMaterials = dedupe(update.PreferredMaterials)
	}
	if update.ClearPriceRange {
		profile.PriceRangeMinCents = nil
		profile.PriceRangeMaxCents = nil
	}
	if update.PriceRangeMinCents != nil {
		v := *update.PriceRangeMinCents
		profile.PriceRangeMinCents = &v
	}
	if update.PriceRangeMaxCents != nil {
		v := *update.PriceRangeMaxCents
		profile.PriceRangeMaxCents = &v
	}
	if update.VIPProductsOnly != nil {
		profile.VIPProductsOnly = *update.VIPProductsOnly
	}
	if profile.HasPriceRange() && *profile.PriceRangeMinCents > *profile.PriceRangeMaxCents {
		return domain.UserPreferenceProfile{}, fmt.Errorf("price range min exceeds max: %w", store.ErrInvalidArgument)
	}

	profile.UpdatedAt = e.now().UTC()
	if err := e.store.SavePreferences(ctx, profile); err != nil {
		return domain.UserPreferenceProfile{}, err
	}
	metrics.PreferenceUpdatesTotal.WithLabelValues("explicit").Inc()
	return profile, nil
}

func (e *Engine) loadOrNew(ctx context.Context, userID string) (domain.UserPreferenceProfile, error) {
	existing, err := e.store.GetPreferences(ctx, userID)
	if err == nil {
		return existing.Clone(), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.UserPreferenceProfile{}, err
	}
	return domain.UserPreferenceProfile{
		ID:                  xid.New("pref"),
		UserID:              userID,
		PreferredCategories: []string{},
		PreferredBrands:     []string{},
		PreferredMaterials:  []string{},
	}, nil
}

func addUnique(set []string, value string, changed bool) ([]string, bool) {
	if value == "" {
		return set, changed
	}
	for _, existing := range set {
		if existing == value {
			return set, changed
		}
	}
	return append(set, value), true
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out, _ = addUnique(out, v, false)
	}
	return out
}
