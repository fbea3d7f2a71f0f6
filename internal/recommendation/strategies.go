package recommendation

import (
	"context"
	"slices"

	"storefront/backend/internal/domain"
)

type tally struct {
	key   string
	score float64
}

// tallyCounter accumulates scores per key and remembers first-seen order,
// which is the tie-break for every ranked tally.
type tallyCounter struct {
	index map[string]int
	items []tally
}

func newTallyCounter() *tallyCounter {
	return &tallyCounter{index: make(map[string]int)}
}

func (c *tallyCounter) add(key string, score float64) {
	if i, ok := c.index[key]; ok {
		c.items[i].score += score
		return
	}
	c.index[key] = len(c.items)
	c.items = append(c.items, tally{key: key, score: score})
}

func (c *tallyCounter) ranked(limit int) []string {
	items := slices.Clone(c.items)
	slices.SortStableFunc(items, func(a, b tally) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.key)
	}
	return out
}

func (e *Engine) trending(ctx context.Context, limit int) ([]string, error) {
	since := e.now().Add(-e.cfg.TrendingWindow)
	events, err := e.events.ListEventsSince(ctx, since, domain.TrendingActions)
	if err != nil {
		return nil, err
	}

	counter := newTallyCounter()
	for _, ev := range events {
		if ev.ProductID == "" {
			continue
		}
		counter.add(ev.ProductID, 1)
	}
	return counter.ranked(limit), nil
}

// score is the personalized heuristic. A nil profile leaves only the
// featured and recency terms.
func (e *Engine) score(product domain.Product, profile *domain.UserPreferenceProfile) float64 {
	total := 0.0
	if profile != nil {
		if slices.Contains(profile.PreferredCategories, product.CategoryID) {
			total += 3
		}
		if product.BrandID != "" && slices.Contains(profile.PreferredBrands, product.BrandID) {
			total += 2
		}
		if product.Material != "" && slices.Contains(profile.PreferredMaterials, product.Material) {
			total += 1
		}
		if profile.HasPriceRange() &&
			product.PriceCents >= *profile.PriceRangeMinCents &&
			product.PriceCents <= *profile.PriceRangeMaxCents {
			total += 2
		}
		if profile.VIPProductsOnly && product.VIPExclusive {
			total += 1
		}
	}
	if product.Featured {
		total += 1
	}
	if !product.CreatedAt.IsZero() && e.now().Sub(product.CreatedAt) <= e.cfg.RecencyWindow {
		total += 0.5
	}
	return total
}

type scoredProduct struct {
	product domain.Product
	score   float64
}

// rank orders products by score, then newest first, then input order.
func (e *Engine) rank(products []domain.Product, profile *domain.UserPreferenceProfile, limit int) []string {
	scored := make([]scoredProduct, 0, len(products))
	for _, p := range products {
		scored = append(scored, scoredProduct{product: p, score: e.score(p, profile)})
	}
	slices.SortStableFunc(scored, func(a, b scoredProduct) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return b.product.CreatedAt.Compare(a.product.CreatedAt)
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]string, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.product.ID)
	}
	return out
}

func (e *Engine) personalized(ctx context.Context, userID string, limit int) ([]string, error) {
	profile, err := e.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	products, err := e.catalog.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return nil, err
	}
	return e.rank(products, profile, limit), nil
}

// similar sums neighbor scores over the products the user viewed last and
// falls back to trending when there is nothing to seed from.
func (e *Engine) similar(ctx context.Context, userID string, limit int) ([]string, error) {
	var seeds []string
	if userID != "" {
		views, err := e.events.ListUserEvents(ctx, userID, domain.ActionView, e.cfg.SimilarSeedLimit)
		if err != nil {
			return nil, err
		}
		for _, ev := range views {
			if ev.ProductID != "" && !slices.Contains(seeds, ev.ProductID) {
				seeds = append(seeds, ev.ProductID)
			}
		}
	}
	if len(seeds) == 0 || e.neighbors == nil {
		return e.trending(ctx, limit)
	}

	counter := newTallyCounter()
	for _, seed := range seeds {
		neighbors, err := e.neighbors.Neighbors(ctx, seed, e.cfg.SimilarityType, e.cfg.NeighborLimit)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if slices.Contains(seeds, n.ProductID) {
				continue
			}
			counter.add(n.ProductID, n.Score)
		}
	}
	return counter.ranked(limit), nil
}

// categoryBased filters the catalog by the user's most interacted category.
// Only the top category drives the filter; the rest of the candidate list
// is logged for inspection.
func (e *Engine) categoryBased(ctx context.Context, userID string, limit int) ([]string, error) {
	if userID == "" {
		return []string{}, nil
	}
	events, err := e.events.ListUserEvents(ctx, userID, "", e.cfg.CategoryEventLimit)
	if err != nil {
		return nil, err
	}

	products := make(map[string]*domain.Product)
	counter := newTallyCounter()
	for _, ev := range events {
		if ev.ProductID == "" {
			continue
		}
		product, seen := products[ev.ProductID]
		if !seen {
			product, err = e.catalog.GetProduct(ctx, ev.ProductID)
			if err != nil && !isNotFound(err) {
				return nil, err
			}
			products[ev.ProductID] = product
		}
		if product == nil || product.CategoryID == "" {
			continue
		}
		counter.add(product.CategoryID, 1)
	}

	candidates := counter.ranked(3)
	profile, err := e.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile != nil {
		for _, category := range profile.PreferredCategories {
			if !slices.Contains(candidates, category) {
				candidates = append(candidates, category)
			}
		}
	}
	if len(candidates) == 0 {
		return []string{}, nil
	}
	e.log.Debug().
		Str("user_id", userID).
		Str("category", candidates[0]).
		Strs("unused_categories", candidates[1:]).
		Msg("category_based filter")

	matching, err := e.catalog.ListProducts(ctx, domain.ProductFilter{CategoryID: candidates[0]})
	if err != nil {
		return nil, err
	}
	return e.rank(matching, profile, limit), nil
}
