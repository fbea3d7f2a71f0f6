package similarity

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/logging"
	"storefront/backend/internal/metrics"
	"storefront/backend/internal/store"
)

const (
	sameCategoryScore = 0.5
	sameBrandScore    = 0.3
	sameMaterialScore = 0.2
)

type Index struct {
	edges   store.SimilarityStore
	events  store.BehaviorStore
	catalog store.Catalog
	now     func() time.Time
	log     zerolog.Logger
}

func NewIndex(edges store.SimilarityStore, events store.BehaviorStore, catalog store.Catalog, now func() time.Time) *Index {
	if now == nil {
		now = time.Now
	}
	return &Index{
		edges:   edges,
		events:  events,
		catalog: catalog,
		now:     now,
		log:     logging.Component("similarity"),
	}
}

// Neighbors returns the products linked to productID, highest score first.
// An empty similarityType matches every type; limit <= 0 means no bound.
func (x *Index) Neighbors(ctx context.Context, productID string, similarityType string, limit int) ([]domain.SimilarityNeighbor, error) {
	edges, err := x.edges.ListSimilarities(ctx, productID, similarityType)
	if err != nil {
		return nil, err
	}

	out := make([]domain.SimilarityNeighbor, 0, len(edges))
	for _, edge := range edges {
		out = append(out, domain.SimilarityNeighbor{
			ProductID: edge.Other(productID),
			Score:     edge.SimilarityScore,
		})
	}
	slices.SortStableFunc(out, func(a, b domain.SimilarityNeighbor) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ProductID, b.ProductID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Edges returns the raw edges touching productID, highest score first.
func (x *Index) Edges(ctx context.Context, productID string, limit int) ([]domain.ProductSimilarity, error) {
	edges, err := x.edges.ListSimilarities(ctx, productID, "")
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(edges, func(a, b domain.ProductSimilarity) int {
		if a.SimilarityScore > b.SimilarityScore {
			return -1
		}
		if a.SimilarityScore < b.SimilarityScore {
			return 1
		}
		return 0
	})
	if limit > 0 && len(edges) > limit {
		edges = edges[:limit]
	}
	return edges, nil
}

func (x *Index) Put(ctx context.Context, edges ...domain.ProductSimilarity) error {
	for _, edge := range edges {
		if edge.ProductIDA == "" || edge.ProductIDB == "" || edge.ProductIDA == edge.ProductIDB {
			return fmt.Errorf("similarity edge needs two distinct products: %w", store.ErrInvalidArgument)
		}
		if edge.SimilarityType == "" {
			return fmt.Errorf("similarity type is required: %w", store.ErrInvalidArgument)
		}
		if math.IsNaN(edge.SimilarityScore) || math.IsInf(edge.SimilarityScore, 0) {
			return fmt.Errorf("similarity score must be finite: %w", store.ErrInvalidArgument)
		}
	}
	return x.edges.UpsertSimilarities(ctx, edges)
}

type RebuildResult struct {
	CoPurchaseEdges     int
	AttributeBasedEdges int
}

// Rebuild recomputes the co-purchase family from purchases since the given
// time and the attribute-based family from the active catalog. Each family
// replaces its previous edges.
func (x *Index) Rebuild(ctx context.Context, since time.Time) (RebuildResult, error) {
	now := x.now().UTC()

	purchases, err := x.events.ListEventsSince(ctx, since, []domain.BehaviorAction{domain.ActionPurchase})
	if err != nil {
		return RebuildResult{}, err
	}
	coPurchase := coPurchaseEdges(purchases, now)
	if err := x.edges.ReplaceSimilarities(ctx, domain.SimilarityCoPurchase, coPurchase); err != nil {
		return RebuildResult{}, err
	}

	products, err := x.catalog.ListProducts(ctx, domain.ProductFilter{})
	if err != nil {
		return RebuildResult{}, err
	}
	attribute := attributeEdges(products, now)
	if err := x.edges.ReplaceSimilarities(ctx, domain.SimilarityAttributeBased, attribute); err != nil {
		return RebuildResult{}, err
	}

	metrics.SimilarityRebuildEdges.WithLabelValues(domain.SimilarityCoPurchase).Set(float64(len(coPurchase)))
	metrics.SimilarityRebuildEdges.WithLabelValues(domain.SimilarityAttributeBased).Set(float64(len(attribute)))
	x.log.Info().
		Int("purchase_events", len(purchases)).
		Int("co_purchase_edges", len(coPurchase)).
		Int("attribute_edges", len(attribute)).
		Msg("similarity index rebuilt")

	return RebuildResult{CoPurchaseEdges: len(coPurchase), AttributeBasedEdges: len(attribute)}, nil
}

// coPurchaseEdges groups purchases into baskets by session, or by user when
// the session is missing, and scores each pair by cosine of basket counts.
func coPurchaseEdges(purchases []domain.BehaviorEvent, now time.Time) []domain.ProductSimilarity {
	baskets := make(map[string]map[string]struct{})
	basketOrder := make([]string, 0)
	for _, ev := range purchases {
		if ev.ProductID == "" {
			continue
		}
		key := "s:" + ev.SessionID
		if ev.SessionID == "" {
			if ev.UserID == "" {
				continue
			}
			key = "u:" + ev.UserID
		}
		basket, ok := baskets[key]
		if !ok {
			basket = make(map[string]struct{})
			baskets[key] = basket
			basketOrder = append(basketOrder, key)
		}
		basket[ev.ProductID] = struct{}{}
	}

	productCount := map[string]int{}
	pairCount := map[[2]string]int{}
	for _, key := range basketOrder {
		items := make([]string, 0, len(baskets[key]))
		for id := range baskets[key] {
			items = append(items, id)
			productCount[id]++
		}
		slices.Sort(items)
		for i := 0; i < len(items); i++ {
			for j := i + 1; j < len(items); j++ {
				pairCount[[2]string{items[i], items[j]}]++
			}
		}
	}

	out := make([]domain.ProductSimilarity, 0, len(pairCount))
	for pair, co := range pairCount {
		score := float64(co) / math.Sqrt(float64(productCount[pair[0]]*productCount[pair[1]]))
		out = append(out, domain.ProductSimilarity{
			ProductIDA:      pair[0],
			ProductIDB:      pair[1],
			SimilarityType:  domain.SimilarityCoPurchase,
			SimilarityScore: round4(score),
			CreatedAt:       now,
		})
	}
	sortEdges(out)
	return out
}

// attributeEdges links active products of the same category, adding brand
// and material overlap on top of the category score.
func attributeEdges(products []domain.Product, now time.Time) []domain.ProductSimilarity {
	byCategory := make(map[string][]domain.Product)
	for _, p := range products {
		if !p.Active || p.CategoryID == "" {
			continue
		}
		byCategory[p.CategoryID] = append(byCategory[p.CategoryID], p)
	}

	out := make([]domain.ProductSimilarity, 0)
	for _, group := range byCategory {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				score := sameCategoryScore
				if a.BrandID != "" && a.BrandID == b.BrandID {
					score += sameBrandScore
				}
				if a.Material != "" && a.Material == b.Material {
					score += sameMaterialScore
				}
				idA, idB := store.NormalizePair(a.ID, b.ID)
				out = append(out, domain.ProductSimilarity{
					ProductIDA:      idA,
					ProductIDB:      idB,
					SimilarityType:  domain.SimilarityAttributeBased,
					SimilarityScore: round4(score),
					CreatedAt:       now,
				})
			}
		}
	}
	sortEdges(out)
	return out
}

func sortEdges(edges []domain.ProductSimilarity) {
	slices.SortFunc(edges, func(a, b domain.ProductSimilarity) int {
		if c := strings.Compare(a.ProductIDA, b.ProductIDA); c != 0 {
			return c
		}
		return strings.Compare(a.ProductIDB, b.ProductIDB)
	})
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
