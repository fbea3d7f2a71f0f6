package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"storefront/backend/internal/cache"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded(0)
	now := func() time.Time { return time.Now().UTC() }
	svc := New(repo, cache.NewMemoryRecommendationCache(now), Options{Now: now})
	return svc, repo
}

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func TestTrackThenPreferencesContainCategoryOnce(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.TrackBehavior(ctx, domain.BehaviorEventInput{UserID: "u1", ProductID: "PRD-BONG-01", Action: domain.ActionView}); err != nil {
		t.Fatalf("track view: %v", err)
	}
	if _, err := svc.TrackBehavior(ctx, domain.BehaviorEventInput{UserID: "u1", ProductID: "PRD-BONG-02", Action: domain.ActionPurchase}); err != nil {
		t.Fatalf("track purchase: %v", err)
	}

	profile, err := svc.GetUserPreferences(ctx, "u1")
	if err != nil {
		t.Fatalf("get preferences: %v", err)
	}
	if profile == nil {
		t.Fatalf("expected profile after tracking")
	}
	count := 0
	for _, c := range profile.PreferredCategories {
		if c == "bongs" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected bongs exactly once, got %v", profile.PreferredCategories)
	}
}

func TestGetUserPreferencesAbsentIsNil(t *testing.T) {
	svc, _ := newTestService()
	profile, err := svc.GetUserPreferences(context.Background(), "stranger")
	if err != nil || profile != nil {
		t.Fatalf("expected nil profile without error, got %+v %v", profile, err)
	}
}

func TestGetRecommendationsValidatesBeforeLookup(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		strategy domain.StrategyType
		limit    int
	}{
		{strategy: "bestsellers", limit: 5},
		{strategy: domain.StrategyTrending, limit: 0},
		{strategy: domain.StrategyTrending, limit: -3},
		{strategy: domain.StrategySimilar, limit: 1000},
	}
	for _, tc := range cases {
		_, err := svc.GetRecommendations(ctx, "u1", tc.strategy, tc.limit)
		if !errors.Is(err, store.ErrInvalidArgument) {
			t.Fatalf("strategy=%q limit=%d: expected ErrInvalidArgument, got %v", tc.strategy, tc.limit, err)
		}
	}
}

func TestGetRecommendationsReportsCacheHits(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.GetRecommendations(ctx, "u1", domain.StrategyPersonalized, 5)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if first.Cached || len(first.ProductIDs) != 5 {
		t.Fatalf("unexpected first response: %+v", first)
	}
	// The seeded catalog features PRD-BONG-01 (5 days old) and PRD-BONG-04.
	if first.ProductIDs[0] != "PRD-BONG-01" {
		t.Fatalf("expected newest featured product first, got %v", first.ProductIDs)
	}

	second, err := svc.GetRecommendations(ctx, "u1", domain.StrategyPersonalized, 5)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if !second.Cached || strings.Join(second.ProductIDs, ",") != strings.Join(first.ProductIDs, ",") {
		t.Fatalf("expected identical cached response, got %+v", second)
	}
}

func TestTrendingEmptyWithoutEventsIsNotNil(t *testing.T) {
	svc, _ := newTestService()
	resp, err := svc.GetRecommendations(context.Background(), "", domain.StrategyTrending, 3)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if resp.ProductIDs == nil || len(resp.ProductIDs) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", resp.ProductIDs)
	}
}

func TestTrackBehaviorRejectsInvalidInput(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	if _, err := svc.TrackBehavior(ctx, domain.BehaviorEventInput{UserID: "u1"}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected missing action to be rejected, got %v", err)
	}
	if _, err := svc.TrackBehavior(ctx, domain.BehaviorEventInput{UserID: "u1", Action: "hover"}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected unknown action to be rejected, got %v", err)
	}
	if _, err := svc.TrackBehavior(ctx, domain.BehaviorEventInput{UserID: strings.Repeat("x", 200), Action: domain.ActionView}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected oversized user id to be rejected, got %v", err)
	}
	if repo.EventCount() != 0 {
		t.Fatalf("rejected events must not be stored")
	}
}

func TestGetUserBehaviorReturnsMostRecentFirst(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	for _, id := range []string{"PRD-PIPE-01", "PRD-PIPE-02", "PRD-VAPE-01"} {
		if _, err := svc.TrackBehavior(ctx, domain.BehaviorEventInput{UserID: "u1", ProductID: id, Action: domain.ActionView}); err != nil {
			t.Fatalf("track: %v", err)
		}
	}

	events, err := svc.GetUserBehavior(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("behavior: %v", err)
	}
	if len(events) != 2 || events[0].ProductID != "PRD-VAPE-01" || events[1].ProductID != "PRD-PIPE-02" {
		t.Fatalf("unexpected events: %+v", events)
	}

	if _, err := svc.GetUserBehavior(ctx, " ", 2); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected empty user id to be rejected, got %v", err)
	}
}

func TestUpdateUserPreferencesValidates(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	negative := int64(-5)
	if _, err := svc.UpdateUserPreferences(ctx, "u1", domain.PreferenceUpdate{PriceRangeMinCents: &negative}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected negative price to be rejected, got %v", err)
	}
	if _, err := svc.UpdateUserPreferences(ctx, "u1", domain.PreferenceUpdate{PreferredBrands: []string{""}}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Fatalf("expected empty brand to be rejected, got %v", err)
	}

	profile, err := svc.UpdateUserPreferences(ctx, "u1", domain.PreferenceUpdate{PreferredCategories: []string{"vapes"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(profile.PreferredCategories) != 1 || profile.PreferredCategories[0] != "vapes" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestProductSimilarityAndRebuild(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	edges, err := svc.GetProductSimilarity(ctx, "unknown-product", 5)
	if err != nil || len(edges) != 0 {
		t.Fatalf("expected no edges for unknown product, got %v %v", edges, err)
	}

	if _, err := svc.RebuildSimilarity(ctx); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected rebuild without admin to be forbidden, got %v", err)
	}

	for _, in := range []domain.BehaviorEventInput{
		{UserID: "u1", SessionID: "s1", ProductID: "PRD-BONG-02", Action: domain.ActionPurchase},
		{UserID: "u1", SessionID: "s1", ProductID: "PRD-PAPR-01", Action: domain.ActionPurchase},
	} {
		if _, err := svc.TrackBehavior(ctx, in); err != nil {
			t.Fatalf("track: %v", err)
		}
	}

	resp, err := svc.RebuildSimilarity(adminContext())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if resp.CoPurchaseEdges != 1 || resp.AttributeBasedEdges == 0 {
		t.Fatalf("unexpected rebuild result: %+v", resp)
	}

	edges, err = svc.GetProductSimilarity(ctx, "PRD-PAPR-01", 10)
	if err != nil {
		t.Fatalf("similarity: %v", err)
	}
	found := false
	for _, edge := range edges {
		if edge.SimilarityType == domain.SimilarityCoPurchase && edge.Other("PRD-PAPR-01") == "PRD-BONG-02" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected co-purchase edge, got %+v", edges)
	}
}

func TestListProductsFiltersByCategory(t *testing.T) {
	svc, _ := newTestService()
	products, err := svc.ListProducts(context.Background(), domain.ProductFilter{CategoryID: "vaporizers"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(products) == 0 {
		t.Fatalf("expected seeded vaporizers")
	}
	for _, p := range products {
		if p.CategoryID != "vaporizers" {
			t.Fatalf("unexpected product %+v", p)
		}
	}
}
