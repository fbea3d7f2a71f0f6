package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
)

func newIntegrationStore(t *testing.T, maxEvents int) *Store {
	t.Helper()

	databaseURL := os.Getenv("STOREFRONT_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set STOREFRONT_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, maxEvents)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestAppendEventPrunesPerUser(t *testing.T) {
	s := newIntegrationStore(t, 2)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	userID := fmt.Sprintf("it-user-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM behavior_events WHERE user_id = $1`, userID)
	})

	for i := 0; i < 4; i++ {
		err := s.AppendEvent(ctx, domain.BehaviorEvent{
			ID:        fmt.Sprintf("it-ev-%d-%d", stamp, i),
			UserID:    userID,
			ProductID: "it-product",
			Action:    domain.ActionView,
			Metadata:  map[string]string{"source": "it"},
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	events, err := s.ListUserEvents(ctx, userID, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 retained events, got %d", len(events))
	}
	if events[0].ID != fmt.Sprintf("it-ev-%d-3", stamp) || events[0].Metadata["source"] != "it" {
		t.Fatalf("unexpected newest event: %+v", events[0])
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	s := newIntegrationStore(t, 0)
	ctx := context.Background()

	userID := fmt.Sprintf("it-pref-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM user_preferences WHERE user_id = $1`, userID)
	})

	if _, err := s.GetPreferences(ctx, userID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	minPrice := int64(1000)
	err := s.SavePreferences(ctx, domain.UserPreferenceProfile{
		UserID:              userID,
		PreferredCategories: []string{"bongs"},
		PriceRangeMinCents:  &minPrice,
		UpdatedAt:           time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	profile, err := s.GetPreferences(ctx, userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(profile.PreferredCategories) != 1 || profile.PriceRangeMinCents == nil || *profile.PriceRangeMinCents != 1000 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.PriceRangeMaxCents != nil || len(profile.PreferredBrands) != 0 {
		t.Fatalf("expected empty defaults, got %+v", profile)
	}
}

func TestSimilarityQueriedFromEitherSide(t *testing.T) {
	s := newIntegrationStore(t, 0)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	a := fmt.Sprintf("it-sim-a-%d", stamp)
	b := fmt.Sprintf("it-sim-b-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM product_similarities WHERE product_id_a = $1 OR product_id_b = $1`, a)
	})

	err := s.UpsertSimilarities(ctx, []domain.ProductSimilarity{
		{ProductIDA: b, ProductIDB: a, SimilarityType: "it-type", SimilarityScore: 0.42},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for _, id := range []string{a, b} {
		edges, err := s.ListSimilarities(ctx, id, "it-type")
		if err != nil {
			t.Fatalf("list %s: %v", id, err)
		}
		if len(edges) != 1 || edges[0].ProductIDA != a {
			t.Fatalf("expected normalized edge from %s, got %+v", id, edges)
		}
	}
}

func TestSimilarityPairsUseByteOrder(t *testing.T) {
	s := newIntegrationStore(t, 0)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	pairs := [][2]string{
		{fmt.Sprintf("a-%d", stamp), fmt.Sprintf("B-%d", stamp)},
		{fmt.Sprintf("it-p1-%d", stamp), fmt.Sprintf("it-p-10-%d", stamp)},
	}
	t.Cleanup(func() {
		for _, pair := range pairs {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM product_similarities WHERE product_id_a = $1 OR product_id_b = $1`, pair[0])
		}
	})

	for _, pair := range pairs {
		err := s.UpsertSimilarities(ctx, []domain.ProductSimilarity{
			{ProductIDA: pair[0], ProductIDB: pair[1], SimilarityType: "it-collation", SimilarityScore: 0.5},
		})
		if err != nil {
			t.Fatalf("upsert %v: %v", pair, err)
		}
		wantA, wantB := store.NormalizePair(pair[0], pair[1])
		for _, id := range pair {
			edges, err := s.ListSimilarities(ctx, id, "it-collation")
			if err != nil {
				t.Fatalf("list %s: %v", id, err)
			}
			if len(edges) != 1 || edges[0].ProductIDA != wantA || edges[0].ProductIDB != wantB {
				t.Fatalf("expected edge %s-%s from %s, got %+v", wantA, wantB, id, edges)
			}
		}
	}
}

func TestAnonymousEventsPrunedByAge(t *testing.T) {
	s := newIntegrationStore(t, 2)
	s.SetAnonymousRetention(time.Hour)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	product := fmt.Sprintf("it-anon-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM behavior_events WHERE product_id = $1`, product)
	})

	base := time.Now().UTC().Add(-10 * time.Hour)
	offsets := []time.Duration{0, 10 * time.Minute, 20 * time.Minute, 30 * time.Minute, 3 * time.Hour}
	for i, offset := range offsets {
		err := s.AppendEvent(ctx, domain.BehaviorEvent{
			ID:        fmt.Sprintf("it-anon-ev-%d-%d", stamp, i),
			ProductID: product,
			Action:    domain.ActionView,
			CreatedAt: base.Add(offset),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if i == 3 {
			events, err := s.ListEventsSince(ctx, base, nil)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if got := countProduct(events, product); got != 4 {
				t.Fatalf("expected anonymous events to ignore the per-user cap, got %d", got)
			}
		}
	}

	events, err := s.ListEventsSince(ctx, base, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := countProduct(events, product); got != 1 {
		t.Fatalf("expected anonymous events older than an hour to be pruned, got %d", got)
	}
}

func countProduct(events []domain.BehaviorEvent, productID string) int {
	n := 0
	for _, event := range events {
		if event.ProductID == productID {
			n++
		}
	}
	return n
}
