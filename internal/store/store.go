package store

import (
	"context"
	"errors"
	"time"

	"storefront/backend/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
)

// DefaultMaxEventsPerUser bounds the behavior log kept for a single user.
const DefaultMaxEventsPerUser = 500

// DefaultAnonymousRetention bounds anonymous events by age instead of count.
// Anonymous traffic shares one log, and trending tallies it globally.
const DefaultAnonymousRetention = 90 * 24 * time.Hour

// Catalog is the read-only product view the engine scores against.
type Catalog interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type BehaviorStore interface {
	AppendEvent(ctx context.Context, event domain.BehaviorEvent) error
	// ListUserEvents returns the user's events most-recent-first. An empty
	// action matches every action.
	ListUserEvents(ctx context.Context, userID string, action domain.BehaviorAction, limit int) ([]domain.BehaviorEvent, error)
	// ListEventsSince returns events created at or after since, in insertion order.
	ListEventsSince(ctx context.Context, since time.Time, actions []domain.BehaviorAction) ([]domain.BehaviorEvent, error)
}

type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID string) (*domain.UserPreferenceProfile, error)
	SavePreferences(ctx context.Context, profile domain.UserPreferenceProfile) error
}

type SimilarityStore interface {
	// ListSimilarities returns edges touching productID on either side. An
	// empty similarityType matches every type.
	ListSimilarities(ctx context.Context, productID string, similarityType string) ([]domain.ProductSimilarity, error)
	UpsertSimilarities(ctx context.Context, edges []domain.ProductSimilarity) error
	// ReplaceSimilarities drops every edge of similarityType and stores edges instead.
	ReplaceSimilarities(ctx context.Context, similarityType string, edges []domain.ProductSimilarity) error
}

type Repository interface {
	Catalog
	BehaviorStore
	PreferenceStore
	SimilarityStore
}

// NormalizePair orders a product pair by byte value so a symmetric edge is
// stored once. The Postgres schema checks the same order under COLLATE "C".
func NormalizePair(a string, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

func ContainsAction(actions []domain.BehaviorAction, action domain.BehaviorAction) bool {
	if len(actions) == 0 {
		return true
	}
	for _, candidate := range actions {
		if candidate == action {
			return true
		}
	}
	return false
}
