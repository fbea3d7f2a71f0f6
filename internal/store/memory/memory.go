package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"storefront/backend/internal/domain"
	"storefront/backend/internal/store"
	"storefront/backend/internal/xid"
)

// compactMinArena keeps small logs from being rewritten on every drop.
const compactMinArena = 64

type eventSlot struct {
	event   domain.BehaviorEvent
	dropped bool
}

type edgeKey struct {
	a   string
	b   string
	typ string
}

// Store is the process-local repository. Behavior events live in an
// append-only arena indexed per user; the oldest events of a user are
// tombstoned past maxEventsPerUser, anonymous events once they are older
// than anonymousRetention, and the arena is compacted once tombstones
// outnumber live slots.
type Store struct {
	mu                 sync.RWMutex
	maxEventsPerUser   int
	anonymousRetention time.Duration

	products     map[string]domain.Product
	productOrder []string

	arena   []eventSlot
	byUser  map[string][]int
	dropped int

	preferences map[string]domain.UserPreferenceProfile

	edges     map[edgeKey]domain.ProductSimilarity
	byProduct map[string]map[edgeKey]struct{}
}

func New(maxEventsPerUser int) *Store {
	if maxEventsPerUser < 1 {
		maxEventsPerUser = store.DefaultMaxEventsPerUser
	}
	return &Store{
		maxEventsPerUser:   maxEventsPerUser,
		anonymousRetention: store.DefaultAnonymousRetention,
		products:           make(map[string]domain.Product),
		productOrder:       make([]string, 0, 64),
		arena:              make([]eventSlot, 0, 256),
		byUser:             make(map[string][]int),
		preferences:        make(map[string]domain.UserPreferenceProfile),
		edges:              make(map[edgeKey]domain.ProductSimilarity),
		byProduct:          make(map[string]map[edgeKey]struct{}),
	}
}

// SetAnonymousRetention changes how long anonymous events are kept,
// measured back from the newest anonymous event. Non-positive values
// restore the default.
func (s *Store) SetAnonymousRetention(window time.Duration) {
	if window <= 0 {
		window = store.DefaultAnonymousRetention
	}
	s.mu.Lock()
	s.anonymousRetention = window
	s.mu.Unlock()
}

// NewSeeded returns a store pre-populated with the demo catalog.
func NewSeeded(maxEventsPerUser int) *Store {
	s := New(maxEventsPerUser)
	s.ApplySeed(DefaultSeed(time.Now().UTC()))
	return s
}

// PutProduct inserts or replaces a catalog record. New products are appended
// to catalog order.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putProductLocked(product)
}

func (s *Store) putProductLocked(product domain.Product) {
	if _, exists := s.products[product.ID]; !exists {
		s.productOrder = append(s.productOrder, product.ID)
	}
	s.products[product.ID] = product
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category := strings.TrimSpace(filter.CategoryID)
	products := make([]domain.Product, 0, len(s.productOrder))
	for _, id := range s.productOrder {
		p := s.products[id]
		if !p.Active {
			continue
		}
		if category != "" && p.CategoryID != category {
			continue
		}
		products = append(products, p)
	}
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) AppendEvent(_ context.Context, event domain.BehaviorEvent) error {
	if !event.Action.IsValid() {
		return store.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(event.Metadata) > 0 {
		meta := make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			meta[k] = v
		}
		event.Metadata = meta
	}

	s.arena = append(s.arena, eventSlot{event: event})
	idx := len(s.arena) - 1
	bucket := append(s.byUser[event.UserID], idx)
	for len(bucket) > 0 && s.expiredLocked(event, bucket) {
		s.arena[bucket[0]].dropped = true
		s.arena[bucket[0]].event = domain.BehaviorEvent{}
		s.dropped++
		bucket = bucket[1:]
	}
	s.byUser[event.UserID] = bucket

	if len(s.arena) >= compactMinArena && s.dropped*2 > len(s.arena) {
		s.compactLocked()
	}
	return nil
}

// expiredLocked reports whether the oldest event of bucket must go now that
// newest has been appended to it.
func (s *Store) expiredLocked(newest domain.BehaviorEvent, bucket []int) bool {
	if newest.UserID != "" {
		return len(bucket) > s.maxEventsPerUser
	}
	oldest := s.arena[bucket[0]].event
	return newest.CreatedAt.Sub(oldest.CreatedAt) > s.anonymousRetention
}

func (s *Store) compactLocked() {
	arena := make([]eventSlot, 0, len(s.arena)-s.dropped)
	byUser := make(map[string][]int, len(s.byUser))
	for _, slot := range s.arena {
		if slot.dropped {
			continue
		}
		arena = append(arena, slot)
		byUser[slot.event.UserID] = append(byUser[slot.event.UserID], len(arena)-1)
	}
	s.arena = arena
	s.byUser = byUser
	s.dropped = 0
}

func (s *Store) ListUserEvents(_ context.Context, userID string, action domain.BehaviorAction, limit int) ([]domain.BehaviorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.byUser[userID]
	capacity := len(bucket)
	if limit > 0 && limit < capacity {
		capacity = limit
	}
	events := make([]domain.BehaviorEvent, 0, capacity)
	for i := len(bucket) - 1; i >= 0; i-- {
		event := s.arena[bucket[i]].event
		if action != "" && event.Action != action {
			continue
		}
		events = append(events, event)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

func (s *Store) ListEventsSince(_ context.Context, since time.Time, actions []domain.BehaviorAction) ([]domain.BehaviorEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]domain.BehaviorEvent, 0, 128)
	for _, slot := range s.arena {
		if slot.dropped || slot.event.CreatedAt.Before(since) {
			continue
		}
		if !store.ContainsAction(actions, slot.event.Action) {
			continue
		}
		events = append(events, slot.event)
	}
	return events, nil
}

// EventCount reports live events, mostly for tests and diagnostics.
func (s *Store) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arena) - s.dropped
}

func (s *Store) GetPreferences(_ context.Context, userID string) (*domain.UserPreferenceProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, exists := s.preferences[userID]
	if !exists {
		return nil, store.ErrNotFound
	}
	out := profile.Clone()
	return &out, nil
}

func (s *Store) SavePreferences(_ context.Context, profile domain.UserPreferenceProfile) error {
	if strings.TrimSpace(profile.UserID) == "" {
		return store.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.preferences[profile.UserID]; exists && profile.ID == "" {
		profile.ID = existing.ID
	}
	if profile.ID == "" {
		profile.ID = xid.New("pref")
	}
	s.preferences[profile.UserID] = profile.Clone()
	return nil
}

func (s *Store) ListSimilarities(_ context.Context, productID string, similarityType string) ([]domain.ProductSimilarity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.byProduct[productID]
	edges := make([]domain.ProductSimilarity, 0, len(keys))
	for key := range keys {
		if similarityType != "" && key.typ != similarityType {
			continue
		}
		edges = append(edges, s.edges[key])
	}
	slices.SortFunc(edges, func(a, b domain.ProductSimilarity) int {
		if c := strings.Compare(a.SimilarityType, b.SimilarityType); c != 0 {
			return c
		}
		if c := strings.Compare(a.ProductIDA, b.ProductIDA); c != 0 {
			return c
		}
		return strings.Compare(a.ProductIDB, b.ProductIDB)
	})
	return edges, nil
}

func (s *Store) UpsertSimilarities(_ context.Context, edges []domain.ProductSimilarity) error {
	for _, edge := range edges {
		if edge.ProductIDA == "" || edge.ProductIDB == "" || edge.ProductIDA == edge.ProductIDB || edge.SimilarityType == "" {
			return store.ErrInvalidArgument
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, edge := range edges {
		s.upsertEdgeLocked(edge)
	}
	return nil
}

func (s *Store) ReplaceSimilarities(_ context.Context, similarityType string, edges []domain.ProductSimilarity) error {
	if similarityType == "" {
		return store.ErrInvalidArgument
	}
	for _, edge := range edges {
		if edge.SimilarityType != similarityType || edge.ProductIDA == "" || edge.ProductIDB == "" || edge.ProductIDA == edge.ProductIDB {
			return store.ErrInvalidArgument
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.edges {
		if key.typ != similarityType {
			continue
		}
		delete(s.edges, key)
		s.unindexLocked(key.a, key)
		s.unindexLocked(key.b, key)
	}
	for _, edge := range edges {
		s.upsertEdgeLocked(edge)
	}
	return nil
}

func (s *Store) upsertEdgeLocked(edge domain.ProductSimilarity) {
	edge.ProductIDA, edge.ProductIDB = store.NormalizePair(edge.ProductIDA, edge.ProductIDB)
	key := edgeKey{a: edge.ProductIDA, b: edge.ProductIDB, typ: edge.SimilarityType}
	if existing, exists := s.edges[key]; exists {
		edge.ID = existing.ID
	}
	if edge.ID == "" {
		edge.ID = xid.New("sim")
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}
	s.edges[key] = edge
	s.indexLocked(key.a, key)
	s.indexLocked(key.b, key)
}

func (s *Store) indexLocked(productID string, key edgeKey) {
	bucket := s.byProduct[productID]
	if bucket == nil {
		bucket = make(map[edgeKey]struct{})
		s.byProduct[productID] = bucket
	}
	bucket[key] = struct{}{}
}

func (s *Store) unindexLocked(productID string, key edgeKey) {
	bucket := s.byProduct[productID]
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(s.byProduct, productID)
	}
}
