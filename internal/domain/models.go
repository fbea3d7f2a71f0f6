package domain

import "time"

type BehaviorAction string

const (
	ActionView           BehaviorAction = "view"
	ActionAddToCart      BehaviorAction = "add_to_cart"
	ActionRemoveFromCart BehaviorAction = "remove_from_cart"
	ActionPurchase       BehaviorAction = "purchase"
	ActionSearch         BehaviorAction = "search"
	ActionWishlist       BehaviorAction = "wishlist"
	ActionClick          BehaviorAction = "click"
)

func (a BehaviorAction) IsValid() bool {
	switch a {
	case ActionView, ActionAddToCart, ActionRemoveFromCart, ActionPurchase,
		ActionSearch, ActionWishlist, ActionClick:
		return true
	}
	return false
}

// TrendingActions are the actions tallied by the trending strategy.
var TrendingActions = []BehaviorAction{ActionView, ActionAddToCart, ActionPurchase}

type BehaviorEvent struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id,omitempty"`
	ProductID string            `json:"product_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Action    BehaviorAction    `json:"action"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type BehaviorEventInput struct {
	UserID    string            `json:"user_id" validate:"omitempty,max=128"`
	ProductID string            `json:"product_id" validate:"omitempty,max=128"`
	SessionID string            `json:"session_id" validate:"omitempty,max=128"`
	Action    BehaviorAction    `json:"action" validate:"required"`
	Metadata  map[string]string `json:"metadata,omitempty" validate:"omitempty,max=32"`
}

type UserPreferenceProfile struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	PreferredCategories []string  `json:"preferred_categories"`
	PreferredBrands     []string  `json:"preferred_brands"`
	PreferredMaterials  []string  `json:"preferred_materials"`
	PriceRangeMinCents  *int64    `json:"price_range_min_cents,omitempty"`
	PriceRangeMaxCents  *int64    `json:"price_range_max_cents,omitempty"`
	VIPProductsOnly     bool      `json:"vip_products_only"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share slices with a store.
func (p UserPreferenceProfile) Clone() UserPreferenceProfile {
	out := p
	out.PreferredCategories = append([]string(nil), p.PreferredCategories...)
	out.PreferredBrands = append([]string(nil), p.PreferredBrands...)
	out.PreferredMaterials = append([]string(nil), p.PreferredMaterials...)
	if p.PriceRangeMinCents != nil {
		v := *p.PriceRangeMinCents
		out.PriceRangeMinCents = &v
	}
	if p.PriceRangeMaxCents != nil {
		v := *p.PriceRangeMaxCents
		out.PriceRangeMaxCents = &v
	}
	return out
}

func (p UserPreferenceProfile) HasPriceRange() bool {
	return p.PriceRangeMinCents != nil && p.PriceRangeMaxCents != nil
}

// PreferenceUpdate is a caller-driven edit. Nil slices and pointers mean
// "not supplied"; an empty non-nil slice clears the set.
type PreferenceUpdate struct {
	PreferredCategories []string `json:"preferred_categories,omitempty" validate:"omitempty,max=64,dive,required,max=128"`
	PreferredBrands     []string `json:"preferred_brands,omitempty" validate:"omitempty,max=64,dive,required,max=128"`
	PreferredMaterials  []string `json:"preferred_materials,omitempty" validate:"omitempty,max=64,dive,required,max=128"`
	PriceRangeMinCents  *int64   `json:"price_range_min_cents,omitempty" validate:"omitempty,min=0"`
	PriceRangeMaxCents  *int64   `json:"price_range_max_cents,omitempty" validate:"omitempty,min=0"`
	VIPProductsOnly     *bool    `json:"vip_products_only,omitempty"`
	ClearPriceRange     bool     `json:"clear_price_range,omitempty"`
}

type Product struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	CategoryID   string    `json:"category_id" yaml:"category_id"`
	BrandID      string    `json:"brand_id,omitempty" yaml:"brand_id"`
	Material     string    `json:"material,omitempty" yaml:"material"`
	PriceCents   int64     `json:"price_cents" yaml:"price_cents"`
	Featured     bool      `json:"featured" yaml:"featured"`
	VIPExclusive bool      `json:"vip_exclusive" yaml:"vip_exclusive"`
	Active       bool      `json:"active" yaml:"active"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

type ProductFilter struct {
	CategoryID string
}

const (
	SimilarityCoPurchase     = "co-purchase"
	SimilarityAttributeBased = "attribute-based"
)

type ProductSimilarity struct {
	ID              string    `json:"id"`
	ProductIDA      string    `json:"product_id_a" yaml:"product_id_a"`
	ProductIDB      string    `json:"product_id_b" yaml:"product_id_b"`
	SimilarityType  string    `json:"similarity_type" yaml:"similarity_type"`
	SimilarityScore float64   `json:"similarity_score" yaml:"similarity_score"`
	CreatedAt       time.Time `json:"created_at"`
}

// Other returns the product on the opposite side of the edge from productID.
func (s ProductSimilarity) Other(productID string) string {
	if s.ProductIDA == productID {
		return s.ProductIDB
	}
	return s.ProductIDA
}

type SimilarityNeighbor struct {
	ProductID string  `json:"product_id"`
	Score     float64 `json:"score"`
}

type StrategyType string

const (
	StrategyTrending      StrategyType = "trending"
	StrategyPersonalized  StrategyType = "personalized"
	StrategySimilar       StrategyType = "similar"
	StrategyCategoryBased StrategyType = "category_based"
)

func (s StrategyType) IsValid() bool {
	switch s {
	case StrategyTrending, StrategyPersonalized, StrategySimilar, StrategyCategoryBased:
		return true
	}
	return false
}

type RecommendationCacheEntry struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	Strategy   StrategyType `json:"strategy"`
	ProductIDs []string     `json:"product_ids"`
	Score      *float64     `json:"score,omitempty"`
	ExpiresAt  time.Time    `json:"expires_at"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (e RecommendationCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

type RecommendationResponse struct {
	UserID      string       `json:"user_id"`
	Strategy    StrategyType `json:"strategy"`
	ProductIDs  []string     `json:"product_ids"`
	Cached      bool         `json:"cached"`
	GeneratedAt time.Time    `json:"generated_at"`
}

type SimilarityRebuildResponse struct {
	CoPurchaseEdges     int       `json:"co_purchase_edges"`
	AttributeBasedEdges int       `json:"attribute_based_edges"`
	RebuiltAt           time.Time `json:"rebuilt_at"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

const (
	RoleAdmin   = "admin"
	RoleService = "service"
)
