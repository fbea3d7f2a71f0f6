package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"storefront/backend/internal/behavior"
	"storefront/backend/internal/cache"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/logging"
	"storefront/backend/internal/preference"
	"storefront/backend/internal/recommendation"
	"storefront/backend/internal/similarity"
	"storefront/backend/internal/store"
)

var ErrForbidden = errors.New("forbidden")

var validate = validator.New()

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Recommend     recommendation.Config
	DefaultLimit  int
	MaxLimit      int
	RebuildWindow time.Duration
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = 10
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = 100
	}
	if o.DefaultLimit > o.MaxLimit {
		o.DefaultLimit = o.MaxLimit
	}
	if o.Recommend.FillLimit <= 0 {
		o.Recommend.FillLimit = o.MaxLimit
	}
	if o.RebuildWindow <= 0 {
		o.RebuildWindow = 90 * 24 * time.Hour
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Service struct {
	repo        store.Repository
	tracker     *behavior.Tracker
	preferences *preference.Engine
	similarity  *similarity.Index
	recommender *recommendation.Engine
	opts        Options
}

func New(repo store.Repository, cacheStore cache.RecommendationCache, opts Options) *Service {
	opts = opts.withDefaults()
	prefs := preference.NewEngine(repo, opts.Now)
	index := similarity.NewIndex(repo, repo, repo, opts.Now)

	return &Service{
		repo:        repo,
		tracker:     behavior.NewTracker(repo, repo, prefs, opts.Now),
		preferences: prefs,
		similarity:  index,
		recommender: recommendation.NewEngine(repo, repo, prefs, index, cacheStore, opts.Recommend, opts.Now),
		opts:        opts,
	}
}

func (s *Service) DefaultLimit() int {
	return s.opts.DefaultLimit
}

func (s *Service) TrackBehavior(ctx context.Context, input domain.BehaviorEventInput) (domain.BehaviorEvent, error) {
	if err := validateStruct(input); err != nil {
		return domain.BehaviorEvent{}, err
	}
	return s.tracker.Track(ctx, input)
}

func (s *Service) GetUserBehavior(ctx context.Context, userID string, limit int) ([]domain.BehaviorEvent, error) {
	userID, err := requireID("user id", userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkLimit(limit); err != nil {
		return nil, err
	}
	return s.tracker.Recent(ctx, userID, limit)
}

// GetUserPreferences returns nil without error when the user has no profile.
func (s *Service) GetUserPreferences(ctx context.Context, userID string) (*domain.UserPreferenceProfile, error) {
	userID, err := requireID("user id", userID)
	if err != nil {
		return nil, err
	}
	profile, err := s.preferences.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return profile, err
}

func (s *Service) UpdateUserPreferences(ctx context.Context, userID string, update domain.PreferenceUpdate) (domain.UserPreferenceProfile, error) {
	userID, err := requireID("user id", userID)
	if err != nil {
		return domain.UserPreferenceProfile{}, err
	}
	if err := validateStruct(update); err != nil {
		return domain.UserPreferenceProfile{}, err
	}
	return s.preferences.Update(ctx, userID, update)
}

func (s *Service) GetRecommendations(ctx context.Context, userID string, strategy domain.StrategyType, limit int) (domain.RecommendationResponse, error) {
	if !strategy.IsValid() {
		return domain.RecommendationResponse{}, fmt.Errorf("unsupported recommendation type %q: %w", strategy, store.ErrInvalidArgument)
	}
	if err := s.checkLimit(limit); err != nil {
		return domain.RecommendationResponse{}, err
	}
	userID = strings.TrimSpace(userID)

	ids, cached, err := s.recommender.Recommend(ctx, userID, strategy, limit)
	if err != nil {
		return domain.RecommendationResponse{}, err
	}
	if ids == nil {
		ids = []string{}
	}
	return domain.RecommendationResponse{
		UserID:      userID,
		Strategy:    strategy,
		ProductIDs:  ids,
		Cached:      cached,
		GeneratedAt: s.opts.Now().UTC(),
	}, nil
}

func (s *Service) GetProductSimilarity(ctx context.Context, productID string, limit int) ([]domain.ProductSimilarity, error) {
	productID, err := requireID("product id", productID)
	if err != nil {
		return nil, err
	}
	if err := s.checkLimit(limit); err != nil {
		return nil, err
	}
	return s.similarity.Edges(ctx, productID, limit)
}

// PutSimilarities ingests externally computed edges.
func (s *Service) PutSimilarities(ctx context.Context, edges []domain.ProductSimilarity) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	return s.similarity.Put(ctx, edges...)
}

func (s *Service) RebuildSimilarity(ctx context.Context) (domain.SimilarityRebuildResponse, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.SimilarityRebuildResponse{}, err
	}
	now := s.opts.Now().UTC()
	result, err := s.similarity.Rebuild(ctx, now.Add(-s.opts.RebuildWindow))
	if err != nil {
		return domain.SimilarityRebuildResponse{}, err
	}
	actor, _ := ActorFromContext(ctx)
	logging.Ctx(ctx).Info().
		Str("actor", actor.Username).
		Int("co_purchase_edges", result.CoPurchaseEdges).
		Int("attribute_based_edges", result.AttributeBasedEdges).
		Msg("similarity rebuild requested")
	return domain.SimilarityRebuildResponse{
		CoPurchaseEdges:     result.CoPurchaseEdges,
		AttributeBasedEdges: result.AttributeBasedEdges,
		RebuiltAt:           now,
	}, nil
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	filter.CategoryID = strings.TrimSpace(filter.CategoryID)
	return s.repo.ListProducts(ctx, filter)
}

func (s *Service) checkLimit(limit int) error {
	if limit <= 0 || limit > s.opts.MaxLimit {
		return fmt.Errorf("limit must be between 1 and %d: %w", s.opts.MaxLimit, store.ErrInvalidArgument)
	}
	return nil
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required: %w", ErrForbidden)
	}
	return nil
}

func requireID(name string, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s is required: %w", name, store.ErrInvalidArgument)
	}
	return value, nil
}

// validateStruct reports the first failing field as an invalid argument.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("field %s failed %q validation: %w", fe.Field(), fe.Tag(), store.ErrInvalidArgument)
	}
	return fmt.Errorf("%v: %w", err, store.ErrInvalidArgument)
}
