package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"storefront/backend/internal/cache"
	"storefront/backend/internal/config"
	"storefront/backend/internal/domain"
	"storefront/backend/internal/httpapi"
	"storefront/backend/internal/logging"
	"storefront/backend/internal/recommendation"
	"storefront/backend/internal/service"
	"storefront/backend/internal/store"
	"storefront/backend/internal/store/memory"
	pgstore "storefront/backend/internal/store/postgres"
)

const sweepInterval = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err := validateSecurityConfig(cfg); err != nil {
		logging.Fatal().Err(err).Msg("invalid security configuration")
	}
	log := logging.Component("server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("repository unavailable")
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	cacheStore, closeCache := openCache(ctx, cfg)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	rc := cfg.Recommend
	svc := service.New(repo, cacheStore, service.Options{
		Recommend: recommendation.Config{
			CacheTTL:           rc.CacheTTL,
			TrendingWindow:     rc.TrendingWindow,
			RecencyWindow:      rc.RecencyWindow,
			SimilarSeedLimit:   rc.SimilarSeedLimit,
			CategoryEventLimit: rc.CategoryEventLimit,
			NeighborLimit:      rc.NeighborLimit,
			SimilarityType:     rc.SimilarityType,
		},
		DefaultLimit:  rc.DefaultLimit,
		MaxLimit:      rc.MaxLimit,
		RebuildWindow: rc.RebuildWindow,
	})
	auth := httpapi.NewAuthManager(cfg.Auth.Secret, cfg.Auth.TokenTTL, []httpapi.Account{
		{Username: cfg.Auth.AdminUsername, Password: cfg.Auth.AdminPassword, Role: domain.RoleAdmin},
		{Username: cfg.Auth.ServiceUsername, Password: cfg.Auth.ServicePassword, Role: domain.RoleService},
	})
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		LoginRateLimit: cfg.Server.LoginRateLimit,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("storefront backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

// openRepository picks Postgres when a database URL is configured and never
// falls back to memory in that case.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	log := logging.Component("server")
	maxEvents := cfg.Recommend.MaxEventsPerUser

	if cfg.Database.URL != "" {
		pg, err := pgstore.New(ctx, cfg.Database.URL, maxEvents)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		pg.SetAnonymousRetention(cfg.Recommend.AnonymousRetention)
		log.Info().Str("repository", "postgres").Msg("repository ready")
		return pg, pg.Close, nil
	}

	repo := memory.New(maxEvents)
	repo.SetAnonymousRetention(cfg.Recommend.AnonymousRetention)
	if cfg.Seed.Enabled {
		seed := memory.DefaultSeed(time.Now().UTC())
		if path := strings.TrimSpace(cfg.Seed.CatalogPath); path != "" {
			loaded, err := memory.LoadSeedFile(path, time.Now().UTC())
			if err != nil {
				return nil, nil, err
			}
			seed = loaded
		}
		repo.ApplySeed(seed)
		log.Info().Int("products", len(seed.Products)).Int("similarities", len(seed.Similarities)).Msg("catalog seeded")
	}
	log.Info().Str("repository", "memory").Msg("repository ready")
	return repo, nil, nil
}

// openCache prefers Redis and degrades to the in-process cache when Redis is
// not configured or does not answer a ping.
func openCache(ctx context.Context, cfg config.Config) (cache.RecommendationCache, func() error) {
	log := logging.Component("server")

	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisRecommendationCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using memory cache")
			_ = redisCache.Close()
		} else {
			log.Info().Str("cache", "redis").Msg("cache ready")
			return redisCache, redisCache.Close
		}
	}

	memCache := cache.NewMemoryRecommendationCache(time.Now)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go memCache.RunSweeper(sweepCtx, sweepInterval)
	log.Info().Str("cache", "memory").Dur("sweep_interval", sweepInterval).Msg("cache ready")
	return memCache, func() error {
		stopSweeper()
		return nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	var errs []error
	if len(cfg.Auth.Secret) < 32 {
		errs = append(errs, errors.New("AUTH_SECRET must be set and at least 32 characters"))
	}
	if cfg.Auth.AdminPassword == "" && cfg.Auth.ServicePassword == "" {
		errs = append(errs, errors.New("at least one of AUTH_ADMIN_PASSWORD or AUTH_SERVICE_PASSWORD must be set"))
	}
	for name, password := range map[string]string{
		"AUTH_ADMIN_PASSWORD":   cfg.Auth.AdminPassword,
		"AUTH_SERVICE_PASSWORD": cfg.Auth.ServicePassword,
	} {
		if password != "" && !strings.HasPrefix(password, "$2") && len(password) < 12 {
			errs = append(errs, fmt.Errorf("%s must be a bcrypt hash or at least 12 characters", name))
		}
	}
	return errors.Join(errs...)
}
