package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Recommend RecommendConfig `koanf:"recommend"`
	Auth      AuthConfig      `koanf:"auth"`
	Logging   LoggingConfig   `koanf:"logging"`
	Seed      SeedConfig      `koanf:"seed"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	LoginRateLimit  int           `koanf:"login_rate_limit"` // requests per minute per IP
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type RecommendConfig struct {
	CacheTTL           time.Duration `koanf:"cache_ttl"`
	TrendingWindow     time.Duration `koanf:"trending_window"`
	RecencyWindow      time.Duration `koanf:"recency_window"`
	SimilarSeedLimit   int           `koanf:"similar_seed_limit"`
	CategoryEventLimit int           `koanf:"category_event_limit"`
	NeighborLimit      int           `koanf:"neighbor_limit"`
	SimilarityType     string        `koanf:"similarity_type"`
	MaxEventsPerUser   int           `koanf:"max_events_per_user"`
	AnonymousRetention time.Duration `koanf:"anonymous_retention"`
	DefaultLimit       int           `koanf:"default_limit"`
	MaxLimit           int           `koanf:"max_limit"`
	RebuildWindow      time.Duration `koanf:"rebuild_window"`
}

type AuthConfig struct {
	Secret          string        `koanf:"secret"`
	TokenTTL        time.Duration `koanf:"token_ttl"`
	AdminUsername   string        `koanf:"admin_username"`
	AdminPassword   string        `koanf:"admin_password"`
	ServiceUsername string        `koanf:"service_username"`
	ServicePassword string        `koanf:"service_password"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type SeedConfig struct {
	Enabled     bool   `koanf:"enabled"`
	CatalogPath string `koanf:"catalog_path"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			AllowedOrigins:  []string{"http://127.0.0.1:3000"},
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			LoginRateLimit:  10,
		},
		Recommend: RecommendConfig{
			CacheTTL:           24 * time.Hour,
			TrendingWindow:     7 * 24 * time.Hour,
			RecencyWindow:      30 * 24 * time.Hour,
			SimilarSeedLimit:   20,
			CategoryEventLimit: 50,
			NeighborLimit:      50,
			MaxEventsPerUser:   500,
			AnonymousRetention: 90 * 24 * time.Hour,
			DefaultLimit:       10,
			MaxLimit:           100,
			RebuildWindow:      90 * 24 * time.Hour,
		},
		Auth: AuthConfig{
			TokenTTL:        8 * time.Hour,
			AdminUsername:   "admin",
			ServiceUsername: "storefront",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Seed: SeedConfig{
			Enabled: true,
		},
	}
}

// Load layers struct defaults, an optional YAML file and environment
// variables, in that order. A .env file in the working directory is read
// into the environment first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	if err := processSliceFields(k); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Auth.Secret = strings.TrimSpace(cfg.Auth.Secret)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Server.Port)
}

func (c Config) Validate() error {
	var errs []error
	r := c.Recommend
	if r.CacheTTL <= 0 {
		errs = append(errs, errors.New("recommend.cache_ttl must be positive"))
	}
	if r.TrendingWindow <= 0 {
		errs = append(errs, errors.New("recommend.trending_window must be positive"))
	}
	if r.RecencyWindow <= 0 {
		errs = append(errs, errors.New("recommend.recency_window must be positive"))
	}
	if r.RebuildWindow <= 0 {
		errs = append(errs, errors.New("recommend.rebuild_window must be positive"))
	}
	if r.AnonymousRetention < r.TrendingWindow {
		errs = append(errs, errors.New("recommend.anonymous_retention must cover recommend.trending_window"))
	}
	for name, v := range map[string]int{
		"similar_seed_limit":   r.SimilarSeedLimit,
		"category_event_limit": r.CategoryEventLimit,
		"neighbor_limit":       r.NeighborLimit,
		"max_events_per_user":  r.MaxEventsPerUser,
		"default_limit":        r.DefaultLimit,
		"max_limit":            r.MaxLimit,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("recommend.%s must be positive", name))
		}
	}
	if r.DefaultLimit > r.MaxLimit {
		errs = append(errs, errors.New("recommend.default_limit exceeds recommend.max_limit"))
	}
	switch r.SimilarityType {
	case "", "co-purchase", "attribute-based":
	default:
		errs = append(errs, fmt.Errorf("recommend.similarity_type %q is not supported", r.SimilarityType))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Server.LoginRateLimit <= 0 {
		errs = append(errs, errors.New("server.login_rate_limit must be positive"))
	}
	return errors.Join(errs...)
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{"server.allowed_origins"}

// processSliceFields splits comma-separated env values into string slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := make([]string, 0)
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"port":              "server.port",
	"allowed_origin":    "server.allowed_origins",
	"allowed_origins":   "server.allowed_origins",
	"database_url":      "database.url",
	"redis_addr":        "redis.addr",
	"redis_password":    "redis.password",
	"redis_db":          "redis.db",
	"auth_secret":       "auth.secret",
	"log_level":         "logging.level",
	"log_format":        "logging.format",
	"seed_catalog_path": "seed.catalog_path",
}

var envSections = []string{"server", "database", "redis", "recommend", "auth", "logging", "seed"}

// envTransformFunc maps PORT-style legacy names directly and SECTION_KEY
// names to section.key. Anything else is skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	for _, section := range envSections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok && rest != "" {
			return section + "." + rest
		}
	}
	return ""
}
