package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	apperrors "github.com/mkurata/gh-lang-stats/internal/errors"
)

// Config holds the application configuration, loaded from the environment
// with an optional .env overlay.
type Config struct {
	// GitHub. Only collection needs the token; cached re-aggregation and
	// the API server run without one.
	GithubToken string `envconfig:"GITHUB_TOKEN"`

	// Storage
	StorageType string `envconfig:"STORAGE_TYPE" default:"jsonfile" validate:"oneof=jsonfile sqlite postgres"`
	CacheDir    string `envconfig:"CACHE_DIR" default:".gh-lang-stats"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"./gh-lang-stats.db"`
	PostgresURL string `envconfig:"POSTGRES_URL"`

	// Collection
	SinceYear   int `envconfig:"SINCE_YEAR" default:"2008" validate:"gt=1969"`
	Concurrency int `envconfig:"CONCURRENCY" default:"5" validate:"gt=0"`

	// API server
	APIHost string `envconfig:"API_HOST" default:"localhost"`
	APIPort string `envconfig:"API_PORT" default:"8080"`
}

// Load reads configuration from the environment. A missing .env file is not
// an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, apperrors.NewBadConfigError("failed to read environment", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, apperrors.NewBadConfigError("invalid configuration", err)
	}
	if cfg.StorageType == "postgres" && cfg.PostgresURL == "" {
		return nil, apperrors.NewBadConfigError("POSTGRES_URL is required when STORAGE_TYPE is 'postgres'", nil)
	}
	return &cfg, nil
}

// RequireToken fails when no GitHub token is configured. Called by commands
// that talk to the API.
func (c *Config) RequireToken() error {
	if c.GithubToken == "" {
		return apperrors.NewBadConfigError("GITHUB_TOKEN is required", nil)
	}
	return nil
}
