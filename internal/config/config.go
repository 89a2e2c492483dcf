// Package config reads process configuration from the environment, after
// loading an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Rule sources.
const (
	RulesMemory   = "memory"
	RulesPostgres = "postgres"
)

// Config holds every setting of the server, worker and CLI binaries. Each
// binary reads only the fields it needs.
type Config struct {
	DatabaseURL  string
	Port         string
	JWTSecret    string
	TokenTTL     time.Duration
	RedisAddr    string
	UserCacheTTL time.Duration
	UploadDir    string
	MaxUpload    int64
	SpecsDir     string
	RulesSource  string
	APIURL       string
	Token        string
}

// Load reads the given .env files (".env" when none are given; a missing
// file is not an error) and then the environment.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Port:        getenv("PORT", "8080"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		UploadDir:   getenv("UPLOAD_DIR", "uploads"),
		SpecsDir:    os.Getenv("SPECS_DIR"),
		RulesSource: strings.ToLower(getenv("RULES_SOURCE", RulesPostgres)),
		APIURL:      getenv("LEXIFY_API_URL", "http://localhost:8080"),
		Token:       os.Getenv("LEXIFY_TOKEN"),
	}

	var err error
	if cfg.TokenTTL, err = durationEnv("TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.UserCacheTTL, err = durationEnv("USER_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxUpload, err = intEnv("MAX_UPLOAD_BYTES", 50<<20); err != nil {
		return nil, err
	}

	if cfg.RulesSource != RulesMemory && cfg.RulesSource != RulesPostgres {
		return nil, fmt.Errorf("RULES_SOURCE must be %q or %q, got %q", RulesMemory, RulesPostgres, cfg.RulesSource)
	}
	return cfg, nil
}

// RequireServer checks the settings the HTTP server and worker cannot run
// without.
func (c *Config) RequireServer() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}
