// Package config loads runtime configuration from the environment.
// A .env file in the working directory is honored for development;
// real environment variables always win.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const envPrefix = "HUSTL_"

// Config holds everything the CLI and the billing manager need at startup.
type Config struct {
	// APIKey authenticates against the billing backend. Required unless
	// MockMode is set.
	APIKey string

	// GatewayURL is the base URL of the billing backend.
	GatewayURL string

	// DataDir holds local state, currently the ownership snapshot database.
	DataDir string

	LogLevel  string
	LogFormat string

	// MockMode swaps the REST gateway for the deterministic in-memory one.
	MockMode bool

	// CatalogMaxAge bounds how stale a cached product catalog may be when
	// served as a fallback after a failed refresh. Zero means no bound.
	CatalogMaxAge time.Duration
}

// Load builds a Config from defaults, an optional .env file, and the
// HUSTL_* environment variables, then validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg := defaults()

	cfg.APIKey = getEnv("API_KEY", cfg.APIKey)
	cfg.GatewayURL = strings.TrimRight(getEnv("GATEWAY_URL", cfg.GatewayURL), "/")
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.MockMode = getEnvBool("MOCK_MODE", cfg.MockMode)

	if raw := getEnv("CATALOG_MAX_AGE", ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %sCATALOG_MAX_AGE %q: %w", envPrefix, raw, err)
		}
		cfg.CatalogMaxAge = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	dataDir := "/var/lib/hustl"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".hustl")
	}
	return &Config{
		GatewayURL: "https://billing.hustl.app",
		DataDir:    dataDir,
		LogLevel:   "info",
		LogFormat:  "auto",
	}
}

// Validate rejects configurations the manager cannot start with.
func (c *Config) Validate() error {
	if !c.MockMode && strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%sAPI_KEY is required unless %sMOCK_MODE is enabled", envPrefix, envPrefix)
	}
	if !c.MockMode && !strings.HasPrefix(c.GatewayURL, "http://") && !strings.HasPrefix(c.GatewayURL, "https://") {
		return fmt.Errorf("invalid %sGATEWAY_URL %q", envPrefix, c.GatewayURL)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%sDATA_DIR must not be empty", envPrefix)
	}
	if c.CatalogMaxAge < 0 {
		return fmt.Errorf("%sCATALOG_MAX_AGE must not be negative", envPrefix)
	}
	return nil
}

// SnapshotPath is where the ownership snapshot database lives under DataDir.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "ownership.db")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("key", envPrefix+key).Str("value", raw).Msg("Invalid boolean value, ignoring")
		return fallback
	}
	return v
}
