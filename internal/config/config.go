// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/engine and cmd/prospect.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Tier registry — one immutable record per subscription tier
// --------------------------------------------------------------------------

// TierConfig holds the limits and matching parameters for one subscription
// tier. A zero MaxPerDay or MaxPerHour means unlimited.
type TierConfig struct {
	ID            string
	RadiusMeters  float64
	MaxPerDay     int
	MaxPerHour    int
	MinCooldown   time.Duration
	ContextDelay  time.Duration
	MinMatchScore float64
}

// TierRegistry maps tier IDs to their immutable configuration.
var TierRegistry = map[string]TierConfig{
	"prospector": {
		ID:            "prospector",
		RadiusMeters:  5000,
		MaxPerDay:     5,
		MaxPerHour:    2,
		MinCooldown:   15 * time.Minute,
		ContextDelay:  60 * time.Minute,
		MinMatchScore: 40,
	},
	"investor": {
		ID:            "investor",
		RadiusMeters:  20000,
		MaxPerDay:     20,
		MaxPerHour:    5,
		MinCooldown:   5 * time.Minute,
		ContextDelay:  30 * time.Minute,
		MinMatchScore: 60,
	},
	"developer": {
		ID:            "developer",
		RadiusMeters:  50000,
		MaxPerDay:     0, // unlimited
		MaxPerHour:    0, // unlimited
		MinCooldown:   1 * time.Minute,
		ContextDelay:  15 * time.Minute,
		MinMatchScore: 50,
	},
}

// DefaultTier is the lowest-privilege tier; unknown tier IDs fall back to it.
const DefaultTier = "prospector"

// TierFor looks up a tier config. Unknown IDs return the prospector defaults
// and false.
func TierFor(id string) (TierConfig, bool) {
	if tc, ok := TierRegistry[id]; ok {
		return tc, true
	}
	return TierRegistry[DefaultTier], false
}

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database (empty = in-memory state only)
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Listings check service
	ListingsBaseURL string
	ListingsAPIKey  string
	ListingsTimeout time.Duration

	// Push delivery (empty credentials = disabled)
	PushCredentialsFile string

	// Movement detection
	MovementThresholdMeters float64
	DwellTime               time.Duration
	MovingSpeedThreshold    float64 // m/s

	// Delivery timing
	DwellDelay     time.Duration
	BatchWindow    time.Duration
	SmartDelayMin  time.Duration
	SmartDelayMax  time.Duration
	RecentOpenPush time.Duration // extra delay when the app was just opened

	// Foreground suppression (throttle authority for the active-app decision)
	SuppressForeground bool

	// Maintenance
	RetentionSweepInterval  time.Duration
	ProfileFlushInterval    time.Duration
	SessionEvictionInterval time.Duration
	SessionIdleTimeout      time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	return &Config{
		DatabaseURL:    envOr("DATABASE_URL", ""),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:19006",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		ListingsBaseURL: envOr("LISTINGS_API_BASE_URL", ""),
		ListingsAPIKey:  envOr("LISTINGS_API_KEY", ""),
		ListingsTimeout: time.Duration(envInt("LISTINGS_TIMEOUT_SECONDS", 15)) * time.Second,

		PushCredentialsFile: envOr("PUSH_CREDENTIALS_FILE", ""),

		MovementThresholdMeters: envFloat("MOVEMENT_THRESHOLD_METERS", 500),
		DwellTime:               time.Duration(envInt("DWELL_TIME_SECONDS", 180)) * time.Second,
		MovingSpeedThreshold:    envFloat("MOVING_SPEED_THRESHOLD", 2.5),

		DwellDelay:     time.Duration(envInt("DWELL_DELAY_SECONDS", 180)) * time.Second,
		BatchWindow:    time.Duration(envInt("BATCH_WINDOW_SECONDS", 3600)) * time.Second,
		SmartDelayMin:  time.Duration(envInt("SMART_DELAY_MIN_SECONDS", 120)) * time.Second,
		SmartDelayMax:  time.Duration(envInt("SMART_DELAY_MAX_SECONDS", 300)) * time.Second,
		RecentOpenPush: time.Duration(envInt("RECENT_OPEN_PUSH_SECONDS", 60)) * time.Second,

		SuppressForeground: envBool("SUPPRESS_FOREGROUND", true),

		RetentionSweepInterval:  time.Duration(envInt("RETENTION_SWEEP_MINUTES", 30)) * time.Minute,
		ProfileFlushInterval:    time.Duration(envInt("PROFILE_FLUSH_MINUTES", 5)) * time.Minute,
		SessionEvictionInterval: time.Duration(envInt("SESSION_EVICTION_MINUTES", 15)) * time.Minute,
		SessionIdleTimeout:      time.Duration(envInt("SESSION_IDLE_MINUTES", 120)) * time.Minute,
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
