// Package config
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvDatabaseURL  = "DATABASE_URL"
	EnvPlacesAPIKey = "PLACES_API_KEY"
)

type Config struct {
	DatabaseURL  string
	PlacesAPIKey string

	// Batch driver
	BatchSize      int
	PerRunLimit    int
	ItemDelay      time.Duration
	BatchDelay     time.Duration
	DelayJitter    float64
	MaxCycles      int
	LoopInterval   time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	ProgressDir    string
	FetchTimeout   time.Duration
	DBMaxConns     int32
	InspectSites   bool
	ReconcileEvery time.Duration

	// Places lookups
	PlacesBaseURL     string
	PlacesRPS         float64
	PlacesBurst       int
	LookupConcurrency int
	NearbyMaxResults  int
	SearchRadius      int
	SearchMaxRadius   int

	// Logging
	LogFile  string
	LogLevel string

	MetricsAddr string

	// Redis lookup cache; empty RedisAddr disables it.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
}

// Load reads configuration from the environment. Any variable named in
// required that is unset or empty is reported in a single error.
func Load(required ...string) (Config, error) {
	cfg := Config{}
	var missingVars []string

	cfg.DatabaseURL = getEnv(EnvDatabaseURL, "")
	cfg.PlacesAPIKey = getEnv(EnvPlacesAPIKey, "")

	for _, key := range required {
		if strings.TrimSpace(os.Getenv(key)) == "" {
			missingVars = append(missingVars, key)
		}
	}
	if len(missingVars) > 0 {
		return cfg, fmt.Errorf("missing required environment variables: %s", strings.Join(missingVars, ", "))
	}

	cfg.BatchSize = getInt("BATCH_SIZE", 5)
	cfg.PerRunLimit = getInt("PER_RUN_LIMIT", 100)
	cfg.ItemDelay = getDuration("ITEM_DELAY", 500*time.Millisecond)
	cfg.BatchDelay = getDuration("BATCH_DELAY", 5*time.Second)
	cfg.DelayJitter = getFloat("DELAY_JITTER", 0.2)
	cfg.MaxCycles = getInt("MAX_CYCLES", 1000)
	cfg.LoopInterval = getDuration("LOOP_INTERVAL", 30*time.Second)
	cfg.MaxRetries = getInt("MAX_RETRIES", 5)
	cfg.BackoffBase = getDuration("BACKOFF_BASE", 2*time.Second)
	cfg.BackoffMax = getDuration("BACKOFF_MAX", 2*time.Minute)
	cfg.ProgressDir = getEnv("PROGRESS_DIR", "progress")
	cfg.FetchTimeout = getDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.DBMaxConns = int32(getInt("DB_MAX_CONNS", 4))
	cfg.InspectSites = getBool("INSPECT_WEBSITES", false)
	cfg.ReconcileEvery = getDuration("RECONCILE_INTERVAL", 15*time.Minute)

	cfg.PlacesBaseURL = getEnv("PLACES_BASE_URL", "https://maps.googleapis.com/maps/api")
	cfg.PlacesRPS = getFloat("PLACES_RPS", 5)
	cfg.PlacesBurst = getInt("PLACES_BURST", 2)
	cfg.LookupConcurrency = getInt("LOOKUP_CONCURRENCY", 3)
	cfg.NearbyMaxResults = getInt("NEARBY_MAX_RESULTS", 5)
	cfg.SearchRadius = getInt("SEARCH_RADIUS", 1500)
	cfg.SearchMaxRadius = getInt("SEARCH_MAX_RADIUS", 8000)

	cfg.LogFile = getEnv("LOG_FILE", "logs/importer.log")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getInt("REDIS_DB", 0)
	cfg.CacheTTL = getDuration("CACHE_TTL", 7*24*time.Hour)

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", raw, "default", defaultVal)
		return defaultVal
	}
	return v
}

func getFloat(key string, defaultVal float64) float64 {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("Invalid number in environment, using default", "key", key, "value", raw, "default", defaultVal)
		return defaultVal
	}
	return v
}

func getBool(key string, defaultVal bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("Invalid boolean in environment, using default", "key", key, "value", raw, "default", defaultVal)
		return defaultVal
	}
	return v
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration in environment, using default", "key", key, "value", raw, "default", defaultVal)
		return defaultVal
	}
	return v
}
