package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by PENNY_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("PENNY_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func getFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func MigrationsPath() string {
	return getString("MIGRATIONS_PATH", "migrations")
}

// APIKey is the bearer token required on /v1 routes. Empty disables auth.
func APIKey() string {
	return os.Getenv("PENNY_API_KEY")
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps := getFloat("RATE_LIMIT_RPS", 100)
	if rps == 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst := getInt("RATE_LIMIT_BURST", 20)
	if burst == 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	return getString("LOG_LEVEL", "info")
}

// MetricsEnabled turns Prometheus collection on. Defaults to true.
func MetricsEnabled() bool {
	v, err := strconv.ParseBool(os.Getenv("METRICS_ENABLED"))
	if err != nil {
		return true
	}
	return v
}

func VocabLearningRate() float64    { return getFloat("VOCAB_LEARNING_RATE", 0.1) }
func VocabCompetitiveRate() float64 { return getFloat("VOCAB_COMPETITIVE_RATE", 0.05) }
func VocabDecayRate() float64       { return getFloat("VOCAB_DECAY_RATE", 0.01) }

func DimensionLearningRate() float64 { return getFloat("DIMENSION_LEARNING_RATE", 0.05) }
func DimensionDecayRate() float64    { return getFloat("DIMENSION_DECAY_RATE", 0.01) }

func SequenceDecayFactor() float64 { return getFloat("SEQUENCE_DECAY_FACTOR", 0.9) }
func SequenceHistoryLimit() int    { return getInt("SEQUENCE_HISTORY_LIMIT", 50) }

// PromotionMinObservations is how many observations a staged key needs before it goes live.
func PromotionMinObservations() int {
	return getInt("PROMOTION_MIN_OBSERVATIONS", 5)
}

// PromotionMinAge is how long a staged key must have been known before it goes live.
func PromotionMinAge() time.Duration {
	return getDuration("PROMOTION_MIN_AGE", 7*24*time.Hour)
}

func StagingMaxAge() time.Duration {
	return getDuration("STAGING_MAX_AGE", 30*24*time.Hour)
}

func TurnMaxWrites() int {
	return getInt("TURN_MAX_WRITES", 5)
}

func TurnMaxDuration() time.Duration {
	return time.Duration(getInt("TURN_MAX_MS", 15000)) * time.Millisecond
}

func CacheSize() int {
	return getInt("CACHE_SIZE", 1000)
}

func CacheRefreshInterval() int {
	return getInt("CACHE_REFRESH_INTERVAL", 10)
}

func PredictionThreshold() float64 {
	return getFloat("PREDICTION_THRESHOLD", 0.1)
}

// MaintenanceInterval is how often decay, sweep and prune run. Defaults to 6h.
func MaintenanceInterval() time.Duration {
	return getDuration("MAINTENANCE_INTERVAL", 6*time.Hour)
}

func DecayDaysInactive() int {
	return getInt("DECAY_DAYS_INACTIVE", 7)
}

func PruneMinStrength() float64 {
	return getFloat("PRUNE_MIN_STRENGTH", 0.1)
}

func PruneMinObservations() int {
	return getInt("PRUNE_MIN_OBSERVATIONS", 2)
}
