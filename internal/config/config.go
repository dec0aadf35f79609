package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string
	ServerHost string

	// Extractor sidecar (feature extraction HTTP service)
	ExtractorBaseURL string
	ExtractorAPIKey  string

	// Fingerprint build worker pool
	FingerprintWorkers   int
	FingerprintQueueSize int

	// Matching thresholds - externally configurable, never hardcoded in the scorer
	MinMatchScore         float64 // global minimum overall score for a PhotoMatch
	HighConfidenceScore   float64
	ProbableScore         float64
	EntityConfidenceFloor float64 // below this, entity classification is treated as ambiguous

	// Cascade tuning
	CascadeMinCandidates int // expand hash buckets if fewer than this survive stage 2
	SearchMaxResults     int // default cap when the caller doesn't specify one

	// LSH embedding hash - fixed seed so hashes are stable across restarts
	EmbeddingDim int
	LSHSeed      uint64

	// Weight tuning
	TuningHoldoutFraction float64
	TuningMinSamples      int

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "lostmatch"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		ExtractorBaseURL: getEnv("EXTRACTOR_BASE_URL", "http://localhost:9090"),
		ExtractorAPIKey:  getEnv("EXTRACTOR_API_KEY", ""),

		FingerprintWorkers:   getEnvInt("FINGERPRINT_WORKERS", 5),
		FingerprintQueueSize: getEnvInt("FINGERPRINT_QUEUE_SIZE", 100),

		MinMatchScore:         getEnvFloat("MIN_MATCH_SCORE", 55),
		HighConfidenceScore:   getEnvFloat("HIGH_CONFIDENCE_SCORE", 85),
		ProbableScore:         getEnvFloat("PROBABLE_SCORE", 70),
		EntityConfidenceFloor: getEnvFloat("ENTITY_CONFIDENCE_FLOOR", 0.5),

		CascadeMinCandidates: getEnvInt("CASCADE_MIN_CANDIDATES", 25),
		SearchMaxResults:     getEnvInt("SEARCH_MAX_RESULTS", 20),

		EmbeddingDim: getEnvInt("EMBEDDING_DIM", 512),
		LSHSeed:      uint64(getEnvInt("LSH_SEED", 20240901)),

		TuningHoldoutFraction: getEnvFloat("TUNING_HOLDOUT_FRACTION", 0.2),
		TuningMinSamples:      getEnvInt("TUNING_MIN_SAMPLES", 50),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if cfg.MinMatchScore <= 0 || cfg.MinMatchScore >= 100 {
		return nil, fmt.Errorf("MIN_MATCH_SCORE must be in (0, 100), got %v", cfg.MinMatchScore)
	}
	if cfg.HighConfidenceScore < cfg.ProbableScore || cfg.ProbableScore < cfg.MinMatchScore {
		return nil, fmt.Errorf("score tiers must be ordered: min <= probable <= high_confidence")
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
