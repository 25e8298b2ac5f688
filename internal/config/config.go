package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath    string
	RawDocDir string
	OutputDir string

	TargetFramework string
	TargetCurrency  string

	ExactThreshold  float64
	FuzzyThreshold  float64
	AssistThreshold float64
	FallbackFloor   float64
	MatchBatchSize  int

	RetryBaseDelaySec int

	WorkerIntervalSec int
	WorkerBatch       int
	ReviewExport      bool
	HTTPAddr          string

	GeminiAPIKey string
	GeminiModel  string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "finconv.db")),
		RawDocDir: getEnv("RAW_DOC_DIR", filepath.Join(cwd, "data", "raw")),
		OutputDir: getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		TargetFramework: getEnv("TARGET_FRAMEWORK", "us-gaap"),
		TargetCurrency:  getEnv("TARGET_CURRENCY", "USD"),

		ExactThreshold:  getEnvFloat("MATCH_EXACT_THRESHOLD", 95),
		FuzzyThreshold:  getEnvFloat("MATCH_FUZZY_THRESHOLD", 80),
		AssistThreshold: getEnvFloat("MATCH_ASSIST_THRESHOLD", 70),
		FallbackFloor:   getEnvFloat("MATCH_FALLBACK_FLOOR", 60),
		MatchBatchSize:  getEnvInt("MATCH_BATCH_SIZE", 50),

		RetryBaseDelaySec: getEnvInt("RETRY_BASE_DELAY_SEC", 30),

		WorkerIntervalSec: getEnvInt("WORKER_INTERVAL_SEC", 10),
		WorkerBatch:       getEnvInt("WORKER_BATCH", 10),
		ReviewExport:      getEnvBool("REVIEW_EXPORT", true),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
