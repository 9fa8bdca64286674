// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default tolerance for the sum-of-weights check on solved portfolios.
const DefaultWeightsTolerance = 0.0001

// Config holds application configuration
type Config struct {
	DataDir          string // Base directory for all databases (always absolute)
	LogLevel         string
	Port             int
	DevMode          bool
	WeightsTolerance float64       // Tolerance for sum-to-one and non-negativity checks
	SolveTimeout     time.Duration // External deadline imposed around the solve call
	ResultCacheTTL   time.Duration // TTL for memoized solve results
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("OPTIFOLIO_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:          absDataDir,
		Port:             getEnvAsInt("GO_PORT", 8001),
		DevMode:          getEnvAsBool("DEV_MODE", false),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		WeightsTolerance: getEnvAsFloat("SUM_WEIGHTS_TOLERANCE", DefaultWeightsTolerance),
		SolveTimeout:     time.Duration(getEnvAsInt("SOLVE_TIMEOUT_SECONDS", 120)) * time.Second,
		ResultCacheTTL:   time.Duration(getEnvAsInt("RESULT_CACHE_TTL_MINUTES", 60)) * time.Minute,
	}

	if cfg.WeightsTolerance < 0 {
		return nil, fmt.Errorf("SUM_WEIGHTS_TOLERANCE must be non-negative, got %f", cfg.WeightsTolerance)
	}

	return cfg, nil
}

// DatabasePath returns the full path for a named database file
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
