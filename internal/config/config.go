// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// CORS
	CORSOrigins []string

	// Site rules
	SiteRulesPath string // YAML file with per-domain extraction rules (optional; builtins always load)

	// Outbound HTTP
	UserAgent    string
	FetchTimeout time.Duration
	FetchRetries int

	// Extraction pipeline timeouts
	DynamicTimeout time.Duration // Browser tier budget per machine
	LLMTimeout     time.Duration // LLM tier budget per call
	GlobalTimeout  time.Duration // Total budget per machine

	// Batch orchestration
	Workers              int           // Worker pool size
	PerDomainConcurrency int           // Max in-flight extractions per registrable domain
	PerDomainMinInterval time.Duration // Token-bucket refill interval per domain
	WorkerPollInterval   time.Duration // How often the batch worker polls for pending batches

	// Browser pool
	BrowserPoolSize   int
	BrowserControlURL string // Attach to an existing browser instead of launching one
	BrowserHeadless   bool

	// LLM extraction tier
	LLMProvider        string // Only "anthropic" is wired; kept for config surface compatibility
	LLMModel           string
	LLMAPIKey          string
	LLMMaxPayloadChars int

	// Validation thresholds
	ChangeApprovalThreshold float64 // Relative change above which approval is required
	ChangeReviewThreshold   float64 // Relative change above which correction heuristics run
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:pricewatch.db?_journal=WAL&_timeout=5000"),
		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		SiteRulesPath: getEnv("SITE_RULES_PATH", ""),

		UserAgent:    getEnv("USER_AGENT", "pricewatch/1.0 (+https://github.com/machlab/pricewatch)"),
		FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		FetchRetries: getEnvInt("FETCH_RETRIES", 3),

		DynamicTimeout: getEnvDuration("DYNAMIC_TIMEOUT", 60*time.Second),
		LLMTimeout:     getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		GlobalTimeout:  getEnvDuration("GLOBAL_TIMEOUT", 180*time.Second),

		Workers:              getEnvInt("WORKERS", 5),
		PerDomainConcurrency: getEnvInt("PER_DOMAIN_CONCURRENCY", 2),
		PerDomainMinInterval: getEnvDuration("PER_DOMAIN_MIN_INTERVAL", 3*time.Second),
		WorkerPollInterval:   getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),

		BrowserPoolSize:   getEnvInt("BROWSER_POOL_SIZE", 3),
		BrowserControlURL: getEnv("BROWSER_CONTROL_URL", ""),
		BrowserHeadless:   getEnvBool("BROWSER_HEADLESS", true),

		LLMProvider:        getEnv("LLM_PROVIDER", "anthropic"),
		LLMModel:           getEnv("LLM_MODEL", "claude-3-5-haiku-20241022"),
		LLMAPIKey:          getEnv("ANTHROPIC_API_KEY", ""),
		LLMMaxPayloadChars: getEnvInt("LLM_MAX_PAYLOAD_CHARS", 60000),

		ChangeApprovalThreshold: getEnvFloat("CHANGE_APPROVAL_THRESHOLD", 0.15),
		ChangeReviewThreshold:   getEnvFloat("CHANGE_REVIEW_THRESHOLD", 0.50),
	}

	if cfg.Workers < 1 {
		return nil, fmt.Errorf("WORKERS must be at least 1, got %d", cfg.Workers)
	}
	if cfg.PerDomainConcurrency < 1 {
		return nil, fmt.Errorf("PER_DOMAIN_CONCURRENCY must be at least 1, got %d", cfg.PerDomainConcurrency)
	}
	if cfg.ChangeApprovalThreshold <= 0 || cfg.ChangeApprovalThreshold >= cfg.ChangeReviewThreshold {
		return nil, fmt.Errorf("CHANGE_APPROVAL_THRESHOLD (%v) must be positive and below CHANGE_REVIEW_THRESHOLD (%v)",
			cfg.ChangeApprovalThreshold, cfg.ChangeReviewThreshold)
	}

	return cfg, nil
}

// LLMEnabled returns true if the LLM extraction tier is configured.
func (c *Config) LLMEnabled() bool {
	return c.LLMAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
