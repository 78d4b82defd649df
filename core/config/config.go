package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env     string
	Scan    ScanConfig
	Chunk   ChunkConfig
	Review  ReviewConfig
	Retry   RetryConfig
	Model   ModelConfig
	Tracker TrackerConfig
	Store   StoreConfig
	Report  ReportConfig
}

type ScanConfig struct {
	Root        string
	Includes    []string
	Excludes    []string
	MaxFileSize int64
}

type ChunkConfig struct {
	BudgetBytes  int
	OverlapLines int
}

type ReviewConfig struct {
	MaxConcurrency int
	RequestTimeout time.Duration
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

type ModelConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

type TrackerConfig struct {
	Token   string
	BaseURL string
	Project string
}

type StoreConfig struct {
	Path string
}

type ReportConfig struct {
	SARIFPath string
}

// Load reads configuration from environment variables. In development a
// .env file in the working directory is loaded first.
func Load() (Config, error) {
	if getEnv("AUDITOR_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env: getEnv("AUDITOR_ENV", "development"),
		Scan: ScanConfig{
			Root:        getEnv("AUDITOR_REPO_ROOT", "."),
			Includes:    getEnvList("AUDITOR_SCAN_INCLUDE", nil),
			Excludes:    getEnvList("AUDITOR_SCAN_EXCLUDE", nil),
			MaxFileSize: getEnvInt64("AUDITOR_MAX_FILE_SIZE", 512*1024),
		},
		Chunk: ChunkConfig{
			BudgetBytes:  getEnvInt("AUDITOR_CHUNK_BUDGET", 48*1024),
			OverlapLines: getEnvInt("AUDITOR_CHUNK_OVERLAP", 0),
		},
		Review: ReviewConfig{
			MaxConcurrency: getEnvInt("AUDITOR_MAX_CONCURRENCY", 4),
			RequestTimeout: getEnvDuration("AUDITOR_REQUEST_TIMEOUT_MS", 120_000),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvInt("AUDITOR_RETRY_MAX_ATTEMPTS", 4),
			BaseDelay:   getEnvDuration("AUDITOR_RETRY_BASE_DELAY_MS", 1000),
			MaxDelay:    getEnvDuration("AUDITOR_RETRY_MAX_DELAY_MS", 30_000),
			Jitter:      getEnvFloat("AUDITOR_RETRY_JITTER", 0.2),
		},
		Model: ModelConfig{
			APIKey:    getEnv("MODEL_API_KEY", ""),
			BaseURL:   getEnv("MODEL_BASE_URL", ""),
			Model:     getEnv("MODEL_NAME", "gpt-4o-mini"),
			MaxTokens: getEnvInt("MODEL_MAX_TOKENS", 4096),
		},
		Tracker: TrackerConfig{
			Token:   getEnv("GITLAB_TOKEN", ""),
			BaseURL: getEnv("GITLAB_BASE_URL", ""),
			Project: getEnv("GITLAB_PROJECT", ""),
		},
		Store: StoreConfig{
			Path: getEnv("AUDITOR_STORE_PATH", ".auditor/tasks.db"),
		},
		Report: ReportConfig{
			SARIFPath: getEnv("AUDITOR_SARIF_PATH", ""),
		},
	}

	if cfg.Model.APIKey == "" {
		return Config{}, fmt.Errorf("MODEL_API_KEY is required")
	}
	if cfg.Chunk.BudgetBytes <= 0 {
		return Config{}, fmt.Errorf("AUDITOR_CHUNK_BUDGET must be positive")
	}
	if cfg.Review.MaxConcurrency <= 0 {
		return Config{}, fmt.Errorf("AUDITOR_MAX_CONCURRENCY must be positive")
	}

	return cfg, nil
}

// ValidateTracker checks the credentials needed for real tracker writes.
// Dry runs skip this.
func (c Config) ValidateTracker() error {
	if c.Tracker.Token == "" {
		return fmt.Errorf("GITLAB_TOKEN is required")
	}
	if c.Tracker.Project == "" {
		return fmt.Errorf("GITLAB_PROJECT is required")
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallbackMS int64) time.Duration {
	return time.Duration(getEnvInt64(key, fallbackMS)) * time.Millisecond
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
