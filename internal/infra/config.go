package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// Inference engine endpoint.
	EngineHost string
	EnginePort string

	// Workflow graph templates.
	WorkflowDir string

	// Scratch space for resolved request inputs.
	TempDir string

	// Artifact store for deferred-mode results.
	StoragePath string

	// Readiness gate: poll interval and wall-clock ceiling.
	ReadyPollInterval time.Duration
	ReadyTimeout      time.Duration

	// Caller-visible deadlines. SyncTimeout bounds the immediate endpoint;
	// TaskTimeout bounds one deferred task and is expected to be longer.
	SyncTimeout time.Duration
	TaskTimeout time.Duration

	// Deferred worker settings.
	WorkerConcurrency int
	JobPollInterval   time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		EngineHost:        getEnv("ENGINE_HOST", "127.0.0.1"),
		EnginePort:        getEnv("ENGINE_PORT", "8188"),
		WorkflowDir:       getEnv("WORKFLOW_DIR", "./workflows"),
		TempDir:           getEnv("TEMP_DIR", os.TempDir()),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		ReadyPollInterval: time.Second * time.Duration(getEnvInt("ENGINE_READY_POLL_SECONDS", 5)),
		ReadyTimeout:      time.Second * time.Duration(getEnvInt("ENGINE_READY_TIMEOUT_SECONDS", 180)),
		SyncTimeout:       time.Second * time.Duration(getEnvInt("SYNC_TIMEOUT_SECONDS", 1800)),
		TaskTimeout:       time.Second * time.Duration(getEnvInt("TASK_TIMEOUT_SECONDS", 3600)),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 2),
		JobPollInterval:   time.Second * time.Duration(getEnvInt("JOB_POLL_SECONDS", 2)),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 1860)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:    splitAndTrim(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SyncTimeout <= 0 {
		return nil, fmt.Errorf("SYNC_TIMEOUT_SECONDS must be positive")
	}

	if cfg.TaskTimeout < cfg.SyncTimeout {
		return nil, fmt.Errorf("TASK_TIMEOUT_SECONDS must be at least SYNC_TIMEOUT_SECONDS")
	}

	if cfg.WorkerConcurrency <= 0 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}

	return cfg, nil
}

// EngineBaseURL returns the HTTP base URL of the inference engine.
func (c *Config) EngineBaseURL() string {
	return fmt.Sprintf("http://%s:%s", c.EngineHost, c.EnginePort)
}

// EngineWSURL returns the websocket URL of the engine's event channel.
func (c *Config) EngineWSURL() string {
	return fmt.Sprintf("ws://%s:%s/ws", c.EngineHost, c.EnginePort)
}

func splitAndTrim(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
