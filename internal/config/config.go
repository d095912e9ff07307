// Package config handles Parley configuration loading: environment
// variables with defaults, plus an optional YAML seed file declaring
// agents, tool servers and availability windows for zero-database
// startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/parley-ai/parley/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the Parley server.
type Config struct {
	Port      int
	Version   string
	SeedFile  string
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Vector    VectorConfig
	Calendar  CalendarConfig
	Telemetry TelemetryConfig
	Pipeline  PipelineConfig
	Notify    NotifyConfig
	Retention RetentionConfig
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	Provider string // "openai", "anthropic", or any OpenAI-compatible endpoint
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// EmbeddingConfig configures the embedding driver.
type EmbeddingConfig struct {
	Provider string // "openai" or "ollama"
	Endpoint string
	APIKey   string
	Model    string
}

// VectorConfig selects the vector store backend.
type VectorConfig struct {
	Backend    string // "embedded" or "pgvector"
	PgURL      string
	Dimensions int
}

// CalendarConfig holds the OAuth2 client used to refresh calendar
// credentials and the free/busy endpoint.
type CalendarConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	FreeBusyURL  string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// PipelineConfig carries the turn-orchestration knobs. Defaults match
// the documented pipeline contract; override only for tests.
type PipelineConfig struct {
	ToolCacheTTL    time.Duration
	MaxIterations   int
	APIToolTimeout  time.Duration
	FetchTimeout    time.Duration
	AdvanceNotice   time.Duration
	SlotBuffer      time.Duration
	HistoryMessages int
}

// NotifyConfig configures the optional owner webhook. Empty URL
// disables delivery.
type NotifyConfig struct {
	WebhookURL    string
	WebhookSecret string
}

// RetentionConfig configures turn retention. TurnTTL of zero disables
// the janitor.
type RetentionConfig struct {
	TurnTTL    time.Duration
	Interval   time.Duration
	ArchiveDir string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:     envInt("PARLEY_PORT", 8080),
		Version:  envStr("PARLEY_VERSION", "0.4.0"),
		SeedFile: envStr("PARLEY_SEED_FILE", ""),
		LLM: LLMConfig{
			Provider: envStr("PARLEY_LLM_PROVIDER", "openai"),
			Endpoint: envStr("PARLEY_LLM_ENDPOINT", ""),
			APIKey:   envStr("PARLEY_LLM_API_KEY", ""),
			Model:    envStr("PARLEY_LLM_MODEL", "gpt-4o-mini"),
			Timeout:  envDur("PARLEY_LLM_TIMEOUT", 120*time.Second),
		},
		Embedding: EmbeddingConfig{
			Provider: envStr("PARLEY_EMBEDDING_PROVIDER", "openai"),
			Endpoint: envStr("PARLEY_EMBEDDING_ENDPOINT", ""),
			APIKey:   envStr("PARLEY_EMBEDDING_API_KEY", os.Getenv("PARLEY_LLM_API_KEY")),
			Model:    envStr("PARLEY_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Vector: VectorConfig{
			Backend:    envStr("PARLEY_VECTOR_BACKEND", "embedded"),
			PgURL:      envStr("PARLEY_PGVECTOR_URL", ""),
			Dimensions: envInt("PARLEY_VECTOR_DIMENSIONS", 1536),
		},
		Calendar: CalendarConfig{
			ClientID:     envStr("PARLEY_CALENDAR_CLIENT_ID", ""),
			ClientSecret: envStr("PARLEY_CALENDAR_CLIENT_SECRET", ""),
			TokenURL:     envStr("PARLEY_CALENDAR_TOKEN_URL", "https://oauth2.googleapis.com/token"),
			FreeBusyURL:  envStr("PARLEY_CALENDAR_FREEBUSY_URL", "https://www.googleapis.com/calendar/v3/freeBusy"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "parley"),
		},
		Pipeline: PipelineConfig{
			ToolCacheTTL:    envDur("PARLEY_TOOL_CACHE_TTL", time.Hour),
			MaxIterations:   envInt("PARLEY_TOOL_MAX_ITERATIONS", 3),
			APIToolTimeout:  envDur("PARLEY_API_TOOL_TIMEOUT", 15*time.Second),
			FetchTimeout:    envDur("PARLEY_KNOWLEDGE_FETCH_TIMEOUT", 5*time.Second),
			AdvanceNotice:   envDur("PARLEY_SCHEDULING_ADVANCE_NOTICE", 24*time.Hour),
			SlotBuffer:      envDur("PARLEY_SCHEDULING_SLOT_BUFFER", 15*time.Minute),
			HistoryMessages: envInt("PARLEY_HISTORY_MESSAGES", 20),
		},
		Notify: NotifyConfig{
			WebhookURL:    envStr("PARLEY_WEBHOOK_URL", ""),
			WebhookSecret: envStr("PARLEY_WEBHOOK_SECRET", ""),
		},
		Retention: RetentionConfig{
			TurnTTL:    envDur("PARLEY_TURN_RETENTION", 0),
			Interval:   envDur("PARLEY_RETENTION_INTERVAL", time.Hour),
			ArchiveDir: envStr("PARLEY_ARCHIVE_DIR", ""),
		},
	}
}

// ── Seed File ────────────────────────────────────────────────

// Seed declares agents and their availability windows, loaded once at
// startup into the store.
type Seed struct {
	Agents  []models.Agent              `yaml:"agents"`
	Windows []models.AvailabilityWindow `yaml:"availability_windows"`
}

// LoadSeed parses the YAML seed file at path.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// ── Env Helpers ──────────────────────────────────────────────

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
