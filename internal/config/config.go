/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/kith/internal/availability"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus selection.
const (
	EventBusMemory = "memory"
	EventBusRedis  = "redis"
	EventBusNATS   = "nats"
)

// LLM provider selection.
const (
	LLMProviderNone      = "none"
	LLMProviderAnthropic = "anthropic"
	LLMProviderOllama    = "ollama"
)

const (
	envPrefix       = "KITH_"
	legacyEnvPrefix = "CATCHUP_"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	LogLevel      string // zerolog level name; empty picks one from Environment
	HTTPBind      string
	HTTPPort      int
	BaseURL       string // Public base URL used for OAuth redirects and share links
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string

	// Redis (cache, redis event bus, leader election)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheEnabled  bool

	// Event bus
	EventBus string
	NATSURL  string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	InstanceID            string

	// Reminders
	ReminderCheckInterval time.Duration

	// Google Calendar OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Suggestion generation
	LLMProvider string
	LLMModel    string
	LLMAPIKey   string
	LLMEndpoint string
	LLMTimeout  time.Duration

	// S3 backup storage
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Scheduling defaults, optionally overlaid from KITH_CONFIG_FILE
	Scheduling Scheduling

	ConfigFile        string
	LegacyEnvWarnings []string
}

// Scheduling holds the free-slot defaults used when a request does not override them.
type Scheduling struct {
	availability.Options `yaml:",inline"`
	Timezone             string `yaml:"timezone"`
}

// Location resolves the configured timezone, falling back to UTC.
func (s Scheduling) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type fileOverlay struct {
	Scheduling *Scheduling `yaml:"scheduling"`
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny(keys("ENV"), "development"),
		LogLevel:      getEnvAny(keys("LOG_LEVEL"), ""),
		HTTPBind:      getEnvAny(keys("HTTP_BIND"), "0.0.0.0"),
		HTTPPort:      getEnvIntAny(keys("HTTP_PORT"), 8080),
		BaseURL:       getEnvAny(keys("BASE_URL"), "http://localhost:8080"),
		DBBackend:     DatabaseBackend(getEnvAny(keys("DB_BACKEND"), string(DatabasePostgres))),
		DBDSN:         getEnvAny(keys("DB_DSN"), ""),
		JWTSigningKey: getEnvAny(keys("JWT_SIGNING_KEY"), ""),

		RedisAddr:     getEnvAny(keys("REDIS_ADDR"), "localhost:6379"),
		RedisPassword: getEnvAny(keys("REDIS_PASSWORD"), ""),
		RedisDB:       getEnvIntAny(keys("REDIS_DB"), 0),
		CacheEnabled:  getEnvBoolAny(keys("CACHE_ENABLED"), true),

		EventBus: strings.ToLower(getEnvAny(keys("EVENT_BUS"), EventBusMemory)),
		NATSURL:  getEnvAny(keys("NATS_URL"), "nats://localhost:4222"),

		TracingEnabled:    getEnvBoolAny(keys("TRACING_ENABLED"), false),
		OTLPEndpoint:      getEnvAny(keys("OTLP_ENDPOINT"), "localhost:4317"),
		TracingSampleRate: getEnvFloatAny(keys("TRACING_SAMPLE_RATE"), 1.0),

		LeaderElectionEnabled: getEnvBoolAny(keys("LEADER_ELECTION_ENABLED"), false),
		InstanceID:            getEnvAny(keys("INSTANCE_ID"), ""),

		ReminderCheckInterval: getEnvDurationAny(keys("REMINDER_CHECK_INTERVAL"), 15*time.Minute),

		GoogleClientID:     getEnvAny(keys("GOOGLE_CLIENT_ID"), ""),
		GoogleClientSecret: getEnvAny(keys("GOOGLE_CLIENT_SECRET"), ""),
		GoogleRedirectURL:  getEnvAny(keys("GOOGLE_REDIRECT_URL"), ""),

		LLMProvider: strings.ToLower(getEnvAny(keys("LLM_PROVIDER"), LLMProviderNone)),
		LLMModel:    getEnvAny(keys("LLM_MODEL"), ""),
		LLMAPIKey:   getEnvAny(append(keys("LLM_API_KEY"), "ANTHROPIC_API_KEY"), ""),
		LLMEndpoint: getEnvAny(keys("LLM_ENDPOINT"), ""),
		LLMTimeout:  getEnvDurationAny(keys("LLM_TIMEOUT"), 20*time.Second),

		S3AccessKeyID:     getEnvAny(append(keys("S3_ACCESS_KEY_ID"), "AWS_ACCESS_KEY_ID"), ""),
		S3SecretAccessKey: getEnvAny(append(keys("S3_SECRET_ACCESS_KEY"), "AWS_SECRET_ACCESS_KEY"), ""),
		S3Region:          getEnvAny(append(keys("S3_REGION"), "AWS_REGION"), "us-east-1"),
		S3Bucket:          getEnvAny(keys("S3_BUCKET"), ""),
		S3Endpoint:        getEnvAny(keys("S3_ENDPOINT"), ""),
		S3UsePathStyle:    getEnvBoolAny(keys("S3_USE_PATH_STYLE"), false),

		Scheduling: Scheduling{
			Options:  availability.DefaultOptions(),
			Timezone: getEnvAny(keys("TIMEZONE"), "UTC"),
		},
		ConfigFile: getEnvAny(keys("CONFIG_FILE"), ""),
	}
	cfg.Scheduling.MaxSlots = 5

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if cfg.GoogleRedirectURL == "" {
		cfg.GoogleRedirectURL = strings.TrimRight(cfg.BaseURL, "/") + "/api/v1/calendar/callback"
	}
	if cfg.LLMModel == "" {
		switch cfg.LLMProvider {
		case LLMProviderAnthropic:
			cfg.LLMModel = "claude-3-5-haiku-latest"
		case LLMProviderOllama:
			cfg.LLMModel = "llama3.2"
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	if c.DBDSN == "" {
		return fmt.Errorf("KITH_DB_DSN must be provided")
	}

	if c.JWTSigningKey == "" {
		return fmt.Errorf("KITH_JWT_SIGNING_KEY must be provided")
	}

	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid KITH_LOG_LEVEL %q", c.LogLevel)
		}
	}

	switch c.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return fmt.Errorf("unsupported event bus %q", c.EventBus)
	}

	switch c.LLMProvider {
	case LLMProviderNone:
	case LLMProviderAnthropic:
		if c.LLMAPIKey == "" {
			return fmt.Errorf("KITH_LLM_API_KEY is required for the anthropic provider")
		}
	case LLMProviderOllama:
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLMProvider)
	}

	if c.ReminderCheckInterval <= 0 {
		return fmt.Errorf("KITH_REMINDER_CHECK_INTERVAL must be positive")
	}

	if err := c.Scheduling.Validate(); err != nil {
		return fmt.Errorf("scheduling defaults: %w", err)
	}
	if _, err := time.LoadLocation(c.Scheduling.Timezone); err != nil {
		return fmt.Errorf("scheduling timezone %q: %w", c.Scheduling.Timezone, err)
	}
	return nil
}

// applyFile overlays values from a YAML file. Only keys present in the file change.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	overlay := fileOverlay{Scheduling: &c.Scheduling}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ListenAddr returns the HTTP bind address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// keys returns the current and legacy environment names for a setting.
func keys(name string) []string {
	return []string{envPrefix + name, legacyEnvPrefix + name}
}

func detectLegacyEnvWarnings() []string {
	var warnings []string
	for _, kv := range os.Environ() {
		name, value, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(name, legacyEnvPrefix) || value == "" {
			continue
		}
		replacement := envPrefix + strings.TrimPrefix(name, legacyEnvPrefix)
		warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; use %s", name, replacement))
	}
	sort.Strings(warnings)
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("90s", "15m") or a bare number of seconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				return parsed
			}
			if secs, err := strconv.Atoi(v); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return def
}
