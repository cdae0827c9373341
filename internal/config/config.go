/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DocStoreBackend selects where local documents (buoys, queues, admin tokens) live.
type DocStoreBackend string

const (
	DocStoreSQLite   DocStoreBackend = "sqlite"
	DocStorePostgres DocStoreBackend = "postgres"
	DocStoreMySQL    DocStoreBackend = "mysql"
	DocStoreRedis    DocStoreBackend = "redis"
	DocStoreMemory   DocStoreBackend = "memory"
)

// Config covers process level configuration read from environment variables
// and an optional YAML overlay file.
type Config struct {
	Environment string `yaml:"environment"`

	// Document store
	DocStoreBackend DocStoreBackend `yaml:"docstore_backend"`
	DocStoreDSN     string          `yaml:"docstore_dsn"`
	RedisAddr       string          `yaml:"redis_addr"`
	RedisPassword   string          `yaml:"redis_password"`
	RedisDB         int             `yaml:"redis_db"`

	// Local surfaces
	StatusBind string `yaml:"status_bind"` // empty disables the status server

	// ControlSecret signs status server tokens. Empty leaves /room and /logs
	// open to anything that can reach StatusBind.
	ControlSecret string `yaml:"control_secret"`

	// Event mirror (optional)
	NATSURL   string `yaml:"nats_url"`
	NATSToken string `yaml:"nats_token"`

	// Webhook forwarding (optional)
	WebhookURLs   []string `yaml:"webhook_urls"`
	WebhookSecret string   `yaml:"webhook_secret"`
	WebhookEvents []string `yaml:"webhook_events"` // empty forwards the defaults

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`

	// Track media access
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	S3Region          string        `yaml:"s3_region"`
	S3Endpoint        string        `yaml:"s3_endpoint"` // For S3-compatible services (MinIO, etc.)
	S3AccessKeyID     string        `yaml:"s3_access_key_id"`
	S3SecretAccessKey string        `yaml:"s3_secret_access_key"`
	S3UsePathStyle    bool          `yaml:"s3_use_path_style"`

	// Track cache. Redis is used only when TrackCacheRedis is set.
	TrackCacheRedis bool          `yaml:"track_cache_redis"`
	TrackCacheTTL   time.Duration `yaml:"track_cache_ttl"`
	TrackCacheBytes int64         `yaml:"track_cache_bytes"`

	// Sync policy. None of these are protocol requirements.
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	TrackLoadTimeout  time.Duration `yaml:"track_load_timeout"`
	ClockSyncInterval time.Duration `yaml:"clock_sync_interval"`
	SyncTolerance     time.Duration `yaml:"sync_tolerance"`
	BufferingDelay    time.Duration `yaml:"buffering_delay"`
	ChatLogSize       int           `yaml:"chat_log_size"`
	StageSize         int           `yaml:"stage_size"`

	// Reconnect policy
	ReconnectMaxInterval time.Duration `yaml:"reconnect_max_interval"`
	ReconnectMaxElapsed  time.Duration `yaml:"reconnect_max_elapsed"` // 0 retries forever

	ConfigFile        string   `yaml:"-"`
	LegacyEnvWarnings []string `yaml:"-"`
}

// Load reads environment variables, applies the optional YAML overlay and
// defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"GROOVEBOAT_ENV"}, "development"),

		DocStoreBackend: DocStoreBackend(getEnvAny([]string{"GROOVEBOAT_DOCSTORE_BACKEND"}, string(DocStoreSQLite))),
		DocStoreDSN:     getEnvAny([]string{"GROOVEBOAT_DOCSTORE_DSN"}, "grooveboat.db"),
		RedisAddr:       getEnvAny([]string{"GROOVEBOAT_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:   getEnvAny([]string{"GROOVEBOAT_REDIS_PASSWORD"}, ""),
		RedisDB:         getEnvIntAny([]string{"GROOVEBOAT_REDIS_DB"}, 0),

		StatusBind: getEnvAny([]string{"GROOVEBOAT_STATUS_BIND"}, "127.0.0.1:7420"),

		ControlSecret: getEnvAny([]string{"GROOVEBOAT_CONTROL_SECRET"}, ""),

		NATSURL:   getEnvAny([]string{"GROOVEBOAT_NATS_URL"}, ""),
		NATSToken: getEnvAny([]string{"GROOVEBOAT_NATS_TOKEN"}, ""),

		WebhookURLs:   getEnvListAny([]string{"GROOVEBOAT_WEBHOOK_URLS"}),
		WebhookSecret: getEnvAny([]string{"GROOVEBOAT_WEBHOOK_SECRET"}, ""),
		WebhookEvents: getEnvListAny([]string{"GROOVEBOAT_WEBHOOK_EVENTS"}),

		TracingEnabled:    getEnvBoolAny([]string{"GROOVEBOAT_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"GROOVEBOAT_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"GROOVEBOAT_TRACING_SAMPLE_RATE"}, 1.0),

		FetchTimeout:      getEnvDurationAny([]string{"GROOVEBOAT_FETCH_TIMEOUT"}, 20*time.Second),
		S3Region:          getEnvAny([]string{"GROOVEBOAT_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Endpoint:        getEnvAny([]string{"GROOVEBOAT_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3AccessKeyID:     getEnvAny([]string{"GROOVEBOAT_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"GROOVEBOAT_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"GROOVEBOAT_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		TrackCacheRedis: getEnvBoolAny([]string{"GROOVEBOAT_TRACK_CACHE_REDIS"}, false),
		TrackCacheTTL:   getEnvDurationAny([]string{"GROOVEBOAT_TRACK_CACHE_TTL"}, time.Hour),
		TrackCacheBytes: int64(getEnvIntAny([]string{"GROOVEBOAT_TRACK_CACHE_BYTES"}, 64<<20)),

		ConnectTimeout:    getEnvDurationAny([]string{"GROOVEBOAT_CONNECT_TIMEOUT"}, 3*time.Second),
		CallTimeout:       getEnvDurationAny([]string{"GROOVEBOAT_CALL_TIMEOUT"}, 5*time.Second),
		TrackLoadTimeout:  getEnvDurationAny([]string{"GROOVEBOAT_TRACK_LOAD_TIMEOUT"}, 25*time.Second),
		ClockSyncInterval: getEnvDurationAny([]string{"GROOVEBOAT_CLOCK_SYNC_INTERVAL"}, 3*time.Second),
		SyncTolerance:     getEnvDurationAny([]string{"GROOVEBOAT_SYNC_TOLERANCE"}, 1500*time.Millisecond),
		BufferingDelay:    getEnvDurationAny([]string{"GROOVEBOAT_BUFFERING_DELAY"}, 0),
		ChatLogSize:       getEnvIntAny([]string{"GROOVEBOAT_CHAT_LOG_SIZE"}, 30),
		StageSize:         getEnvIntAny([]string{"GROOVEBOAT_STAGE_SIZE"}, 5),

		ReconnectMaxInterval: getEnvDurationAny([]string{"GROOVEBOAT_RECONNECT_MAX_INTERVAL"}, 30*time.Second),
		ReconnectMaxElapsed:  getEnvDurationAny([]string{"GROOVEBOAT_RECONNECT_MAX_ELAPSED"}, 0),

		ConfigFile: getEnvAny([]string{"GROOVEBOAT_CONFIG_FILE"}, ""),
	}

	if cfg.ConfigFile != "" {
		if err := cfg.overlayFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// overlayFile applies values present in a YAML file on top of the
// environment-derived configuration. Keys missing from the file keep their
// current value.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	switch c.DocStoreBackend {
	case DocStoreSQLite, DocStorePostgres, DocStoreMySQL, DocStoreRedis, DocStoreMemory:
	default:
		return fmt.Errorf("unsupported docstore backend %q", c.DocStoreBackend)
	}

	if c.DocStoreDSN == "" && (c.DocStoreBackend == DocStorePostgres || c.DocStoreBackend == DocStoreMySQL) {
		return fmt.Errorf("GROOVEBOAT_DOCSTORE_DSN must be provided for the %s backend", c.DocStoreBackend)
	}

	if c.ConnectTimeout <= 0 || c.CallTimeout <= 0 || c.TrackLoadTimeout <= 0 {
		return fmt.Errorf("connect, call and track load timeouts must be positive")
	}
	if c.ClockSyncInterval <= 0 {
		return fmt.Errorf("clock sync interval must be positive")
	}
	if c.SyncTolerance <= 0 {
		return fmt.Errorf("sync tolerance must be positive")
	}
	if c.BufferingDelay < 0 {
		return fmt.Errorf("buffering delay must not be negative")
	}
	if c.TrackCacheBytes < 0 {
		return fmt.Errorf("track cache bytes must not be negative")
	}
	if c.ChatLogSize <= 0 {
		return fmt.Errorf("chat log size must be positive")
	}
	if c.StageSize <= 0 {
		return fmt.Errorf("stage size must be positive")
	}
	return nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"GROOVEBOAT_DB_DSN":     "use GROOVEBOAT_DOCSTORE_DSN",
		"GROOVEBOAT_DB_BACKEND": "use GROOVEBOAT_DOCSTORE_BACKEND",
		"GROOVEBOAT_TOLERANCE":  "use GROOVEBOAT_SYNC_TOLERANCE",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
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

// getEnvListAny splits the first set variable on commas, dropping blanks.
func getEnvListAny(keys []string) []string {
	for _, k := range keys {
		v := os.Getenv(k)
		if v == "" {
			continue
		}
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return nil
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

// getEnvDurationAny accepts Go duration strings ("1.5s") or plain milliseconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				return parsed
			}
			if ms, err := strconv.Atoi(v); err == nil {
				return time.Duration(ms) * time.Millisecond
			}
		}
	}
	return def
}
