// Package config loads memflow configuration from defaults, an optional
// YAML file, and MEMFLOW_-prefixed environment variables, in that order.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("memflow.yaml").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete memflow configuration.
type Config struct {
	// Store selects and shapes the memory store backend.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Redis configures the Redis store backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database configures the SQL store backend and migrations.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Qdrant configures the Qdrant vector store backend.
	Qdrant QdrantConfig `yaml:"qdrant" env:"QDRANT"`

	// Consolidation tunes the consolidation engine.
	Consolidation ConsolidationConfig `yaml:"consolidation" env:"CONSOLIDATION"`

	// Summary tunes the progressive summarizer.
	Summary SummaryConfig `yaml:"summary" env:"SUMMARY"`

	// Entity tunes the entity tracker.
	Entity EntityConfig `yaml:"entity" env:"ENTITY"`

	// Retrieval tunes the time-weighted retriever.
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// StoreConfig selects the store backend.
type StoreConfig struct {
	// Backend is one of "memory", "redis", "sql", "qdrant".
	Backend string `yaml:"backend" env:"BACKEND"`
}

// RedisConfig configures the Redis store backend.
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	Password     string        `yaml:"password" env:"PASSWORD"`
	DB           int           `yaml:"db" env:"DB"`
	KeyPrefix    string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize     int           `yaml:"pool_size" env:"POOL_SIZE"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`

	// TLS enables a hardened TLS connection.
	TLS bool `yaml:"tls" env:"TLS"`

	// EmbedCacheTTL caches computed embeddings in Redis for this duration.
	// Zero disables the cache.
	EmbedCacheTTL time.Duration `yaml:"embed_cache_ttl" env:"EMBED_CACHE_TTL"`
}

// DatabaseConfig configures the SQL store backend.
type DatabaseConfig struct {
	// Driver is one of "sqlite", "postgres", "mysql".
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// QdrantConfig configures the Qdrant store backend.
type QdrantConfig struct {
	Host       string `yaml:"host" env:"HOST"`
	Port       int    `yaml:"port" env:"PORT"`
	Collection string `yaml:"collection" env:"COLLECTION"`
	VectorSize uint64 `yaml:"vector_size" env:"VECTOR_SIZE"`
	TLS        bool   `yaml:"tls" env:"TLS"`
}

// ConsolidationConfig tunes the consolidation engine.
type ConsolidationConfig struct {
	SimilarityThreshold           float64       `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	MinMemoriesForConsolidation   int           `yaml:"min_memories_for_consolidation" env:"MIN_MEMORIES"`
	MaxMemoriesAfterConsolidation int           `yaml:"max_memories_after_consolidation" env:"MAX_MEMORIES"`
	MaturityHours                 float64       `yaml:"maturity_hours" env:"MATURITY_HOURS"`
	DormancyHours                 float64       `yaml:"dormancy_hours" env:"DORMANCY_HOURS"`
	ArchiveHours                  float64       `yaml:"archive_hours" env:"ARCHIVE_HOURS"`
	DecayRatePerDay               float64       `yaml:"decay_rate_per_day" env:"DECAY_RATE_PER_DAY"`
	MinImportanceThreshold        float64       `yaml:"min_importance_threshold" env:"MIN_IMPORTANCE_THRESHOLD"`
	FetchLimit                    int           `yaml:"fetch_limit" env:"FETCH_LIMIT"`
	Workers                       int           `yaml:"workers" env:"WORKERS"`
	EnableBackground              bool          `yaml:"enable_background" env:"ENABLE_BACKGROUND"`
	Interval                      time.Duration `yaml:"interval" env:"INTERVAL"`
}

// SummaryConfig tunes the progressive summarizer.
type SummaryConfig struct {
	MaxMessagesBeforeSummary int `yaml:"max_messages_before_summary" env:"MAX_MESSAGES"`
	TriggerTokens            int `yaml:"trigger_tokens" env:"TRIGGER_TOKENS"`
	MaxSummaryLength         int `yaml:"max_summary_length" env:"MAX_LENGTH"`

	// TokenEncoding selects the tiktoken encoding for token counting.
	// Empty means the chars/4 heuristic.
	TokenEncoding string `yaml:"token_encoding" env:"TOKEN_ENCODING"`
}

// EntityConfig tunes the entity tracker.
type EntityConfig struct {
	MaxEntitiesPerThread int `yaml:"max_entities_per_thread" env:"MAX_ENTITIES_PER_THREAD"`
}

// RetrievalConfig tunes the time-weighted retriever. Preset, when set,
// overrides the explicit weights.
type RetrievalConfig struct {
	Preset          string      `yaml:"preset" env:"PRESET"`
	SemanticWeight  float64     `yaml:"semantic_weight" env:"SEMANTIC_WEIGHT"`
	TemporalWeight  float64     `yaml:"temporal_weight" env:"TEMPORAL_WEIGHT"`
	MinScore        float64     `yaml:"min_score" env:"MIN_SCORE"`
	NormalizeScores bool        `yaml:"normalize_scores" env:"NORMALIZE_SCORES"`
	Decay           DecayConfig `yaml:"decay" env:"DECAY"`
}

// DecayConfig selects a temporal decay function by name.
type DecayConfig struct {
	// Function is one of "exponential", "linear", "logarithmic", "step".
	Function       string  `yaml:"function" env:"FUNCTION"`
	Rate           float64 `yaml:"rate" env:"RATE"`
	MaxAgeHours    float64 `yaml:"max_age_hours" env:"MAX_AGE_HOURS"`
	ThresholdHours float64 `yaml:"threshold_hours" env:"THRESHOLD_HOURS"`
	Penalty        float64 `yaml:"penalty" env:"PENALTY"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level" env:"LEVEL"`
	// Format is "json" or "console".
	Format      string   `yaml:"format" env:"FORMAT"`
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the MEMFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MEMFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Precedence: defaults, then the YAML
// file when present, then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file. A missing file is not an error.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct, following env tags. Nested structs
// extend the key: MEMFLOW_CONSOLIDATION_FETCH_LIMIT.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration wants "90s", not a bare integer
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration or panics. Intended for main().
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from defaults and environment only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Backend {
	case "", "memory", "redis", "sql", "qdrant":
	default:
		errs = append(errs, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}

	if c.Store.Backend == "sql" {
		switch c.Database.Driver {
		case "sqlite", "sqlite3", "postgres", "postgresql", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
		}
	}

	cc := c.Consolidation
	if cc.SimilarityThreshold < 0 || cc.SimilarityThreshold > 1 {
		errs = append(errs, "consolidation.similarity_threshold must be in [0,1]")
	}
	if cc.MinMemoriesForConsolidation <= 0 {
		errs = append(errs, "consolidation.min_memories_for_consolidation must be positive")
	}
	if cc.MaxMemoriesAfterConsolidation <= 0 {
		errs = append(errs, "consolidation.max_memories_after_consolidation must be positive")
	}
	if cc.MaturityHours >= cc.DormancyHours || cc.DormancyHours >= cc.ArchiveHours {
		errs = append(errs, "consolidation lifecycle thresholds must increase: maturity < dormancy < archive")
	}
	if cc.DecayRatePerDay < 0 {
		errs = append(errs, "consolidation.decay_rate_per_day must not be negative")
	}
	if cc.MinImportanceThreshold < 0 || cc.MinImportanceThreshold > 1 {
		errs = append(errs, "consolidation.min_importance_threshold must be in [0,1]")
	}
	if cc.FetchLimit <= 0 {
		errs = append(errs, "consolidation.fetch_limit must be positive")
	}
	if cc.EnableBackground && cc.Interval <= 0 {
		errs = append(errs, "consolidation.interval must be positive when background consolidation is enabled")
	}

	if c.Summary.MaxMessagesBeforeSummary <= 0 {
		errs = append(errs, "summary.max_messages_before_summary must be positive")
	}
	if c.Summary.TriggerTokens <= 0 {
		errs = append(errs, "summary.trigger_tokens must be positive")
	}
	if c.Summary.MaxSummaryLength <= 0 {
		errs = append(errs, "summary.max_summary_length must be positive")
	}

	if c.Entity.MaxEntitiesPerThread <= 0 {
		errs = append(errs, "entity.max_entities_per_thread must be positive")
	}

	if c.Retrieval.SemanticWeight < 0 || c.Retrieval.TemporalWeight < 0 {
		errs = append(errs, "retrieval weights must not be negative")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be in [0,1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres", "postgresql":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite", "sqlite3":
		return d.Name
	default:
		return ""
	}
}
