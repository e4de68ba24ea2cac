package config

import "time"

// DefaultConfig returns the default configuration. Every component default
// here matches the fallback the component applies on its own when handed a
// zero value.
func DefaultConfig() *Config {
	return &Config{
		Store:         DefaultStoreConfig(),
		Redis:         DefaultRedisConfig(),
		Database:      DefaultDatabaseConfig(),
		Qdrant:        DefaultQdrantConfig(),
		Consolidation: DefaultConsolidationConfig(),
		Summary:       DefaultSummaryConfig(),
		Entity:        DefaultEntityConfig(),
		Retrieval:     DefaultRetrievalConfig(),
		Log:           DefaultLogConfig(),
		Telemetry:     DefaultTelemetryConfig(),
	}
}

// DefaultStoreConfig returns the default store selection.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend: "memory",
	}
}

// DefaultRedisConfig returns the default Redis backend configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "memflow",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// DefaultDatabaseConfig returns the default SQL backend configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            "memflow.db",
		SSLMode:         "disable",
		AutoMigrate:     true,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// DefaultQdrantConfig returns the default Qdrant backend configuration.
func DefaultQdrantConfig() QdrantConfig {
	return QdrantConfig{
		Host:       "localhost",
		Port:       6334,
		Collection: "memflow_memories",
		VectorSize: 1536,
	}
}

// DefaultConsolidationConfig returns the default engine tuning.
func DefaultConsolidationConfig() ConsolidationConfig {
	return ConsolidationConfig{
		SimilarityThreshold:           0.85,
		MinMemoriesForConsolidation:   10,
		MaxMemoriesAfterConsolidation: 500,
		MaturityHours:                 24,
		DormancyHours:                 168,
		ArchiveHours:                  720,
		DecayRatePerDay:               0.01,
		MinImportanceThreshold:        0.1,
		FetchLimit:                    1000,
		Workers:                       4,
		EnableBackground:              false,
		Interval:                      time.Hour,
	}
}

// DefaultSummaryConfig returns the default summarizer tuning.
func DefaultSummaryConfig() SummaryConfig {
	return SummaryConfig{
		MaxMessagesBeforeSummary: 10,
		TriggerTokens:            8000,
		MaxSummaryLength:         2000,
	}
}

// DefaultEntityConfig returns the default tracker tuning.
func DefaultEntityConfig() EntityConfig {
	return EntityConfig{
		MaxEntitiesPerThread: 100,
	}
}

// DefaultRetrievalConfig returns the default retriever tuning.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		SemanticWeight: 0.6,
		TemporalWeight: 0.4,
		Decay: DecayConfig{
			Function: "exponential",
			Rate:     0.01,
		},
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "memflow",
		SampleRate:   1.0,
	}
}
