package consolidation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, float64(DefaultSimilarityThreshold), cfg.SimilarityThreshold)
	assert.Equal(t, DefaultMinMemoriesForConsolidation, cfg.MinMemoriesForConsolidation)
	assert.Equal(t, DefaultMaxMemoriesAfterConsolidation, cfg.MaxMemoriesAfterConsolidation)
	assert.Equal(t, float64(DefaultMaturityHours), cfg.MaturityHours)
	assert.Equal(t, float64(DefaultDormancyHours), cfg.DormancyHours)
	assert.Equal(t, float64(DefaultArchiveHours), cfg.ArchiveHours)
	assert.Equal(t, float64(DefaultDecayRatePerDay), cfg.DecayRatePerDay)
	assert.Equal(t, float64(DefaultMinImportanceThreshold), cfg.MinImportanceThreshold)
	assert.Equal(t, DefaultFetchLimit, cfg.FetchLimit)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.False(t, cfg.EnableBackground)
	assert.Equal(t, time.Duration(DefaultInterval), cfg.Interval)

	require.NoError(t, cfg.Validate())
}

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()

	t.Run("zero value fills everything", func(t *testing.T) {
		t.Parallel()
		cfg := Config{}.withDefaults()
		assert.Equal(t, DefaultConfig(), cfg)
		require.NoError(t, cfg.Validate())
	})

	t.Run("set fields survive", func(t *testing.T) {
		t.Parallel()
		cfg := Config{SimilarityThreshold: 0.5, Workers: 2}.withDefaults()
		assert.Equal(t, 0.5, cfg.SimilarityThreshold)
		assert.Equal(t, 2, cfg.Workers)
		assert.Equal(t, DefaultMinMemoriesForConsolidation, cfg.MinMemoriesForConsolidation)
	})

	t.Run("background gets an interval", func(t *testing.T) {
		t.Parallel()
		cfg := Config{EnableBackground: true}.withDefaults()
		assert.Equal(t, time.Duration(DefaultInterval), cfg.Interval)
		require.NoError(t, cfg.Validate())
	})
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "similarity above one",
			mutate:  func(c *Config) { c.SimilarityThreshold = 1.5 },
			wantErr: "similarity threshold",
		},
		{
			name:    "similarity negative",
			mutate:  func(c *Config) { c.SimilarityThreshold = -0.1 },
			wantErr: "similarity threshold",
		},
		{
			name:    "lifecycle thresholds out of order",
			mutate:  func(c *Config) { c.MaturityHours = 200; c.DormancyHours = 100 },
			wantErr: "lifecycle thresholds must increase",
		},
		{
			name:    "lifecycle threshold non-positive",
			mutate:  func(c *Config) { c.MaturityHours = -1 },
			wantErr: "lifecycle hour thresholds must be positive",
		},
		{
			name:    "negative decay rate",
			mutate:  func(c *Config) { c.DecayRatePerDay = -0.5 },
			wantErr: "decay rate",
		},
		{
			name:    "min importance above one",
			mutate:  func(c *Config) { c.MinImportanceThreshold = 1.2 },
			wantErr: "min importance threshold",
		},
		{
			name:    "negative fetch limit",
			mutate:  func(c *Config) { c.FetchLimit = -5 },
			wantErr: "fetch limit",
		},
		{
			name:    "negative workers",
			mutate:  func(c *Config) { c.Workers = -1 },
			wantErr: "workers",
		},
		{
			name:    "background without interval",
			mutate:  func(c *Config) { c.EnableBackground = true; c.Interval = 0 },
			wantErr: "positive interval",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, "invalid consolidation config")
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfigValidate_CollectsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SimilarityThreshold = 2
	cfg.Workers = -3
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "similarity threshold")
	assert.ErrorContains(t, err, "workers")
}

func TestClusterThreshold(t *testing.T) {
	t.Parallel()

	cfg := Config{SimilarityThreshold: 0.9}
	assert.InDelta(t, 0.72, cfg.clusterThreshold(), 1e-9)
}
