package consolidation

import (
	"fmt"
	"strings"
	"time"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultSimilarityThreshold           = 0.85
	DefaultMinMemoriesForConsolidation   = 10
	DefaultMaxMemoriesAfterConsolidation = 500
	DefaultMaturityHours                 = 24
	DefaultDormancyHours                 = 168
	DefaultArchiveHours                  = 720
	DefaultDecayRatePerDay               = 0.01
	DefaultMinImportanceThreshold        = 0.1
	DefaultFetchLimit                    = 1000
	DefaultWorkers                       = 4
	DefaultInterval                      = time.Hour

	// clusterThresholdFactor loosens the dedup threshold for the second
	// grouping pass.
	clusterThresholdFactor = 0.8
)

// Config tunes a consolidation pass. The zero value of any field falls back
// to the package default.
type Config struct {
	// SimilarityThreshold is the dedup grouping threshold in [0, 1].
	// Clustering reuses it at 0.8×.
	SimilarityThreshold float64

	// MinMemoriesForConsolidation gates a pass: below it, consolidation is
	// a pure no-op.
	MinMemoriesForConsolidation int

	// MaxMemoriesAfterConsolidation caps the surviving set; overflow is cut
	// by importance.
	MaxMemoriesAfterConsolidation int

	// Age thresholds for lifecycle categorization, in hours.
	MaturityHours float64
	DormancyHours float64
	ArchiveHours  float64

	// DecayRatePerDay drives exponential importance decay.
	DecayRatePerDay float64

	// MinImportanceThreshold is the pruning floor.
	MinImportanceThreshold float64

	// FetchLimit bounds the match-all fetch that starts a pass.
	FetchLimit int

	// Workers bounds per-thread parallelism in ConsolidateAll.
	Workers int

	// EnableBackground turns the Start scheduler on; Interval is the tick.
	EnableBackground bool
	Interval         time.Duration
}

// DefaultConfig returns the canonical configuration.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold:           DefaultSimilarityThreshold,
		MinMemoriesForConsolidation:   DefaultMinMemoriesForConsolidation,
		MaxMemoriesAfterConsolidation: DefaultMaxMemoriesAfterConsolidation,
		MaturityHours:                 DefaultMaturityHours,
		DormancyHours:                 DefaultDormancyHours,
		ArchiveHours:                  DefaultArchiveHours,
		DecayRatePerDay:               DefaultDecayRatePerDay,
		MinImportanceThreshold:        DefaultMinImportanceThreshold,
		FetchLimit:                    DefaultFetchLimit,
		Workers:                       DefaultWorkers,
		EnableBackground:              false,
		Interval:                      DefaultInterval,
	}
}

// withDefaults fills zero fields with package defaults. Negative values pass
// through so Validate can reject them.
func (c Config) withDefaults() Config {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.MinMemoriesForConsolidation == 0 {
		c.MinMemoriesForConsolidation = DefaultMinMemoriesForConsolidation
	}
	if c.MaxMemoriesAfterConsolidation == 0 {
		c.MaxMemoriesAfterConsolidation = DefaultMaxMemoriesAfterConsolidation
	}
	if c.MaturityHours == 0 {
		c.MaturityHours = DefaultMaturityHours
	}
	if c.DormancyHours == 0 {
		c.DormancyHours = DefaultDormancyHours
	}
	if c.ArchiveHours == 0 {
		c.ArchiveHours = DefaultArchiveHours
	}
	if c.DecayRatePerDay == 0 {
		c.DecayRatePerDay = DefaultDecayRatePerDay
	}
	if c.MinImportanceThreshold == 0 {
		c.MinImportanceThreshold = DefaultMinImportanceThreshold
	}
	if c.FetchLimit == 0 {
		c.FetchLimit = DefaultFetchLimit
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Validate reports every configuration problem at once, joined with "; ".
func (c Config) Validate() error {
	var errs []string

	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Sprintf("similarity threshold must be in [0, 1], got %v", c.SimilarityThreshold))
	}
	if c.MinMemoriesForConsolidation <= 0 {
		errs = append(errs, fmt.Sprintf("min memories for consolidation must be positive, got %d", c.MinMemoriesForConsolidation))
	}
	if c.MaxMemoriesAfterConsolidation <= 0 {
		errs = append(errs, fmt.Sprintf("max memories after consolidation must be positive, got %d", c.MaxMemoriesAfterConsolidation))
	}
	if c.MaturityHours <= 0 || c.DormancyHours <= 0 || c.ArchiveHours <= 0 {
		errs = append(errs, "lifecycle hour thresholds must be positive")
	} else if !(c.MaturityHours < c.DormancyHours && c.DormancyHours < c.ArchiveHours) {
		errs = append(errs, fmt.Sprintf("lifecycle thresholds must increase: maturity %v < dormancy %v < archive %v",
			c.MaturityHours, c.DormancyHours, c.ArchiveHours))
	}
	if c.DecayRatePerDay < 0 {
		errs = append(errs, fmt.Sprintf("decay rate per day must be non-negative, got %v", c.DecayRatePerDay))
	}
	if c.MinImportanceThreshold < 0 || c.MinImportanceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("min importance threshold must be in [0, 1], got %v", c.MinImportanceThreshold))
	}
	if c.FetchLimit <= 0 {
		errs = append(errs, fmt.Sprintf("fetch limit must be positive, got %d", c.FetchLimit))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Sprintf("workers must be positive, got %d", c.Workers))
	}
	if c.EnableBackground && c.Interval <= 0 {
		errs = append(errs, "background consolidation requires a positive interval")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid consolidation config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// clusterThreshold is the looser grouping threshold for the second pass.
func (c Config) clusterThreshold() float64 {
	return clusterThresholdFactor * c.SimilarityThreshold
}
