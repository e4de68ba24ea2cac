package scoring

import (
	"math"
	"strings"

	"go.uber.org/zap"
)

// Default parameters for decay strategies.
const (
	DefaultDecayRate     = 0.01 // exponential lambda per hour
	DefaultMaxAgeHours   = 720  // linear horizon, 30 days
	DefaultStepThreshold = 24   // step cutoff in hours
	DefaultStepPenalty   = 0.1  // weight beyond the step cutoff
)

// Decay maps a memory's age in hours to a score multiplier in [0, 1]
// (logarithmic can exceed neither bound; exponential/linear/step start at 1).
type Decay interface {
	// Weight returns the multiplier for the given age. Negative ages are
	// treated as zero.
	Weight(ageHours float64) float64
	// Kind returns the selector name of the strategy.
	Kind() string
}

// Exponential decays as e^(-rate*age).
type Exponential struct {
	Rate float64
}

func (d Exponential) Weight(ageHours float64) float64 {
	if ageHours < 0 {
		ageHours = 0
	}
	rate := d.Rate
	if rate <= 0 {
		rate = DefaultDecayRate
	}
	return math.Exp(-rate * ageHours)
}

func (d Exponential) Kind() string { return "exponential" }

// Linear decays as max(0, 1 - age/maxHours).
type Linear struct {
	MaxHours float64
}

func (d Linear) Weight(ageHours float64) float64 {
	if ageHours < 0 {
		ageHours = 0
	}
	maxHours := d.MaxHours
	if maxHours <= 0 {
		maxHours = DefaultMaxAgeHours
	}
	return math.Max(0, 1-ageHours/maxHours)
}

func (d Linear) Kind() string { return "linear" }

// Logarithmic decays as 1 / (1 + ln(1+age)).
type Logarithmic struct{}

func (d Logarithmic) Weight(ageHours float64) float64 {
	if ageHours < 0 {
		ageHours = 0
	}
	return 1 / (1 + math.Log(1+ageHours))
}

func (d Logarithmic) Kind() string { return "logarithmic" }

// Step returns 1.0 up to the threshold and a fixed penalty beyond it.
type Step struct {
	ThresholdHours float64
	Penalty        float64
}

func (d Step) Weight(ageHours float64) float64 {
	if ageHours < 0 {
		ageHours = 0
	}
	threshold := d.ThresholdHours
	if threshold <= 0 {
		threshold = DefaultStepThreshold
	}
	if ageHours <= threshold {
		return 1.0
	}
	if d.Penalty < 0 {
		return 0
	}
	return d.Penalty
}

func (d Step) Kind() string { return "step" }

// DecayConfig selects and parameterizes a decay strategy.
type DecayConfig struct {
	Function       string  `yaml:"function" json:"function"`
	Rate           float64 `yaml:"rate" json:"rate"`
	MaxAgeHours    float64 `yaml:"max_age_hours" json:"max_age_hours"`
	ThresholdHours float64 `yaml:"threshold_hours" json:"threshold_hours"`
	Penalty        float64 `yaml:"penalty" json:"penalty"`
}

// ParseDecay builds a Decay from the config. An unknown function selector
// falls back to exponential and logs a warning; it never fails.
func ParseDecay(cfg DecayConfig, logger *zap.Logger) Decay {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Function)) {
	case "exponential", "":
		return Exponential{Rate: cfg.Rate}
	case "linear":
		return Linear{MaxHours: cfg.MaxAgeHours}
	case "logarithmic", "log":
		return Logarithmic{}
	case "step":
		penalty := cfg.Penalty
		if penalty <= 0 {
			penalty = DefaultStepPenalty
		}
		return Step{ThresholdHours: cfg.ThresholdHours, Penalty: penalty}
	default:
		logger.Warn("unknown decay function, falling back to exponential",
			zap.String("function", cfg.Function))
		return Exponential{Rate: cfg.Rate}
	}
}
