package scoring

import (
	"math"
	"time"

	"github.com/BaSui01/memflow/types"
)

// Weights of the multi-factor importance score.
const (
	recencyWeight    = 0.3
	accessWeight     = 0.2
	importanceWeight = 0.3
	lifecycleWeight  = 0.2

	recencyDecayRate = 0.01 // per hour
	accessSaturation = 10   // accesses at which the access factor saturates
)

var lifecycleFactors = map[types.LifecycleStage]float64{
	types.StageNew:          1.0,
	types.StageActive:       0.9,
	types.StageMature:       0.7,
	types.StageDormant:      0.4,
	types.StageArchiveReady: 0.2,
	types.StageArchived:     0.1,
}

// LifecycleFactor returns the fixed importance factor for a lifecycle stage.
// Unknown stages score as NEW.
func LifecycleFactor(s types.LifecycleStage) float64 {
	if f, ok := lifecycleFactors[s]; ok {
		return f
	}
	return lifecycleFactors[types.StageNew]
}

// ImportanceScore computes the multi-factor importance of a memory at the
// given instant:
//
//	0.3*e^(-0.01*ageHours) + 0.2*min(1, accessCount/10) +
//	0.3*importance + 0.2*lifecycleFactor
//
// clamped to [0, 1].
func ImportanceScore(m *types.Memory, now time.Time) float64 {
	recency := math.Exp(-recencyDecayRate * m.AgeHours(now))
	access := math.Min(1, float64(m.AccessCount)/accessSaturation)
	lifecycle := LifecycleFactor(m.LifecycleStage)

	score := recencyWeight*recency +
		accessWeight*access +
		importanceWeight*m.Importance +
		lifecycleWeight*lifecycle
	return Clamp01(score)
}

// Clamp01 bounds v into [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
