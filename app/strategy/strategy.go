package strategy

// Strategy is the set of tunable pipeline parameters an AI proposal can
// adjust. Every numeric field has a hard safe range enforced by
// ValidateStrategy.
type Strategy struct {
	TargetPoolSize          int     `json:"targetPoolSize"`
	RefillBatchSize         int     `json:"refillBatchSize"`
	RefillThreshold         int     `json:"refillThreshold"`
	CooldownMinutes         int     `json:"cooldownMinutes"`
	CandidateEntryThreshold float64 `json:"candidateEntryThreshold"`
	CandidateExpiryHours    int     `json:"candidateExpiryHours"`
	Version                 int     `json:"version"`
	ValidHours              int     `json:"validHours"`
}

// Hard safe ranges for AI-proposed parameters. Out-of-range values are
// clamped silently, never rejected, so the pipeline always has a usable
// strategy.
const (
	MaxTargetPoolSize          = 10
	MaxCooldownMinutes         = 180
	MaxCandidateEntryThreshold = 0.9
	MinCandidateEntryThreshold = 0.1
	MaxCandidateExpiryHours    = 336
	MaxValidHours              = 48
)

// DefaultStrategy is the conservative baseline used before any AI
// proposal exists and to fill fields a proposal omits.
func DefaultStrategy() Strategy {
	return Strategy{
		TargetPoolSize:          5,
		RefillBatchSize:         3,
		RefillThreshold:         2,
		CooldownMinutes:         30,
		CandidateEntryThreshold: 0.5,
		CandidateExpiryHours:    168,
		Version:                 1,
		ValidHours:              24,
	}
}

// ValidateStrategy clamps every field into its safe range. It is
// idempotent: an already-valid strategy comes back unchanged.
func ValidateStrategy(s Strategy) Strategy {
	s.TargetPoolSize = clampInt(s.TargetPoolSize, 1, MaxTargetPoolSize)
	s.RefillBatchSize = clampInt(s.RefillBatchSize, 1, MaxTargetPoolSize)
	s.RefillThreshold = clampInt(s.RefillThreshold, 0, s.TargetPoolSize)
	s.CooldownMinutes = clampInt(s.CooldownMinutes, 0, MaxCooldownMinutes)
	s.CandidateEntryThreshold = clampFloat(s.CandidateEntryThreshold, MinCandidateEntryThreshold, MaxCandidateEntryThreshold)
	s.CandidateExpiryHours = clampInt(s.CandidateExpiryHours, 1, MaxCandidateExpiryHours)
	if s.Version < 1 {
		s.Version = 1
	}
	s.ValidHours = clampInt(s.ValidHours, 1, MaxValidHours)
	return s
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
