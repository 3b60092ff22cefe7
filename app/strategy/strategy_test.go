package strategy

import (
	"testing"
)

func TestValidateStrategyClampsOutOfRange(t *testing.T) {
	proposed := Strategy{
		TargetPoolSize:          50,
		RefillBatchSize:         20,
		RefillThreshold:         99,
		CooldownMinutes:         300,
		CandidateEntryThreshold: 1.5,
		CandidateExpiryHours:    1000,
		Version:                 0,
		ValidHours:              200,
	}

	got := ValidateStrategy(proposed)

	if got.TargetPoolSize != 10 {
		t.Errorf("Expected targetPoolSize clamped to 10, got %d", got.TargetPoolSize)
	}
	if got.CooldownMinutes != 180 {
		t.Errorf("Expected cooldownMinutes clamped to 180, got %d", got.CooldownMinutes)
	}
	if got.CandidateEntryThreshold != 0.9 {
		t.Errorf("Expected entry threshold clamped to 0.9, got %f", got.CandidateEntryThreshold)
	}
	if got.CandidateExpiryHours != 336 {
		t.Errorf("Expected expiry clamped to 336h, got %d", got.CandidateExpiryHours)
	}
	if got.ValidHours != 48 {
		t.Errorf("Expected validity clamped to 48h, got %d", got.ValidHours)
	}
	if got.RefillThreshold > got.TargetPoolSize {
		t.Errorf("Refill threshold %d exceeds target pool size %d", got.RefillThreshold, got.TargetPoolSize)
	}
	if got.Version != 1 {
		t.Errorf("Expected version floored at 1, got %d", got.Version)
	}
}

func TestValidateStrategyClampsNegatives(t *testing.T) {
	got := ValidateStrategy(Strategy{
		TargetPoolSize:          -5,
		RefillBatchSize:         0,
		RefillThreshold:         -1,
		CooldownMinutes:         -10,
		CandidateEntryThreshold: -0.4,
		CandidateExpiryHours:    0,
		ValidHours:              0,
	})

	if got.TargetPoolSize != 1 || got.RefillBatchSize != 1 {
		t.Errorf("Expected pool sizes floored at 1, got %d/%d", got.TargetPoolSize, got.RefillBatchSize)
	}
	if got.RefillThreshold != 0 {
		t.Errorf("Expected refill threshold floored at 0, got %d", got.RefillThreshold)
	}
	if got.CooldownMinutes != 0 {
		t.Errorf("Expected cooldown floored at 0, got %d", got.CooldownMinutes)
	}
	if got.CandidateEntryThreshold != 0.1 {
		t.Errorf("Expected entry threshold floored at 0.1, got %f", got.CandidateEntryThreshold)
	}
	if got.CandidateExpiryHours != 1 || got.ValidHours != 1 {
		t.Errorf("Expected hour fields floored at 1, got %d/%d", got.CandidateExpiryHours, got.ValidHours)
	}
}

func TestValidateStrategyIdempotent(t *testing.T) {
	valid := DefaultStrategy()
	once := ValidateStrategy(valid)
	if once != valid {
		t.Errorf("Valid strategy changed by validation: %+v -> %+v", valid, once)
	}

	invalid := Strategy{TargetPoolSize: 50, CooldownMinutes: 300, CandidateEntryThreshold: 2, CandidateExpiryHours: 999, ValidHours: 99, RefillBatchSize: 1, Version: 1}
	first := ValidateStrategy(invalid)
	second := ValidateStrategy(first)
	if first != second {
		t.Errorf("Validation not idempotent: %+v -> %+v", first, second)
	}
}
