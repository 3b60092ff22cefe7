package scoring

import (
	"fmt"

	"github.com/wxy/SilentFeed-sub007/app/database"
)

// ThresholdConfig controls when the pipeline switches from cold-start to
// profile-based recommendation.
type ThresholdConfig struct {
	BaseThreshold int // browsing events needed with no subscription signal
	MinThreshold  int // hard floor after per-feed reductions

	// Per-feed reductions by subscription source. Imported subscriptions
	// carry the strongest interest signal, discovered ones the weakest.
	ImportedReduction   float64
	ManualReduction     float64
	DiscoveredReduction float64

	MinFeedsForColdStart int
	MinAnalyzedArticles  int
}

func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		BaseThreshold:        50,
		MinThreshold:         10,
		ImportedReduction:    3,
		ManualReduction:      2,
		DiscoveredReduction:  1,
		MinFeedsForColdStart: 3,
		MinAnalyzedArticles:  10,
	}
}

// DynamicThreshold computes how many browsing events are needed before
// profile-based recommendation takes over, reduced per subscribed feed
// according to its subscription source and floored at the minimum.
func DynamicThreshold(feeds []database.Feed, cfg ThresholdConfig) int {
	reduction := 0.0
	for _, f := range feeds {
		if f.Status != "subscribed" {
			continue
		}
		switch f.Source {
		case "imported":
			reduction += cfg.ImportedReduction
		case "manual":
			reduction += cfg.ManualReduction
		case "discovered":
			reduction += cfg.DiscoveredReduction
		}
	}

	threshold := cfg.BaseThreshold - int(reduction)
	if threshold < cfg.MinThreshold {
		threshold = cfg.MinThreshold
	}
	return threshold
}

// ColdStartDecision explains whether cold-start scoring should be used.
type ColdStartDecision struct {
	UseColdStart       bool    `json:"useColdStart"`
	EffectiveThreshold int     `json:"effectiveThreshold"`
	BaseThreshold      int     `json:"baseThreshold"`
	Reason             string  `json:"reason"`
	Confidence         float64 `json:"confidence"`
}

// ShouldUseColdStartStrategy decides between cold-start and profile-based
// recommendation given the current browsing-event count and available
// subscription data.
func ShouldUseColdStartStrategy(currentCount int, feeds []database.Feed, analyzedArticleCount int, cfg ThresholdConfig) ColdStartDecision {
	effective := DynamicThreshold(feeds, cfg)
	decision := ColdStartDecision{
		EffectiveThreshold: effective,
		BaseThreshold:      cfg.BaseThreshold,
	}

	if currentCount >= effective {
		decision.Reason = fmt.Sprintf("browsing history sufficient (%d >= %d), using profile-based recommendation", currentCount, effective)
		decision.Confidence = 1.0
		return decision
	}

	subscribed := 0
	weighted := 0
	for _, f := range feeds {
		if f.Status != "subscribed" {
			continue
		}
		subscribed++
		if f.Source == "imported" || f.Source == "manual" {
			weighted++
		}
	}

	if subscribed < cfg.MinFeedsForColdStart {
		decision.Reason = fmt.Sprintf("too few subscribed feeds for cold start (%d < %d)", subscribed, cfg.MinFeedsForColdStart)
		decision.Confidence = 0.3
		return decision
	}

	if analyzedArticleCount < cfg.MinAnalyzedArticles {
		decision.Reason = fmt.Sprintf("too few analyzed articles for cold start (%d < %d)", analyzedArticleCount, cfg.MinAnalyzedArticles)
		decision.Confidence = 0.3
		return decision
	}

	decision.UseColdStart = true
	decision.Reason = fmt.Sprintf("browsing history insufficient (%d < %d), using cold-start strategy", currentCount, effective)
	// Confidence scales with the share of feeds the user deliberately
	// subscribed to (imported or manual), in the 0.5-0.9 range.
	decision.Confidence = 0.5 + 0.4*float64(weighted)/float64(subscribed)

	return decision
}
