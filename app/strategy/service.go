package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wxy/SilentFeed-sub007/app/aiprovider"
	"github.com/wxy/SilentFeed-sub007/app/database"
)

// ErrNoProvider is returned by GenerateNewStrategy when no AI provider
// is configured. Strategy generation never silently falls back.
var ErrNoProvider = errors.New("no AI provider configured for strategy generation")

// Proposer is the slice of the AI capability layer strategy generation
// needs.
type Proposer interface {
	ID() string
	Model() string
	Currency() string
	ProposeStrategy(ctx context.Context, prompt string) (string, aiprovider.TokenUsage, error)
	EstimateCost(usage aiprovider.TokenUsage) aiprovider.Cost
}

// Context is the system-wide supply/demand snapshot a strategy proposal
// is generated from. Collecting it is a pure read.
type Context struct {
	ActiveFeedCount     int                `json:"activeFeedCount"`
	RawPoolSize         int                `json:"rawPoolSize"`
	CandidatePoolSize   int                `json:"candidatePoolSize"`
	RecommendedPoolSize int                `json:"recommendedPoolSize"`
	ReadCount           int                `json:"readCount"`
	AnalyzedCount       int                `json:"analyzedCount"`
	CandidateAvgScore   float64            `json:"candidateAvgScore"`
	MonthlySpend        map[string]float64 `json:"monthlySpend"`
	GeneratedAt         time.Time          `json:"generatedAt"`
}

// Service owns the lifecycle of the single current strategy decision.
type Service struct {
	store    database.StrategyRepository
	articles database.ArticleRepository
	feeds    database.FeedRepository
	usage    database.UsageRepository
	proposer Proposer
	now      func() time.Time
}

// NewService builds the strategy decision service. proposer may be nil
// when no AI provider is configured; GenerateNewStrategy then fails fast.
func NewService(store database.StrategyRepository, articles database.ArticleRepository,
	feeds database.FeedRepository, usage database.UsageRepository, proposer Proposer) *Service {
	return &Service{
		store:    store,
		articles: articles,
		feeds:    feeds,
		usage:    usage,
		proposer: proposer,
		now:      time.Now,
	}
}

// CollectContext snapshots the current supply/demand state.
func (s *Service) CollectContext() (*Context, error) {
	feeds, err := s.feeds.GetActiveSubscribedFeeds()
	if err != nil {
		return nil, fmt.Errorf("collect feed context: %w", err)
	}

	counts, err := s.articles.CountByStatus()
	if err != nil {
		return nil, fmt.Errorf("collect pool context: %w", err)
	}

	analyzed, err := s.articles.CountAnalyzed()
	if err != nil {
		return nil, fmt.Errorf("collect analysis context: %w", err)
	}

	readCount, err := s.articles.CountExitedByReason(database.ExitReasonRead)
	if err != nil {
		return nil, fmt.Errorf("collect read context: %w", err)
	}

	avgScore, err := s.articles.CandidateAverageScore()
	if err != nil {
		return nil, fmt.Errorf("collect score context: %w", err)
	}

	t := s.now().UTC()
	spend, err := s.usage.MonthlySpend(t.Year(), t.Month())
	if err != nil {
		// Spend is advisory input to the proposal; a read failure must
		// not block strategy generation.
		slog.Warn("Failed to read monthly spend for strategy context", "err", err)
		spend = map[string]float64{}
	}

	return &Context{
		ActiveFeedCount:     len(feeds),
		RawPoolSize:         counts[database.PoolStatusRaw],
		CandidatePoolSize:   counts[database.PoolStatusCandidate],
		RecommendedPoolSize: counts[database.PoolStatusRecommended],
		ReadCount:           readCount,
		AnalyzedCount:       analyzed,
		CandidateAvgScore:   avgScore,
		MonthlySpend:        spend,
		GeneratedAt:         t,
	}, nil
}

// GenerateNewStrategy asks the AI provider for a parameter proposal,
// clamps it into safe ranges and persists the resulting decision. The
// proposal call is appended to the usage ledger here, whichever caller
// triggered it; the token usage is also returned for reporting.
func (s *Service) GenerateNewStrategy(ctx context.Context) (*database.StrategyDecision, Strategy, aiprovider.TokenUsage, error) {
	if s.proposer == nil {
		return nil, Strategy{}, aiprovider.TokenUsage{}, ErrNoProvider
	}

	sysContext, err := s.CollectContext()
	if err != nil {
		return nil, Strategy{}, aiprovider.TokenUsage{}, err
	}

	contextJSON, err := json.Marshal(sysContext)
	if err != nil {
		return nil, Strategy{}, aiprovider.TokenUsage{}, fmt.Errorf("marshal strategy context: %w", err)
	}

	prompt := buildPrompt(string(contextJSON))
	start := time.Now()
	proposal, usage, err := s.proposer.ProposeStrategy(ctx, prompt)
	s.recordUsage(usage, time.Since(start), err)
	if err != nil {
		return nil, Strategy{}, usage, fmt.Errorf("strategy proposal from %s: %w", s.proposer.ID(), err)
	}

	proposed := DefaultStrategy()
	if err := json.Unmarshal([]byte(proposal), &proposed); err != nil {
		return nil, Strategy{}, usage, fmt.Errorf("parse strategy proposal: %w", err)
	}

	validated := ValidateStrategy(proposed)
	if validated != proposed {
		slog.Info("Clamped out-of-range strategy proposal",
			"provider", s.proposer.ID(), "proposed", proposed, "validated", validated)
	}

	strategyJSON, err := json.Marshal(validated)
	if err != nil {
		return nil, Strategy{}, usage, fmt.Errorf("marshal validated strategy: %w", err)
	}

	t := s.now().UTC()
	decision := &database.StrategyDecision{
		CreatedAt:    t,
		ValidUntil:   t.Add(time.Duration(validated.ValidHours) * time.Hour),
		NextReview:   t.Add(time.Duration(validated.ValidHours) * time.Hour / 2),
		Status:       database.DecisionStatusActive,
		ContextJSON:  string(contextJSON),
		StrategyJSON: string(strategyJSON),
	}
	if err := s.store.Save(decision); err != nil {
		return nil, Strategy{}, usage, fmt.Errorf("persist strategy decision: %w", err)
	}

	slog.Info("Generated new strategy decision",
		"id", decision.ID, "validUntil", decision.ValidUntil, "provider", s.proposer.ID())
	return decision, validated, usage, nil
}

// recordUsage appends the proposal call to the usage ledger, success or
// not. A ledger write failure is logged rather than failing generation;
// the budget checker degrades safely on missing data.
func (s *Service) recordUsage(usage aiprovider.TokenUsage, elapsed time.Duration, callErr error) {
	cost := s.proposer.EstimateCost(usage)
	record := &database.UsageRecord{
		Timestamp:       s.now().UTC(),
		Provider:        s.proposer.ID(),
		Model:           s.proposer.Model(),
		Purpose:         "strategy_generation",
		InputTokens:     usage.InputTokens,
		OutputTokens:    usage.OutputTokens,
		TotalTokens:     usage.TotalTokens,
		TokensEstimated: usage.Estimated,
		InputCost:       cost.Input,
		OutputCost:      cost.Output,
		TotalCost:       cost.Total,
		Currency:        cost.Currency,
		CostEstimated:   cost.Estimated,
		LatencyMs:       elapsed.Milliseconds(),
		Success:         callErr == nil,
	}
	if callErr != nil {
		record.ErrorMessage = callErr.Error()
	}
	if err := s.usage.Append(record); err != nil {
		slog.Error("Failed to record strategy generation usage", "err", err)
	}
}

// GetCurrentStrategy returns the active decision and its parsed
// strategy, or nil when none exists. An expired decision is deleted on
// read (lazy expiry); calling this repeatedly is idempotent.
func (s *Service) GetCurrentStrategy() (*database.StrategyDecision, *Strategy, error) {
	decision, err := s.store.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("read strategy decision: %w", err)
	}
	if decision == nil {
		return nil, nil, nil
	}

	if !decision.ValidUntil.After(s.now().UTC()) {
		slog.Info("Strategy decision expired, invalidating", "id", decision.ID, "validUntil", decision.ValidUntil)
		if err := s.store.Delete(decision.ID); err != nil {
			return nil, nil, fmt.Errorf("invalidate expired strategy: %w", err)
		}
		return nil, nil, nil
	}

	var parsed Strategy
	if err := json.Unmarshal([]byte(decision.StrategyJSON), &parsed); err != nil {
		return nil, nil, fmt.Errorf("parse stored strategy: %w", err)
	}
	return decision, &parsed, nil
}

// EffectiveStrategy returns the current strategy or the default baseline
// when no valid decision exists.
func (s *Service) EffectiveStrategy() Strategy {
	_, current, err := s.GetCurrentStrategy()
	if err != nil {
		slog.Error("Failed to load current strategy, using defaults", "err", err)
		return DefaultStrategy()
	}
	if current == nil {
		return DefaultStrategy()
	}
	return *current
}

func buildPrompt(contextJSON string) string {
	return fmt.Sprintf(`Current recommendation pipeline state:
%s

Propose tunable parameters as a JSON object with these fields:
{"targetPoolSize": int, "refillBatchSize": int, "refillThreshold": int, "cooldownMinutes": int, "candidateEntryThreshold": float, "candidateExpiryHours": int, "version": int, "validHours": int}

Balance supply (raw and candidate pool sizes) against demand (read count and recommended pool size).`, contextJSON)
}
