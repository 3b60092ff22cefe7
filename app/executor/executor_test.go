package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wxy/SilentFeed-sub007/app/aiprovider"
	"github.com/wxy/SilentFeed-sub007/app/budget"
	"github.com/wxy/SilentFeed-sub007/app/database"
)

// stubProvider counts concurrent calls and can block until released.
type stubProvider struct {
	mu         sync.Mutex
	calls      int32
	concurrent int32
	maxSeen    int32
	gate       chan struct{}
	err        error
	served     []string
	currency   string
}

func (p *stubProvider) ID() string    { return "stub" }
func (p *stubProvider) Model() string { return "stub-model" }

func (p *stubProvider) Currency() string {
	if p.currency != "" {
		return p.currency
	}
	return database.CurrencyUSD
}

func (p *stubProvider) TestConnection(ctx context.Context, enableReasoning bool) aiprovider.ConnectionResult {
	return aiprovider.ConnectionResult{Success: true}
}

func (p *stubProvider) Analyze(ctx context.Context, req aiprovider.AnalysisRequest) (*aiprovider.AnalysisResult, error) {
	atomic.AddInt32(&p.calls, 1)
	cur := atomic.AddInt32(&p.concurrent, 1)
	defer atomic.AddInt32(&p.concurrent, -1)
	for {
		max := atomic.LoadInt32(&p.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&p.maxSeen, max, cur) {
			break
		}
	}

	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}

	p.mu.Lock()
	p.served = append(p.served, req.Content)
	p.mu.Unlock()

	usage := aiprovider.TokenUsage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120}
	return &aiprovider.AnalysisResult{
		Topics:     map[string]float64{"technology": 0.8},
		Confidence: 0.9,
		Provider:   "stub",
		Model:      "stub-model",
		Usage:      usage,
		Cost:       p.EstimateCost(usage),
	}, nil
}

func (p *stubProvider) ProposeStrategy(ctx context.Context, prompt string) (string, aiprovider.TokenUsage, error) {
	return "{}", aiprovider.TokenUsage{}, nil
}

func (p *stubProvider) EstimateCost(usage aiprovider.TokenUsage) aiprovider.Cost {
	total := float64(usage.TotalTokens) * 0.0001
	return aiprovider.Cost{Total: total, Currency: p.Currency(), Estimated: usage.Estimated}
}

type memUsageRepository struct {
	mu      sync.Mutex
	records []database.UsageRecord
	spend   map[string]float64
}

func (m *memUsageRepository) Append(record *database.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *record)
	return nil
}

func (m *memUsageRepository) Correct(id string, c database.UsageCorrection) error { return nil }

func (m *memUsageRepository) MonthlySpend(year int, month time.Month) (map[string]float64, error) {
	if m.spend == nil {
		return map[string]float64{}, nil
	}
	return m.spend, nil
}

func (m *memUsageRepository) Query(q database.UsageQuery) ([]database.UsageRecord, error) {
	return nil, nil
}

func (m *memUsageRepository) Stats(q database.UsageQuery) (*database.UsageStats, error) {
	return nil, nil
}

func quietOptions() Options {
	opts := DefaultOptions()
	opts.DrainInterval = 10 * time.Millisecond
	return opts
}

func TestExecuteAnalysisNeverExceedsConcurrencyCap(t *testing.T) {
	provider := &stubProvider{gate: make(chan struct{})}
	opts := quietOptions()
	opts.MaxConcurrentRequests = 2
	opts.QueueTimeout = 5 * time.Second

	exec := New(opts, nil, &memUsageRepository{}, provider)
	exec.Start()
	defer exec.Stop()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec.ExecuteAnalysis(context.Background(), Request{Content: "concurrency probe", Context: "c"})
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(provider.gate)
	wg.Wait()

	if max := atomic.LoadInt32(&provider.maxSeen); max > 2 {
		t.Errorf("Provider saw %d concurrent calls, cap is 2", max)
	}
}

func TestExecuteAnalysisCacheHit(t *testing.T) {
	provider := &stubProvider{}
	usage := &memUsageRepository{}
	exec := New(quietOptions(), nil, usage, provider)

	req := Request{Content: "cache probe article", Context: "scoring"}

	first, err := exec.ExecuteAnalysis(context.Background(), req)
	if err != nil {
		t.Fatalf("First call: %v", err)
	}
	if first.CacheHit {
		t.Error("First call must be a miss")
	}
	spendAfterFirst := exec.GetStats().SpendUSD

	second, err := exec.ExecuteAnalysis(context.Background(), req)
	if err != nil {
		t.Fatalf("Second call: %v", err)
	}
	if !second.CacheHit {
		t.Error("Second identical call within TTL must hit the cache")
	}
	if got := atomic.LoadInt32(&provider.calls); got != 1 {
		t.Errorf("Provider called %d times, expected 1", got)
	}
	if exec.GetStats().SpendUSD != spendAfterFirst {
		t.Error("Cache hit must not increment cumulative spend")
	}
	if second.Topics["technology"] != first.Topics["technology"] {
		t.Error("Cached result must match the original")
	}
}

func TestExecuteAnalysisFallbackOnProviderError(t *testing.T) {
	provider := &stubProvider{err: &aiprovider.APIError{StatusCode: 401, Body: "bad key"}}
	exec := New(quietOptions(), nil, &memUsageRepository{}, provider)

	result, err := exec.ExecuteAnalysis(context.Background(), Request{Content: "golang concurrency patterns explained", Context: "c"})
	if err != nil {
		t.Fatalf("Expected fallback result, got error: %v", err)
	}
	if !result.Fallback {
		t.Fatal("Expected fallback flag set")
	}
	if result.Provider != "local" {
		t.Errorf("Expected local provider tag, got %q", result.Provider)
	}
	if len(result.Topics) == 0 {
		t.Error("Local fallback must still extract topics")
	}
	if result.CostUSD != 0 {
		t.Error("Fallback is free")
	}
}

func TestExecuteAnalysisDisallowFallbackPropagatesError(t *testing.T) {
	wantErr := &aiprovider.APIError{StatusCode: 401, Body: "bad key"}
	provider := &stubProvider{err: wantErr}
	exec := New(quietOptions(), nil, &memUsageRepository{}, provider)

	_, err := exec.ExecuteAnalysis(context.Background(), Request{Content: "x", Context: "c", DisallowFallback: true})
	var apiErr *aiprovider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError propagated, got %v", err)
	}
}

func TestExecuteAnalysisNoProvider(t *testing.T) {
	exec := New(quietOptions(), nil, &memUsageRepository{}, nil)

	result, err := exec.ExecuteAnalysis(context.Background(), Request{Content: "some article text here", Context: "c"})
	if err != nil {
		t.Fatalf("Expected fallback, got %v", err)
	}
	if !result.Fallback {
		t.Error("Expected fallback with no provider configured")
	}

	_, err = exec.ExecuteAnalysis(context.Background(), Request{Content: "x", Context: "c", DisallowFallback: true})
	if !errors.Is(err, aiprovider.ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestExecuteAnalysisQueueTimeout(t *testing.T) {
	provider := &stubProvider{gate: make(chan struct{})}
	opts := quietOptions()
	opts.MaxConcurrentRequests = 1
	opts.QueueTimeout = 50 * time.Millisecond

	exec := New(opts, nil, &memUsageRepository{}, provider)
	exec.Start()
	defer exec.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		exec.ExecuteAnalysis(context.Background(), Request{Content: "slot holder", Context: "c"})
	}()
	time.Sleep(20 * time.Millisecond)

	_, err := exec.ExecuteAnalysis(context.Background(), Request{Content: "queued", Context: "c", DisallowFallback: true})
	if !errors.Is(err, ErrQueueTimeout) {
		t.Errorf("Expected ErrQueueTimeout, got %v", err)
	}

	close(provider.gate)
	wg.Wait()
}

func TestQueuePriorityOrdering(t *testing.T) {
	provider := &stubProvider{gate: make(chan struct{})}
	opts := quietOptions()
	opts.MaxConcurrentRequests = 1
	opts.QueueTimeout = 5 * time.Second

	exec := New(opts, nil, &memUsageRepository{}, provider)
	exec.Start()
	defer exec.Stop()

	var wg sync.WaitGroup
	submit := func(content string, priority int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec.ExecuteAnalysis(context.Background(), Request{Content: content, Context: "c", Priority: priority})
		}()
	}

	// First request takes the only slot; the rest queue up.
	submit("holder", PriorityNormal)
	time.Sleep(20 * time.Millisecond)
	submit("low", PriorityLow)
	time.Sleep(20 * time.Millisecond)
	submit("high", PriorityHigh)
	time.Sleep(20 * time.Millisecond)

	close(provider.gate)
	wg.Wait()

	provider.mu.Lock()
	served := append([]string(nil), provider.served...)
	provider.mu.Unlock()

	if len(served) != 3 {
		t.Fatalf("Expected 3 served requests, got %v", served)
	}
	if served[1] != "high" || served[2] != "low" {
		t.Errorf("Expected high priority served before low, got order %v", served)
	}
}

func TestRateLimitFallback(t *testing.T) {
	provider := &stubProvider{}
	opts := quietOptions()
	opts.RatePerMinute = 1

	exec := New(opts, nil, &memUsageRepository{}, provider)

	if _, err := exec.ExecuteAnalysis(context.Background(), Request{Content: "first", Context: "c"}); err != nil {
		t.Fatalf("First call: %v", err)
	}

	result, err := exec.ExecuteAnalysis(context.Background(), Request{Content: "second", Context: "c"})
	if err != nil {
		t.Fatalf("Second call: %v", err)
	}
	if !result.Fallback || !strings.Contains(result.FallbackReason, "rate limit") {
		t.Errorf("Expected rate-limit fallback, got %+v", result)
	}
}

func TestBudgetEmergencyFallback(t *testing.T) {
	usage := &memUsageRepository{spend: map[string]float64{database.CurrencyUSD: 20.0}}
	checker := budget.NewChecker(usage, 10.0, 7.2)
	provider := &stubProvider{}

	exec := New(quietOptions(), checker, usage, provider)

	result, err := exec.ExecuteAnalysis(context.Background(), Request{Content: "over budget probe", Context: "c"})
	if err != nil {
		t.Fatalf("Expected fallback, got %v", err)
	}
	if !result.Fallback || !strings.Contains(result.FallbackReason, "budget") {
		t.Errorf("Expected budget fallback, got %+v", result)
	}
	if got := atomic.LoadInt32(&provider.calls); got != 0 {
		t.Errorf("Provider must not be called while over budget, got %d calls", got)
	}
}

func TestBudgetCeilingPreCheckFallback(t *testing.T) {
	// Under budget, but the projected cost of this call would push spend
	// past the ceiling. Admission must deny before the provider is hit.
	usage := &memUsageRepository{spend: map[string]float64{database.CurrencyUSD: 9.99}}
	checker := budget.NewChecker(usage, 10.0, 7.2)
	provider := &stubProvider{}

	exec := New(quietOptions(), checker, usage, provider)

	content := strings.Repeat("concurrent data pipelines in go ", 40)
	if est := exec.EstimateCostUSD(content); est <= 0.01 {
		t.Fatalf("Estimated cost %f too small to trip the ceiling check", est)
	}

	result, err := exec.ExecuteAnalysis(context.Background(), Request{Content: content, Context: "c"})
	if err != nil {
		t.Fatalf("Expected fallback, got %v", err)
	}
	if !result.Fallback || !strings.Contains(result.FallbackReason, "ceiling") {
		t.Errorf("Expected ceiling fallback, got %+v", result)
	}
	if got := atomic.LoadInt32(&provider.calls); got != 0 {
		t.Errorf("Provider must not be called when the estimate exceeds the ceiling, got %d calls", got)
	}

	// A cheap call still fits under the remaining headroom.
	small, err := exec.ExecuteAnalysis(context.Background(), Request{Content: "ok", Context: "c"})
	if err != nil {
		t.Fatalf("Small call: %v", err)
	}
	if small.Fallback {
		t.Errorf("Small call within headroom must reach the provider, got %+v", small)
	}
}

func TestUsageRecorded(t *testing.T) {
	provider := &stubProvider{currency: database.CurrencyCNY}
	usage := &memUsageRepository{}
	opts := quietOptions()
	opts.USDCNYRate = 7.2

	exec := New(opts, nil, usage, provider)

	result, err := exec.ExecuteAnalysis(context.Background(), Request{Content: "ledger probe", Context: "c", Purpose: "analysis"})
	if err != nil {
		t.Fatalf("ExecuteAnalysis: %v", err)
	}

	usage.mu.Lock()
	defer usage.mu.Unlock()
	if len(usage.records) != 1 {
		t.Fatalf("Expected 1 usage record, got %d", len(usage.records))
	}
	rec := usage.records[0]
	if rec.Provider != "stub" || rec.Purpose != "analysis" || !rec.Success {
		t.Errorf("Unexpected record %+v", rec)
	}
	if rec.Currency != database.CurrencyCNY {
		t.Errorf("Expected CNY record, got %s", rec.Currency)
	}
	if result.CostUSD <= 0 || result.CostUSD >= rec.TotalCost {
		t.Errorf("Expected CNY cost %f normalized down to USD, got %f", rec.TotalCost, result.CostUSD)
	}
}

func TestCheckStrategyStatus(t *testing.T) {
	provider := &stubProvider{}

	noProvider := New(quietOptions(), nil, &memUsageRepository{}, nil)
	if got := noProvider.CheckStrategyStatus(); got != LevelAlgorithmOnly {
		t.Errorf("No provider: expected algorithm-only, got %s", got)
	}

	tests := []struct {
		name  string
		spend float64
		level string
	}{
		{"healthy", 1.0, LevelFullAI},
		{"nearing", 8.5, LevelReducedAI},
		{"critical", 9.5, LevelLocalAI},
		{"exhausted", 12.0, LevelAlgorithmOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usage := &memUsageRepository{spend: map[string]float64{database.CurrencyUSD: tt.spend}}
			exec := New(quietOptions(), budget.NewChecker(usage, 10.0, 7.2), usage, provider)
			if got := exec.CheckStrategyStatus(); got != tt.level {
				t.Errorf("Spend %f: expected %s, got %s", tt.spend, tt.level, got)
			}
		})
	}
}

func TestCheckStrategyStatusErrorRate(t *testing.T) {
	provider := &stubProvider{err: &aiprovider.APIError{StatusCode: 401}}
	exec := New(quietOptions(), nil, &memUsageRepository{}, provider)

	// Every call fails, driving the error rate to 1.0.
	for i := 0; i < 4; i++ {
		exec.ExecuteAnalysis(context.Background(), Request{Content: "fail probe", Context: "c"})
	}

	if got := exec.CheckStrategyStatus(); got != LevelLocalAI {
		t.Errorf("Expected local-ai at 100%% error rate, got %s", got)
	}
}
