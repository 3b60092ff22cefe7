package executor

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wxy/SilentFeed-sub007/app/aiprovider"
	"github.com/wxy/SilentFeed-sub007/app/budget"
	"github.com/wxy/SilentFeed-sub007/app/database"
	"github.com/wxy/SilentFeed-sub007/app/scoring"
)

// Request priority tiers. Higher dispatches first.
const (
	PriorityLow    = 0
	PriorityNormal = 5
	PriorityHigh   = 10
)

// Operating levels reported by CheckStrategyStatus.
const (
	LevelFullAI        = "full-ai"
	LevelReducedAI     = "reduced-ai"
	LevelLocalAI       = "local-ai"
	LevelAlgorithmOnly = "algorithm-only"
)

var (
	// ErrQueueTimeout is returned to a caller whose request waited past
	// the configured queue timeout without being dispatched.
	ErrQueueTimeout = errors.New("request timed out in executor queue")
	// ErrQueueFull is returned when the wait queue is at capacity and
	// the caller disallowed fallback.
	ErrQueueFull = errors.New("executor queue is full")
)

// Options configures a single executor instance.
type Options struct {
	MaxConcurrentRequests int
	QueueSize             int
	QueueTimeout          time.Duration
	CacheSize             int
	CacheTTL              time.Duration
	CacheEnabled          bool
	RatePerMinute         int
	RatePerHour           int
	RatePerDay            int
	CallTimeout           time.Duration
	DrainInterval         time.Duration
	USDCNYRate            float64
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrentRequests: 3,
		QueueSize:             50,
		QueueTimeout:          30 * time.Second,
		CacheSize:             200,
		CacheTTL:              time.Hour,
		CacheEnabled:          true,
		RatePerMinute:         10,
		RatePerHour:           100,
		RatePerDay:            500,
		CallTimeout:           30 * time.Second,
		DrainInterval:         time.Second,
		USDCNYRate:            7.2,
	}
}

// Request is a single analysis submission.
type Request struct {
	Content          string
	Context          string
	Purpose          string
	Priority         int
	DisallowFallback bool
}

// Result is the outcome of an analysis, whether AI-derived, cached or
// locally computed.
type Result struct {
	Topics         map[string]float64    `json:"topics"`
	Confidence     float64               `json:"confidence"`
	Provider       string                `json:"provider"`
	Model          string                `json:"model,omitempty"`
	Usage          aiprovider.TokenUsage `json:"usage"`
	CostUSD        float64               `json:"costUsd"`
	LatencyMs      int64                 `json:"latencyMs"`
	CacheHit       bool                  `json:"cacheHit"`
	Fallback       bool                  `json:"fallback"`
	FallbackReason string                `json:"fallbackReason,omitempty"`
}

// Executor is the single admission point for AI-assisted analysis calls.
// It enforces the budget ceiling, rate windows, a concurrency cap with a
// priority queue, and response caching, degrading to a local analysis
// when AI is unavailable.
type Executor struct {
	opts     Options
	budget   *budget.Checker
	usage    database.UsageRepository
	provider aiprovider.Provider

	cache   *responseCache
	limiter *rateLimiter

	mu           sync.Mutex
	inFlight     int
	queue        waitQueue
	seq          uint64
	spendUSD     float64
	successCount int
	errorCount   int

	stopCh  chan struct{}
	stopped sync.WaitGroup
	started bool
	now     func() time.Time
}

// New builds an executor. provider may be nil; every request then takes
// the fallback path (or errors when fallback is disallowed).
func New(opts Options, checker *budget.Checker, usage database.UsageRepository, provider aiprovider.Provider) *Executor {
	if opts.USDCNYRate <= 0 {
		opts.USDCNYRate = 7.2
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = time.Second
	}
	return &Executor{
		opts:     opts,
		budget:   checker,
		usage:    usage,
		provider: provider,
		cache:    newResponseCache(opts.CacheSize, opts.CacheTTL),
		limiter:  newRateLimiter(opts.RatePerMinute, opts.RatePerHour, opts.RatePerDay),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the background queue drain loop.
func (e *Executor) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.stopped.Add(1)
	go func() {
		defer e.stopped.Done()
		ticker := time.NewTicker(e.opts.DrainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.mu.Lock()
				e.dispatchLocked()
				e.mu.Unlock()
			case <-e.stopCh:
				return
			}
		}
	}()
	slog.Info("AI executor started",
		"maxConcurrent", e.opts.MaxConcurrentRequests,
		"queueSize", e.opts.QueueSize,
		"cacheSize", e.opts.CacheSize)
}

// Stop terminates the drain loop. In-flight calls finish on their own.
func (e *Executor) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()

	close(e.stopCh)
	e.stopped.Wait()
	slog.Info("AI executor stopped")
}

// ExecuteAnalysis runs the admission pipeline for one request: budget
// gate, rate windows, cache, then the concurrency-capped AI call. Any
// execution failure degrades to the local fallback unless the caller
// disallowed it.
func (e *Executor) ExecuteAnalysis(ctx context.Context, req Request) (*Result, error) {
	if e.budget != nil {
		if e.budget.ShouldDowngrade() {
			return e.fallback(req, "monthly budget exhausted")
		}
		if !e.budget.CanMakeAICall(e.EstimateCostUSD(req.Content)) {
			return e.fallback(req, "estimated cost would exceed budget ceiling")
		}
	}

	if ok, window := e.limiter.allow(); !ok {
		return e.fallback(req, fmt.Sprintf("rate limit exhausted (%s window)", window))
	}

	key := cacheKey(req.Content, req.Context)
	if e.opts.CacheEnabled {
		if cached, ok := e.cache.get(key); ok {
			hit := *cached
			hit.CacheHit = true
			return &hit, nil
		}
	}

	if e.provider == nil {
		return e.fallbackOrError(req, aiprovider.ErrNotConfigured)
	}

	if err := e.acquireSlot(ctx, req.Priority); err != nil {
		return e.fallbackOrError(req, err)
	}
	defer e.releaseSlot()

	result, err := e.executeAI(ctx, req)
	if err != nil {
		return e.fallbackOrError(req, err)
	}

	if e.opts.CacheEnabled {
		e.cache.put(key, result)
	}
	return result, nil
}

// acquireSlot grants an in-flight slot immediately when under the cap,
// otherwise parks the request in the priority queue until a slot frees,
// the queue timeout passes, or the context is cancelled.
func (e *Executor) acquireSlot(ctx context.Context, priority int) error {
	e.mu.Lock()
	if e.inFlight < e.opts.MaxConcurrentRequests {
		e.inFlight++
		e.mu.Unlock()
		return nil
	}

	if e.opts.QueueSize > 0 && len(e.queue) >= e.opts.QueueSize {
		e.mu.Unlock()
		return ErrQueueFull
	}

	w := &waiter{
		priority:   priority,
		seq:        e.seq,
		enqueuedAt: e.now(),
		ready:      make(chan struct{}),
	}
	e.seq++
	heap.Push(&e.queue, w)
	e.mu.Unlock()

	timer := time.NewTimer(e.opts.QueueTimeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		return nil
	case <-timer.C:
		return e.abandon(w, ErrQueueTimeout)
	case <-ctx.Done():
		return e.abandon(w, ctx.Err())
	}
}

// abandon marks a parked waiter as dead. When the grant raced ahead of
// the timeout the slot is kept and the request proceeds.
func (e *Executor) abandon(w *waiter, cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w.granted {
		return nil
	}
	w.abandoned = true
	return cause
}

func (e *Executor) releaseSlot() {
	e.mu.Lock()
	e.inFlight--
	e.dispatchLocked()
	e.mu.Unlock()
}

// dispatchLocked grants freed slots to the highest-priority waiters,
// discarding abandoned and stale entries. Caller holds e.mu.
func (e *Executor) dispatchLocked() {
	now := e.now()
	for e.inFlight < e.opts.MaxConcurrentRequests && len(e.queue) > 0 {
		w := heap.Pop(&e.queue).(*waiter)
		if w.abandoned {
			continue
		}
		if e.opts.QueueTimeout > 0 && now.Sub(w.enqueuedAt) > e.opts.QueueTimeout {
			w.abandoned = true
			continue
		}
		w.granted = true
		e.inFlight++
		close(w.ready)
	}
}

// executeAI performs the provider call with a per-call timeout and one
// bounded retry on transient failures, then records usage and spend.
func (e *Executor) executeAI(ctx context.Context, req Request) (*Result, error) {
	analysis := aiprovider.AnalysisRequest{
		Title:   req.Context,
		Content: req.Content,
		Purpose: req.Purpose,
	}

	var result *aiprovider.AnalysisResult
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if e.opts.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, e.opts.CallTimeout)
		}
		result, err = e.provider.Analyze(callCtx, analysis)
		if cancel != nil {
			cancel()
		}
		if err == nil || !aiprovider.IsTransient(err) || ctx.Err() != nil {
			break
		}
		slog.Warn("Transient provider error, retrying", "provider", e.provider.ID(), "err", err)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		e.recordCall(req, nil, err)
		return nil, err
	}

	e.recordCall(req, result, nil)

	return &Result{
		Topics:     result.Topics,
		Confidence: result.Confidence,
		Provider:   result.Provider,
		Model:      result.Model,
		Usage:      result.Usage,
		CostUSD:    e.toUSD(result.Cost),
		LatencyMs:  result.LatencyMs,
	}, nil
}

// recordCall appends a usage record and updates the serialized spend and
// success/error counters.
func (e *Executor) recordCall(req Request, result *aiprovider.AnalysisResult, callErr error) {
	record := &database.UsageRecord{
		Provider: e.provider.ID(),
		Model:    e.provider.Model(),
		Purpose:  req.Purpose,
		Currency: e.provider.Currency(),
		Success:  callErr == nil,
	}
	if callErr != nil {
		record.ErrorMessage = callErr.Error()
	}

	var costUSD float64
	if result != nil {
		record.InputTokens = result.Usage.InputTokens
		record.OutputTokens = result.Usage.OutputTokens
		record.TotalTokens = result.Usage.TotalTokens
		record.TokensEstimated = result.Usage.Estimated
		record.InputCost = result.Cost.Input
		record.OutputCost = result.Cost.Output
		record.TotalCost = result.Cost.Total
		record.Currency = result.Cost.Currency
		record.CostEstimated = result.Cost.Estimated
		record.LatencyMs = result.LatencyMs
		costUSD = e.toUSD(result.Cost)
	}

	e.mu.Lock()
	if callErr == nil {
		e.successCount++
		e.spendUSD += costUSD
	} else {
		e.errorCount++
	}
	e.mu.Unlock()

	if e.usage != nil {
		if err := e.usage.Append(record); err != nil {
			slog.Error("Failed to append usage record", "provider", record.Provider, "err", err)
		}
	}
}

// toUSD normalizes a native-currency cost for budget accounting.
func (e *Executor) toUSD(cost aiprovider.Cost) float64 {
	switch cost.Currency {
	case database.CurrencyCNY:
		return cost.Total / e.opts.USDCNYRate
	case database.CurrencyFree:
		return 0
	default:
		return cost.Total
	}
}

// fallbackOrError degrades to the local path, or propagates the cause
// when the caller disallowed fallback.
func (e *Executor) fallbackOrError(req Request, cause error) (*Result, error) {
	if req.DisallowFallback {
		return nil, cause
	}
	return e.fallback(req, cause.Error())
}

// fallback is the always-available, zero-cost local analysis: TF-IDF
// topic extraction with a fixed low confidence.
func (e *Executor) fallback(req Request, reason string) (*Result, error) {
	if req.DisallowFallback {
		return nil, fmt.Errorf("analysis unavailable: %s", reason)
	}
	return &Result{
		Topics:         scoring.ExtractTopics(req.Content, 5),
		Confidence:     0.3,
		Provider:       "local",
		Fallback:       true,
		FallbackReason: reason,
	}, nil
}

// EstimateCostUSD projects the USD cost of analyzing the given content,
// for pre-admission budget checks.
func (e *Executor) EstimateCostUSD(content string) float64 {
	if e.provider == nil {
		return 0
	}
	tokens := len(content) / 4
	usage := aiprovider.TokenUsage{
		InputTokens:  tokens,
		OutputTokens: tokens / 4,
		TotalTokens:  tokens + tokens/4,
		Estimated:    true,
	}
	return e.toUSD(e.provider.EstimateCost(usage))
}

// CheckStrategyStatus derives the advisory operating level from the
// budget usage ratio and the session error rate. Per-call admission
// checks remain authoritative.
func (e *Executor) CheckStrategyStatus() string {
	if e.provider == nil {
		return LevelAlgorithmOnly
	}

	ratio := 0.0
	if e.budget != nil {
		ratio = e.budget.GetBudgetStatus().UsageRatio
	}

	e.mu.Lock()
	total := e.successCount + e.errorCount
	errorRate := 0.0
	if total > 0 {
		errorRate = float64(e.errorCount) / float64(total)
	}
	e.mu.Unlock()

	switch {
	case ratio >= 1.0:
		return LevelAlgorithmOnly
	case ratio >= 0.9 || errorRate >= 0.5:
		return LevelLocalAI
	case ratio >= 0.8 || errorRate >= 0.2:
		return LevelReducedAI
	default:
		return LevelFullAI
	}
}

// Stats is a point-in-time view of executor internals.
type Stats struct {
	InFlight     int     `json:"inFlight"`
	Queued       int     `json:"queued"`
	CacheEntries int     `json:"cacheEntries"`
	SpendUSD     float64 `json:"spendUsd"`
	SuccessCount int     `json:"successCount"`
	ErrorCount   int     `json:"errorCount"`
}

func (e *Executor) GetStats() Stats {
	e.mu.Lock()
	s := Stats{
		InFlight:     e.inFlight,
		Queued:       len(e.queue),
		SpendUSD:     e.spendUSD,
		SuccessCount: e.successCount,
		ErrorCount:   e.errorCount,
	}
	e.mu.Unlock()
	s.CacheEntries = e.cache.len()
	return s
}
