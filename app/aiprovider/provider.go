package aiprovider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/wxy/SilentFeed-sub007/app/config"
	"github.com/wxy/SilentFeed-sub007/app/database"
)

// ErrNotConfigured is returned when a call needs an AI provider but none
// is configured. Callers treat it as a configuration error, never retried.
var ErrNotConfigured = errors.New("no AI provider configured")

// TokenUsage reports the token counts of a single provider call.
// Estimated is set when the provider could not report exact counts;
// such records are eligible for a later one-time correction.
type TokenUsage struct {
	InputTokens  int  `json:"inputTokens"`
	OutputTokens int  `json:"outputTokens"`
	TotalTokens  int  `json:"totalTokens"`
	Estimated    bool `json:"estimated"`
}

// Cost is the monetary cost of a call in the provider's native currency.
type Cost struct {
	Input     float64 `json:"input"`
	Output    float64 `json:"output"`
	Total     float64 `json:"total"`
	Currency  string  `json:"currency"`
	Estimated bool    `json:"estimated"`
}

// ConnectionResult is the outcome of a provider connectivity probe.
type ConnectionResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latencyMs,omitempty"`
}

// AnalysisRequest asks a provider to analyze a single article.
type AnalysisRequest struct {
	Title   string
	Content string
	Purpose string
}

// AnalysisResult is the structured output of an article analysis call.
type AnalysisResult struct {
	Topics     map[string]float64 `json:"topics"`
	Confidence float64            `json:"confidence"`
	Provider   string             `json:"provider"`
	Model      string             `json:"model"`
	Usage      TokenUsage         `json:"usage"`
	Cost       Cost               `json:"cost"`
	LatencyMs  int64              `json:"latencyMs"`
}

// Provider is the capability contract every AI backend implements.
type Provider interface {
	ID() string
	Model() string
	Currency() string
	TestConnection(ctx context.Context, enableReasoning bool) ConnectionResult
	Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error)
	ProposeStrategy(ctx context.Context, prompt string) (string, TokenUsage, error)
	EstimateCost(usage TokenUsage) Cost
}

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the error is worth retrying: timeouts,
// rate limits and server errors are; auth, quota and unknown-model
// failures are permanent.
func (e *APIError) Transient() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	}
	return false
}

// IsTransient classifies any error from a provider call. Network and
// context timeouts count as transient alongside retryable API statuses.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// New builds a provider from its configuration entry. Unknown kinds and
// missing credentials are configuration errors.
func New(pc config.ProviderConfig) (Provider, error) {
	switch pc.Kind {
	case config.ProviderKindDeepSeek:
		if pc.APIKey == "" {
			return nil, fmt.Errorf("provider %q: %w", pc.ID, ErrNotConfigured)
		}
		return newChatProvider(pc, chatDefaults{
			baseURL:        "https://api.deepseek.com/v1",
			model:          "deepseek-chat",
			currency:       database.CurrencyCNY,
			inputPerMTok:   2.0,
			outputPerMTok:  8.0,
			estimateTokens: false,
		}), nil
	case config.ProviderKindOpenAI:
		if pc.APIKey == "" {
			return nil, fmt.Errorf("provider %q: %w", pc.ID, ErrNotConfigured)
		}
		return newChatProvider(pc, chatDefaults{
			baseURL:        "https://api.openai.com/v1",
			model:          "gpt-4o-mini",
			currency:       database.CurrencyUSD,
			inputPerMTok:   0.15,
			outputPerMTok:  0.60,
			estimateTokens: false,
		}), nil
	case config.ProviderKindOllama:
		return newChatProvider(pc, chatDefaults{
			baseURL:        "http://localhost:11434/v1",
			model:          "llama3.1",
			currency:       database.CurrencyFree,
			estimateTokens: true,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q (valid: deepseek, openai, ollama)", pc.Kind)
	}
}

// Registry resolves provider ids to constructed clients.
type Registry struct {
	providers map[string]Provider
	defaultID string
}

func NewRegistry(cfg *config.ProvidersConfig) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]Provider),
		defaultID: cfg.Default,
	}
	for _, pc := range cfg.Providers {
		p, err := New(pc)
		if err != nil {
			return nil, fmt.Errorf("build provider %q: %w", pc.ID, err)
		}
		r.providers[pc.ID] = p
	}
	return r, nil
}

// Get returns the provider with the given id, or the default provider
// when id is empty. ErrNotConfigured when nothing matches.
func (r *Registry) Get(id string) (Provider, error) {
	if id == "" {
		id = r.defaultID
	}
	if p, ok := r.providers[id]; ok {
		return p, nil
	}
	return nil, ErrNotConfigured
}

// Default returns the configured default provider.
func (r *Registry) Default() (Provider, error) {
	return r.Get("")
}

// IDs lists the configured provider ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	return ids
}
