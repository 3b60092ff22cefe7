package aiprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wxy/SilentFeed-sub007/app/config"
)

const analyzeSystemPrompt = `You are a content classifier for an RSS reader. Given an article title and body, identify up to 5 topics with a probability for each, plus an overall confidence in your classification.

Respond with ONLY a JSON object in this exact shape, no prose:
{"topics": {"topic1": 0.8, "topic2": 0.4}, "confidence": 0.9}

Topic names are single lowercase words (e.g. technology, security, design, science, business).`

const strategySystemPrompt = `You are a recommendation pipeline tuner. Given the system context JSON, propose tunable pipeline parameters.

Respond with ONLY a JSON object, no prose.`

// chatDefaults are the per-kind defaults applied when the configuration
// entry leaves a field empty.
type chatDefaults struct {
	baseURL        string
	model          string
	currency       string
	inputPerMTok   float64
	outputPerMTok  float64
	estimateTokens bool
}

// chatProvider talks to an OpenAI-compatible chat-completions endpoint.
// DeepSeek, OpenAI and Ollama all speak this dialect.
type chatProvider struct {
	id             string
	baseURL        string
	apiKey         string
	model          string
	currency       string
	inputPerMTok   float64
	outputPerMTok  float64
	estimateTokens bool
	reasoning      bool
	httpClient     *http.Client
}

func newChatProvider(pc config.ProviderConfig, d chatDefaults) *chatProvider {
	p := &chatProvider{
		id:             pc.ID,
		baseURL:        pc.BaseURL,
		apiKey:         pc.APIKey,
		model:          pc.Model,
		currency:       d.currency,
		inputPerMTok:   d.inputPerMTok,
		outputPerMTok:  d.outputPerMTok,
		estimateTokens: d.estimateTokens,
		reasoning:      pc.EnableReasoning,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
	}
	if p.baseURL == "" {
		p.baseURL = d.baseURL
	}
	p.baseURL = strings.TrimRight(p.baseURL, "/")
	if p.model == "" {
		p.model = d.model
	}
	return p
}

func (p *chatProvider) ID() string       { return p.id }
func (p *chatProvider) Model() string    { return p.model }
func (p *chatProvider) Currency() string { return p.currency }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// call posts a chat completion and returns the assistant text plus usage.
func (p *chatProvider) call(ctx context.Context, system, user string) (string, TokenUsage, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", TokenUsage{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", TokenUsage{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", TokenUsage{}, fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", TokenUsage{}, &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(payload)),
		}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", TokenUsage{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", TokenUsage{}, fmt.Errorf("empty chat response from %s", p.id)
	}

	content := cr.Choices[0].Message.Content
	usage := TokenUsage{
		InputTokens:  cr.Usage.PromptTokens,
		OutputTokens: cr.Usage.CompletionTokens,
		TotalTokens:  cr.Usage.TotalTokens,
	}
	if p.estimateTokens || usage.TotalTokens == 0 {
		usage = TokenUsage{
			InputTokens:  estimateTokenCount(system + user),
			OutputTokens: estimateTokenCount(content),
			Estimated:    true,
		}
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return content, usage, nil
}

func (p *chatProvider) TestConnection(ctx context.Context, enableReasoning bool) ConnectionResult {
	start := time.Now()
	_, _, err := p.call(ctx, "You are a connectivity probe.", "Reply with the single word: ok")
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return ConnectionResult{Success: false, Message: err.Error(), LatencyMs: latency}
	}
	msg := "connection ok"
	if enableReasoning && !p.reasoning {
		msg = "connection ok (reasoning mode not enabled for this provider)"
	}
	return ConnectionResult{Success: true, Message: msg, LatencyMs: latency}
}

func (p *chatProvider) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	user := fmt.Sprintf("Title: %s\n\n%s", req.Title, req.Content)
	start := time.Now()
	content, usage, err := p.call(ctx, analyzeSystemPrompt, user)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return nil, err
	}

	topics, confidence, err := parseAnalysisPayload(content)
	if err != nil {
		return nil, fmt.Errorf("parse analysis from %s: %w", p.id, err)
	}

	return &AnalysisResult{
		Topics:     topics,
		Confidence: confidence,
		Provider:   p.id,
		Model:      p.model,
		Usage:      usage,
		Cost:       p.EstimateCost(usage),
		LatencyMs:  latency,
	}, nil
}

func (p *chatProvider) ProposeStrategy(ctx context.Context, prompt string) (string, TokenUsage, error) {
	content, usage, err := p.call(ctx, strategySystemPrompt, prompt)
	if err != nil {
		return "", usage, err
	}
	return extractJSONDocument(content), usage, nil
}

// EstimateCost prices a call from its token counts. Cost inherits the
// Estimated flag whenever the token counts themselves were estimated.
func (p *chatProvider) EstimateCost(usage TokenUsage) Cost {
	in := float64(usage.InputTokens) / 1e6 * p.inputPerMTok
	out := float64(usage.OutputTokens) / 1e6 * p.outputPerMTok
	return Cost{
		Input:     in,
		Output:    out,
		Total:     in + out,
		Currency:  p.currency,
		Estimated: usage.Estimated,
	}
}

// estimateTokenCount approximates tokens as characters/4, the usual
// rule of thumb for latin-alphabet text.
func estimateTokenCount(s string) int {
	n := len(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// parseAnalysisPayload extracts the topics/confidence JSON from a model
// response, tolerating code fences and surrounding prose.
func parseAnalysisPayload(text string) (map[string]float64, float64, error) {
	doc := extractJSONDocument(text)
	if doc == "" {
		return nil, 0, fmt.Errorf("no JSON object in response")
	}

	var payload struct {
		Topics     map[string]float64 `json:"topics"`
		Confidence float64            `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(doc), &payload); err != nil {
		return nil, 0, fmt.Errorf("invalid analysis JSON: %w", err)
	}
	if len(payload.Topics) == 0 {
		return nil, 0, fmt.Errorf("analysis JSON has no topics")
	}

	for topic, prob := range payload.Topics {
		if prob < 0 {
			payload.Topics[topic] = 0
		} else if prob > 1 {
			payload.Topics[topic] = 1
		}
	}
	if payload.Confidence < 0 {
		payload.Confidence = 0
	} else if payload.Confidence > 1 {
		payload.Confidence = 1
	}
	return payload.Topics, payload.Confidence, nil
}

// extractJSONDocument returns the outermost {...} slice of text, or ""
// when no object is present.
func extractJSONDocument(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}
