package api

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wxy/SilentFeed-sub007/app/aiprovider"
	"github.com/wxy/SilentFeed-sub007/app/budget"
	"github.com/wxy/SilentFeed-sub007/app/cfg"
	"github.com/wxy/SilentFeed-sub007/app/database"
	"github.com/wxy/SilentFeed-sub007/app/executor"
	"github.com/wxy/SilentFeed-sub007/app/feed"
	"github.com/wxy/SilentFeed-sub007/app/pool"
	"github.com/wxy/SilentFeed-sub007/app/strategy"
)

func NewHandler(feedRepo database.FeedRepository, usageRepo database.UsageRepository,
	registry *feed.Registry, p *pool.Pool, checker *budget.Checker, exec *executor.Executor,
	strategySvc *strategy.Service, providers *aiprovider.Registry, version string) *Handler {
	return &Handler{
		feedRepo:    feedRepo,
		usageRepo:   usageRepo,
		registry:    registry,
		pool:        p,
		checker:     checker,
		exec:        exec,
		strategySvc: strategySvc,
		providers:   providers,
		version:     version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if feedCount, err := h.feedRepo.GetFeedCount(); err == nil {
		health["feeds"] = feedCount
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	poolStats, err := h.pool.GetPoolStats()
	if err != nil {
		slog.Error("Database error", "operation", "pool_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pool":     poolStats,
		"executor": h.exec.GetStats(),
		"level":    h.exec.CheckStrategyStatus(),
	})
}

func (h *Handler) APIGetBudget(c *gin.Context) {
	c.JSON(http.StatusOK, h.checker.GetBudgetStatus())
}

func (h *Handler) APIGetBudgetWarning(c *gin.Context) {
	warning := h.checker.GetBudgetWarning()
	if warning == nil {
		c.JSON(http.StatusOK, gin.H{"warning": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"warning": warning})
}

func (h *Handler) APIAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.exec.ExecuteAnalysis(c.Request.Context(), executor.Request{
		Content:          req.Content,
		Context:          req.Context,
		Purpose:          req.Purpose,
		Priority:         req.Priority,
		DisallowFallback: req.DisallowFallback,
	})
	if err != nil {
		slog.Error("Analysis request failed", "purpose", req.Purpose, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Analysis failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) APIGetStrategy(c *gin.Context) {
	decision, current, err := h.strategySvc.GetCurrentStrategy()
	if err != nil {
		slog.Error("Database error", "operation", "get_strategy", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	effective := h.strategySvc.EffectiveStrategy()
	response := gin.H{
		"active":    current != nil,
		"effective": effective,
	}
	if decision != nil {
		response["decision"] = gin.H{
			"id":         decision.ID,
			"createdAt":  decision.CreatedAt,
			"validUntil": decision.ValidUntil,
			"nextReview": decision.NextReview,
			"status":     decision.Status,
		}
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handler) APIGenerateStrategy(c *gin.Context) {
	decision, validated, usage, err := h.strategySvc.GenerateNewStrategy(c.Request.Context())
	if err != nil {
		slog.Error("Strategy generation failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Strategy generation failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decision": gin.H{
			"id":         decision.ID,
			"createdAt":  decision.CreatedAt,
			"validUntil": decision.ValidUntil,
			"nextReview": decision.NextReview,
			"status":     decision.Status,
		},
		"strategy": validated,
		"usage":    usage,
	})
}

func (h *Handler) APIGetUsageStats(c *gin.Context) {
	query, err := parseUsageQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stats, err := h.usageRepo.Stats(query)
	if err != nil {
		slog.Error("Database error", "operation", "usage_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) APIExportUsage(c *gin.Context) {
	query, err := parseUsageQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := h.usageRepo.Query(query)
	if err != nil {
		slog.Error("Database error", "operation", "usage_export", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="usage.csv"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	header := []string{
		"id", "timestamp", "provider", "model", "purpose",
		"input_tokens", "output_tokens", "total_tokens", "tokens_estimated",
		"input_cost", "output_cost", "total_cost", "currency", "cost_estimated",
		"latency_ms", "success", "error", "corrected",
	}
	if err := w.Write(header); err != nil {
		slog.Error("CSV export failed", "error", err)
		return
	}

	for _, r := range records {
		row := []string{
			r.ID,
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Provider,
			r.Model,
			r.Purpose,
			strconv.Itoa(r.InputTokens),
			strconv.Itoa(r.OutputTokens),
			strconv.Itoa(r.TotalTokens),
			strconv.FormatBool(r.TokensEstimated),
			strconv.FormatFloat(r.InputCost, 'f', 6, 64),
			strconv.FormatFloat(r.OutputCost, 'f', 6, 64),
			strconv.FormatFloat(r.TotalCost, 'f', 6, 64),
			r.Currency,
			strconv.FormatBool(r.CostEstimated),
			strconv.FormatInt(r.LatencyMs, 10),
			strconv.FormatBool(r.Success),
			r.ErrorMessage,
			strconv.FormatBool(r.Corrected),
		}
		if err := w.Write(row); err != nil {
			slog.Error("CSV export failed", "error", err)
			return
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		slog.Error("CSV export failed", "error", err)
	}
}

func (h *Handler) APIListFeeds(c *gin.Context) {
	configs := h.registry.GetConfigs()

	feeds := make([]map[string]interface{}, 0, len(configs))
	for _, feedConfig := range configs {
		feedInfo := map[string]interface{}{
			"name":             feedConfig.Name,
			"url":              feedConfig.Feed.URL,
			"title":            feedConfig.Feed.Title,
			"status":           feedConfig.Subscription.Status,
			"source":           feedConfig.Subscription.Source,
			"enabled":          feedConfig.Settings.Enabled,
			"max_items":        feedConfig.Settings.MaxItems,
			"refresh_interval": (time.Duration(feedConfig.Settings.RefreshInterval) * time.Second).String(),
		}

		if stored, err := h.feedRepo.GetFeed(feedConfig.Name); err == nil && stored != nil {
			if stored.Title != "" {
				feedInfo["title"] = stored.Title
			}
			feedInfo["language"] = stored.Language
			feedInfo["last_fetched_at"] = stored.LastFetchedAt
			if stored.QualityScore != nil {
				feedInfo["quality_score"] = *stored.QualityScore
			}
		}

		feeds = append(feeds, feedInfo)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func (h *Handler) APITestProvider(c *gin.Context) {
	var req TestProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	provider, err := h.providers.Get(req.ID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Provider not configured", "details": err.Error()})
		return
	}

	// Reasoning-mode calls are slower and get their own timeout budget.
	appCfg := cfg.Get()
	timeout := time.Duration(appCfg.CallTimeoutSec) * time.Second
	if req.EnableReasoning {
		timeout = time.Duration(appCfg.ReasoningTimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	result := provider.TestConnection(ctx, req.EnableReasoning)
	c.JSON(http.StatusOK, gin.H{
		"provider": provider.ID(),
		"model":    provider.Model(),
		"result":   result,
	})
}

func parseUsageQuery(c *gin.Context) (database.UsageQuery, error) {
	query := database.UsageQuery{
		Provider: c.Query("provider"),
		Purpose:  c.Query("purpose"),
	}

	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return query, fmt.Errorf("invalid 'from' parameter: %w", err)
		}
		query.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return query, fmt.Errorf("invalid 'to' parameter: %w", err)
		}
		query.To = t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return query, fmt.Errorf("invalid 'limit' parameter: %q", limit)
		}
		query.Limit = n
	}

	return query, nil
}
