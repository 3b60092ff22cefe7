package api

import (
	"github.com/wxy/SilentFeed-sub007/app/aiprovider"
	"github.com/wxy/SilentFeed-sub007/app/budget"
	"github.com/wxy/SilentFeed-sub007/app/database"
	"github.com/wxy/SilentFeed-sub007/app/executor"
	"github.com/wxy/SilentFeed-sub007/app/feed"
	"github.com/wxy/SilentFeed-sub007/app/pool"
	"github.com/wxy/SilentFeed-sub007/app/strategy"
)

type Handler struct {
	feedRepo    database.FeedRepository
	usageRepo   database.UsageRepository
	registry    *feed.Registry
	pool        *pool.Pool
	checker     *budget.Checker
	exec        *executor.Executor
	strategySvc *strategy.Service
	providers   *aiprovider.Registry
	version     string
}

// AnalyzeRequest is the body of POST /api/analyze.
type AnalyzeRequest struct {
	Content          string `json:"content" binding:"required"`
	Context          string `json:"context"`
	Purpose          string `json:"purpose"`
	Priority         int    `json:"priority"`
	DisallowFallback bool   `json:"disallowFallback"`
}

// TestProviderRequest is the body of POST /api/providers/test.
type TestProviderRequest struct {
	ID              string `json:"id"`
	EnableReasoning bool   `json:"enableReasoning"`
}
