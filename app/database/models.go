package database

import (
	"time"
)

// Pool lifecycle states for articles.
const (
	PoolStatusRaw          = "raw"
	PoolStatusCandidate    = "candidate"
	PoolStatusNotQualified = "analyzed_not_qualified"
	PoolStatusRecommended  = "recommended"
	PoolStatusExited       = "exited"
)

// Exit reasons recorded when an article leaves the pool.
const (
	ExitReasonRead      = "read"
	ExitReasonDismissed = "dismissed"
	ExitReasonExpired   = "expired"
)

// Cost currencies recorded in the usage ledger.
const (
	CurrencyUSD  = "USD"
	CurrencyCNY  = "CNY"
	CurrencyFree = "FREE"
)

type Feed struct {
	ID            string
	Name          string // Configuration feed identifier derived from filename
	URL           string
	Title         string
	Language      string
	Status        string // subscribed, ignored, candidate
	Source        string // imported, manual, discovered
	Active        bool
	QualityScore  *float64 // 0-100, nil until first health check
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Article struct {
	ID                 string
	FeedID             string
	GUID               string
	Link               string
	Title              string
	Summary            string
	PublishedAt        time.Time
	FetchedAt          time.Time
	PoolStatus         string
	AnalysisScore      *float64
	CandidateAddedAt   *time.Time
	RecommendedAddedAt *time.Time
	ExitReason         string // set only when pool_status is exited
	Topics             map[string]float64
	Confidence         *float64
	AnalysisProvider   string
	ContentHash        string
	CreatedAt          time.Time
}

// NewArticle carries a freshly parsed feed entry into the raw pool.
type NewArticle struct {
	GUID        string
	Link        string
	Title       string
	Summary     string
	PublishedAt time.Time
	FetchedAt   time.Time
	ContentHash string
}

// CandidateEntry pairs an article with the score that qualified it.
type CandidateEntry struct {
	ArticleID string
	Score     float64
}

type UsageRecord struct {
	ID              string
	Timestamp       time.Time
	Provider        string
	Model           string
	Purpose         string
	InputTokens     int
	OutputTokens    int
	TotalTokens     int
	TokensEstimated bool
	InputCost       float64
	OutputCost      float64
	TotalCost       float64
	Currency        string // USD, CNY, FREE
	CostEstimated   bool
	LatencyMs       int64
	Success         bool
	ErrorMessage    string
	Reasoning       bool
	Corrected       bool
}

// UsageCorrection replaces estimated token/cost figures with exact ones.
// A record can be corrected at most once.
type UsageCorrection struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	InputCost    float64
	OutputCost   float64
	TotalCost    float64
}

type UsageQuery struct {
	From     time.Time
	To       time.Time
	Provider string
	Purpose  string
	Limit    int
}

type UsageStats struct {
	TotalCalls     int
	SuccessCalls   int
	SuccessRate    float64
	TotalTokens    int
	AvgLatencyMs   float64
	CostByCurrency map[string]float64
	ByProvider     map[string]int
	ByPurpose      map[string]int
}

// DecisionStatusActive marks the stored strategy decision as in force.
// Expired or superseded decisions are deleted rather than re-stamped, so
// no other status value exists.
const DecisionStatusActive = "active"

// StrategyDecision is the persisted form of a time-boxed strategy. The
// context snapshot and validated strategy are stored as JSON documents;
// the strategy package owns their shapes.
type StrategyDecision struct {
	ID           string
	CreatedAt    time.Time
	ValidUntil   time.Time
	NextReview   time.Time
	Status       string
	ContextJSON  string
	StrategyJSON string
}
