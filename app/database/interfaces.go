package database

import (
	"time"
)

type FeedRepository interface {
	UpsertFeed(name, url, status, source string) error
	GetFeed(name string) (*Feed, error)
	GetFeedByID(id string) (*Feed, error)
	GetFeeds() ([]Feed, error)
	GetActiveSubscribedFeeds() ([]Feed, error)
	GetFeedCount() (int, error)

	UpdateFeedMetadata(name, title, language string, lastFetchedAt time.Time) error
	UpdateFeedQuality(name string, quality float64) error
	SetFeedActive(name string, active bool) error
}

type ArticleRepository interface {
	UpsertArticle(feedID string, article NewArticle) (bool, error)
	CheckDuplicate(contentHash string) (bool, error)
	GetArticle(id string) (*Article, error)
	GetArticlesByStatus(status string, limit int) ([]Article, error)
	GetTopCandidates(limit int) ([]Article, error)
	GetAnalyzedArticles(limit int) ([]Article, error)

	CountByStatus() (map[string]int, error)
	CountAnalyzed() (int, error)
	CountExitedByReason(reason string) (int, error)
	CandidateAverageScore() (float64, error)

	SetAnalysis(id string, topics map[string]float64, confidence float64, provider string) error

	MoveToCandidate(id string, score float64) error
	MarkNotQualified(id string, score float64) error
	MoveToRecommended(id string) error
	ExitArticle(id, reason string) error
	BatchMoveToCandidate(entries []CandidateEntry) error
	BatchMoveToRecommended(ids []string) error
	ExpireCandidates(cutoff time.Time) (int, error)
}

type UsageRepository interface {
	Append(record *UsageRecord) error
	Correct(id string, correction UsageCorrection) error
	MonthlySpend(year int, month time.Month) (map[string]float64, error)
	Query(query UsageQuery) ([]UsageRecord, error)
	Stats(query UsageQuery) (*UsageStats, error)
}

type StrategyRepository interface {
	Get() (*StrategyDecision, error)
	Save(decision *StrategyDecision) error
	Delete(id string) error
}
