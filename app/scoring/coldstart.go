package scoring

import (
	"sort"
	"time"

	"github.com/wxy/SilentFeed-sub007/app/database"
)

// Weights combine the four cold-start sub-scores. Defaults sum to 1.0.
type Weights struct {
	Cluster        float64
	FeedTrust      float64
	ContentQuality float64
	Freshness      float64
}

type ScoreConfig struct {
	Weights           Weights
	MinScoreThreshold float64
	Cluster           ClusterConfig
}

func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		Weights: Weights{
			Cluster:        0.35,
			FeedTrust:      0.25,
			ContentQuality: 0.2,
			Freshness:      0.2,
		},
		MinScoreThreshold: 0.3,
		Cluster:           DefaultClusterConfig(),
	}
}

type ScoredArticle struct {
	Article        database.Article
	ClusterScore   float64
	FeedTrustScore float64
	QualityScore   float64
	FreshnessScore float64
	FinalScore     float64
}

// ColdStartScorer scores articles from subscription-derived signals alone,
// for use before the user's behavioral profile has enough data.
type ColdStartScorer struct {
	cfg      ScoreConfig
	analyzer *TopicClusterAnalyzer
	now      func() time.Time
}

func NewColdStartScorer(cfg ScoreConfig) *ColdStartScorer {
	return &ColdStartScorer{
		cfg:      cfg,
		analyzer: NewTopicClusterAnalyzer(cfg.Cluster),
		now:      time.Now,
	}
}

// Score computes weighted cold-start scores for the given articles, drops
// everything below the configured minimum, and returns the remainder sorted
// descending by final score.
func (s *ColdStartScorer) Score(articles []database.Article, feeds []database.Feed) []ScoredArticle {
	clusters := s.analyzer.Analyze(feeds, articles).Clusters

	feedByID := make(map[string]database.Feed, len(feeds))
	for _, f := range feeds {
		feedByID[f.ID] = f
	}

	now := s.now()
	scored := make([]ScoredArticle, 0, len(articles))
	for _, article := range articles {
		sa := ScoredArticle{
			Article:        article,
			ClusterScore:   ArticleClusterScore(article, clusters),
			FeedTrustScore: feedTrustScore(feedByID, article.FeedID),
			QualityScore:   ContentQualityScore(article.Title + " " + article.Summary),
			FreshnessScore: FreshnessScore(article.PublishedAt, now),
		}
		sa.FinalScore = clamp01(s.cfg.Weights.Cluster*sa.ClusterScore +
			s.cfg.Weights.FeedTrust*sa.FeedTrustScore +
			s.cfg.Weights.ContentQuality*sa.QualityScore +
			s.cfg.Weights.Freshness*sa.FreshnessScore)

		if sa.FinalScore >= s.cfg.MinScoreThreshold {
			scored = append(scored, sa)
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].FinalScore > scored[j].FinalScore
	})

	return scored
}

// feedTrustScore maps feed quality (0-100) to [0,1]. Feeds without quality
// data yet get a neutral 0.5.
func feedTrustScore(feeds map[string]database.Feed, feedID string) float64 {
	feed, ok := feeds[feedID]
	if !ok || feed.QualityScore == nil {
		return 0.5
	}
	return clamp01(*feed.QualityScore / 100)
}
