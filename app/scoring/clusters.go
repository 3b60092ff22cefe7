package scoring

import (
	"sort"

	"github.com/wxy/SilentFeed-sub007/app/database"
)

type ClusterConfig struct {
	MinFeedCount    int     // minimum active subscribed feeds for a usable signal
	MinArticleCount int     // minimum analyzed articles for a usable signal
	ConfidenceFloor float64 // per-article topic confidence floor
}

func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		MinFeedCount:    3,
		MinArticleCount: 5,
		ConfidenceFloor: 0.1,
	}
}

// TopicCluster is a derived, cross-source topic signal. It is never
// persisted; it is recomputed on demand from the current feed and article
// snapshots.
type TopicCluster struct {
	Topic         string  `json:"topic"`
	SourceCount   int     `json:"sourceCount"`
	ArticleCount  int     `json:"articleCount"`
	AvgConfidence float64 `json:"avgConfidence"`
	HeatScore     float64 `json:"heatScore"`
}

type ClusterResult struct {
	HasEnoughData   bool
	ActiveFeedCount int
	Clusters        []TopicCluster
}

type TopicClusterAnalyzer struct {
	cfg ClusterConfig
}

func NewTopicClusterAnalyzer(cfg ClusterConfig) *TopicClusterAnalyzer {
	return &TopicClusterAnalyzer{cfg: cfg}
}

// Analyze clusters topics across subscribed, active feeds. A topic must be
// seen above the confidence floor in at least two distinct feeds to form a
// cluster: single-source topics carry no cross-source signal.
func (a *TopicClusterAnalyzer) Analyze(feeds []database.Feed, articles []database.Article) ClusterResult {
	activeFeeds := make(map[string]struct{})
	for _, f := range feeds {
		if f.Status == "subscribed" && f.Active {
			activeFeeds[f.ID] = struct{}{}
		}
	}

	result := ClusterResult{ActiveFeedCount: len(activeFeeds)}
	if len(activeFeeds) < a.cfg.MinFeedCount {
		return result
	}

	type topicAgg struct {
		feeds        map[string]struct{}
		articleCount int
		confSum      float64
	}
	topics := make(map[string]*topicAgg)

	analyzed := 0
	for _, article := range articles {
		if _, ok := activeFeeds[article.FeedID]; !ok {
			continue
		}
		if len(article.Topics) == 0 {
			continue
		}
		analyzed++

		for topic, confidence := range article.Topics {
			if confidence < a.cfg.ConfidenceFloor {
				continue
			}
			agg := topics[topic]
			if agg == nil {
				agg = &topicAgg{feeds: make(map[string]struct{})}
				topics[topic] = agg
			}
			agg.feeds[article.FeedID] = struct{}{}
			agg.articleCount++
			agg.confSum += confidence
		}
	}

	if analyzed < a.cfg.MinArticleCount {
		return result
	}
	result.HasEnoughData = true

	for topic, agg := range topics {
		sourceCount := len(agg.feeds)
		if sourceCount < 2 {
			continue
		}
		result.Clusters = append(result.Clusters, TopicCluster{
			Topic:         topic,
			SourceCount:   sourceCount,
			ArticleCount:  agg.articleCount,
			AvgConfidence: agg.confSum / float64(agg.articleCount),
			HeatScore:     clamp01(float64(sourceCount) / float64(len(activeFeeds))),
		})
	}

	sort.Slice(result.Clusters, func(i, j int) bool {
		if result.Clusters[i].HeatScore != result.Clusters[j].HeatScore {
			return result.Clusters[i].HeatScore > result.Clusters[j].HeatScore
		}
		return result.Clusters[i].Topic < result.Clusters[j].Topic
	})

	return result
}

// ArticleClusterScore scores an article against the current clusters: the
// sum over matching topics of the article's confidence times the cluster's
// heat, clamped to [0,1]. Articles without analysis score 0.
func ArticleClusterScore(article database.Article, clusters []TopicCluster) float64 {
	if len(article.Topics) == 0 || len(clusters) == 0 {
		return 0
	}

	score := 0.0
	for _, cluster := range clusters {
		if confidence, ok := article.Topics[cluster.Topic]; ok && confidence > 0 {
			score += confidence * cluster.HeatScore
		}
	}
	return clamp01(score)
}
