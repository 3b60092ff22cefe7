package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wxy/SilentFeed-sub007/app/database"
	"github.com/wxy/SilentFeed-sub007/app/executor"
	"github.com/wxy/SilentFeed-sub007/app/scoring"
	"github.com/wxy/SilentFeed-sub007/app/strategy"
)

const scoreBatchSize = 50

// ScoreArticlesTask scores raw pool articles and moves them to the
// candidate pool or marks them not qualified. It uses cold-start scoring
// while the browsing history is thin, and AI analysis through the
// executor once a profile exists.
type ScoreArticlesTask struct {
	Task
	articleRepo database.ArticleRepository
	feedRepo    database.FeedRepository
	exec        *executor.Executor
	strategySvc *strategy.Service
	scoreCfg    scoring.ScoreConfig
	threshold   scoring.ThresholdConfig
}

func NewScoreArticlesTask(articleRepo database.ArticleRepository, feedRepo database.FeedRepository,
	exec *executor.Executor, strategySvc *strategy.Service) *ScoreArticlesTask {
	return &ScoreArticlesTask{
		Task:        NewTask(TaskTypeScoreArticles, ""),
		articleRepo: articleRepo,
		feedRepo:    feedRepo,
		exec:        exec,
		strategySvc: strategySvc,
		scoreCfg:    scoring.DefaultScoreConfig(),
		threshold:   scoring.DefaultThresholdConfig(),
	}
}

func (t *ScoreArticlesTask) Execute(ctx context.Context) error {
	raw, err := t.articleRepo.GetArticlesByStatus(database.PoolStatusRaw, scoreBatchSize)
	if err != nil {
		return fmt.Errorf("failed to load raw articles: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	feeds, err := t.feedRepo.GetFeeds()
	if err != nil {
		return fmt.Errorf("failed to load feeds: %w", err)
	}

	analyzedCount, err := t.articleRepo.CountAnalyzed()
	if err != nil {
		return fmt.Errorf("failed to count analyzed articles: %w", err)
	}

	readCount, err := t.articleRepo.CountExitedByReason(database.ExitReasonRead)
	if err != nil {
		return fmt.Errorf("failed to count read articles: %w", err)
	}

	decision := scoring.ShouldUseColdStartStrategy(readCount, feeds, analyzedCount, t.threshold)
	current := t.strategySvc.EffectiveStrategy()

	var promoted, rejected int
	if decision.UseColdStart {
		promoted, rejected, err = t.scoreColdStart(raw, feeds)
	} else {
		promoted, rejected, err = t.scoreWithAI(ctx, raw, current)
	}
	if err != nil {
		return err
	}

	slog.Info("Task completed",
		"type", "ScoreArticles",
		"duration", t.GetDuration(),
		"coldStart", decision.UseColdStart,
		"reason", decision.Reason,
		"scored", len(raw),
		"promoted", promoted,
		"rejected", rejected)

	return nil
}

// scoreColdStart promotes articles by subscription-derived signals only.
// The batch transition is atomic.
func (t *ScoreArticlesTask) scoreColdStart(raw []database.Article, feeds []database.Feed) (int, int, error) {
	scorer := scoring.NewColdStartScorer(t.scoreCfg)
	scored := scorer.Score(raw, feeds)

	qualified := make(map[string]float64, len(scored))
	entries := make([]database.CandidateEntry, 0, len(scored))
	for _, sa := range scored {
		qualified[sa.Article.ID] = sa.FinalScore
		entries = append(entries, database.CandidateEntry{ArticleID: sa.Article.ID, Score: sa.FinalScore})
	}

	if err := t.articleRepo.BatchMoveToCandidate(entries); err != nil {
		return 0, 0, fmt.Errorf("failed to promote candidates: %w", err)
	}

	rejected := 0
	for _, article := range raw {
		if _, ok := qualified[article.ID]; ok {
			continue
		}
		if err := t.articleRepo.MarkNotQualified(article.ID, 0); err != nil {
			return 0, 0, fmt.Errorf("failed to mark article not qualified: %w", err)
		}
		rejected++
	}

	return len(entries), rejected, nil
}

// scoreWithAI analyzes each article through the executor and applies the
// strategy's candidate entry threshold. The executor degrades to local
// analysis on its own; scoring never fails outright for one bad article.
func (t *ScoreArticlesTask) scoreWithAI(ctx context.Context, raw []database.Article, current strategy.Strategy) (int, int, error) {
	promoted := 0
	rejected := 0

	for _, article := range raw {
		result, err := t.exec.ExecuteAnalysis(ctx, executor.Request{
			Content:  article.Title + "\n\n" + article.Summary,
			Context:  article.FeedID,
			Purpose:  "article_analysis",
			Priority: executor.PriorityNormal,
		})
		if err != nil {
			slog.Warn("Article analysis failed, leaving in raw pool", "article", article.ID, "err", err)
			continue
		}

		if err := t.articleRepo.SetAnalysis(article.ID, result.Topics, result.Confidence, result.Provider); err != nil {
			return promoted, rejected, fmt.Errorf("failed to store analysis: %w", err)
		}

		score := relevanceScore(result)
		if score >= current.CandidateEntryThreshold {
			if err := t.articleRepo.MoveToCandidate(article.ID, score); err != nil {
				return promoted, rejected, fmt.Errorf("failed to promote article: %w", err)
			}
			promoted++
		} else {
			if err := t.articleRepo.MarkNotQualified(article.ID, score); err != nil {
				return promoted, rejected, fmt.Errorf("failed to mark article not qualified: %w", err)
			}
			rejected++
		}
	}

	return promoted, rejected, nil
}

// relevanceScore reduces an analysis result to a single [0,1] score: the
// strongest topic probability weighted by the overall confidence.
func relevanceScore(result *executor.Result) float64 {
	best := 0.0
	for _, prob := range result.Topics {
		if prob > best {
			best = prob
		}
	}
	score := best * result.Confidence
	if score > 1 {
		score = 1
	}
	return score
}
