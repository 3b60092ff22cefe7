// Package pool manages the staged article lifecycle:
// raw -> candidate -> recommended -> exited, with a side exit to
// analyzed_not_qualified for articles scored below the entry threshold.
package pool

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/wxy/SilentFeed-sub007/app/database"
)

type Pool struct {
	articles database.ArticleRepository
}

func NewPool(articles database.ArticleRepository) *Pool {
	return &Pool{articles: articles}
}

// Stats summarizes the pool per lifecycle stage. ActiveTotal counts every
// article that has not exited.
type Stats struct {
	Raw               int     `json:"raw"`
	Candidate         int     `json:"candidate"`
	NotQualified      int     `json:"analyzedNotQualified"`
	Recommended       int     `json:"recommended"`
	Exited            int     `json:"exited"`
	ActiveTotal       int     `json:"activeTotal"`
	CandidateAvgScore float64 `json:"candidateAvgScore"`
}

func (p *Pool) MoveToCandidate(id string, score float64) error {
	if err := p.articles.MoveToCandidate(id, score); err != nil {
		return err
	}
	slog.Debug("Article entered candidate pool", "article", id, "score", score)
	return nil
}

func (p *Pool) MarkNotQualified(id string, score float64) error {
	return p.articles.MarkNotQualified(id, score)
}

func (p *Pool) MoveToRecommended(id string) error {
	if err := p.articles.MoveToRecommended(id); err != nil {
		return err
	}
	slog.Debug("Article entered recommended pool", "article", id)
	return nil
}

func (p *Pool) Exit(id, reason string) error {
	switch reason {
	case database.ExitReasonRead, database.ExitReasonDismissed, database.ExitReasonExpired:
	default:
		return fmt.Errorf("unknown exit reason: %q", reason)
	}
	return p.articles.ExitArticle(id, reason)
}

func (p *Pool) BatchMoveToCandidate(entries []database.CandidateEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := p.articles.BatchMoveToCandidate(entries); err != nil {
		return err
	}
	slog.Debug("Batch moved articles to candidate pool", "count", len(entries))
	return nil
}

func (p *Pool) BatchMoveToRecommended(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := p.articles.BatchMoveToRecommended(ids); err != nil {
		return err
	}
	slog.Debug("Batch moved articles to recommended pool", "count", len(ids))
	return nil
}

// CleanupExpiredCandidates exits every candidate older than maxAgeDays with
// reason "expired" and returns the number exited. Candidates without an
// entry timestamp are treated as maximally old.
func (p *Pool) CleanupExpiredCandidates(maxAgeDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	count, err := p.articles.ExpireCandidates(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired candidates: %w", err)
	}
	if count > 0 {
		slog.Info("Expired candidates removed from pool", "count", count, "max_age_days", maxAgeDays)
	}
	return count, nil
}

func (p *Pool) GetPoolStats() (*Stats, error) {
	counts, err := p.articles.CountByStatus()
	if err != nil {
		return nil, fmt.Errorf("failed to get pool stats: %w", err)
	}

	stats := &Stats{
		Raw:          counts[database.PoolStatusRaw],
		Candidate:    counts[database.PoolStatusCandidate],
		NotQualified: counts[database.PoolStatusNotQualified],
		Recommended:  counts[database.PoolStatusRecommended],
		Exited:       counts[database.PoolStatusExited],
	}
	stats.ActiveTotal = stats.Raw + stats.NotQualified + stats.Candidate + stats.Recommended

	if stats.Candidate > 0 {
		avg, err := p.articles.CandidateAverageScore()
		if err != nil {
			return nil, fmt.Errorf("failed to get candidate average score: %w", err)
		}
		stats.CandidateAvgScore = avg
	}

	return stats, nil
}
