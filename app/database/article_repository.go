package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a pool transition is attempted on an
// article that is missing or not in the expected source state.
var ErrInvalidTransition = errors.New("invalid pool transition")

var _ ArticleRepository = (*SQLArticleRepository)(nil)

// SQLArticleRepository handles database operations for pool articles
type SQLArticleRepository struct {
	db *DB
}

func NewArticleRepository(db *DB) *SQLArticleRepository {
	return &SQLArticleRepository{db: db}
}

// UpsertArticle stores a freshly parsed article in the raw pool. Returns
// true when a new row was inserted; re-fetched articles keep their pool
// state untouched.
func (r *SQLArticleRepository) UpsertArticle(feedID string, article NewArticle) (bool, error) {
	res, err := r.db.Exec(`
		INSERT INTO articles (
			id, feed_id, guid, link, title, summary,
			published_at, fetched_at, pool_status, content_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (feed_id, guid) DO NOTHING
	`, newID(), feedID, article.GUID, article.Link, article.Title, article.Summary,
		article.PublishedAt.UTC(), article.FetchedAt.UTC(), PoolStatusRaw, article.ContentHash)
	if err != nil {
		return false, fmt.Errorf("failed to upsert article: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return rows > 0, nil
}

// CheckDuplicate checks if an article with the given content hash already exists
func (r *SQLArticleRepository) CheckDuplicate(contentHash string) (bool, error) {
	var id string
	err := r.db.QueryRow(`SELECT id FROM articles WHERE content_hash = ? LIMIT 1`, contentHash).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return true, nil
}

const articleColumns = `
	id, feed_id, guid, COALESCE(link, ''), COALESCE(title, ''), COALESCE(summary, ''),
	published_at, fetched_at, pool_status, analysis_score,
	candidate_added_at, recommended_added_at, COALESCE(exit_reason, ''),
	topics, confidence, COALESCE(analysis_provider, ''), content_hash, created_at`

func (r *SQLArticleRepository) scanArticle(row interface{ Scan(...any) error }) (*Article, error) {
	var a Article
	var topicsJSON sql.NullString
	err := row.Scan(
		&a.ID, &a.FeedID, &a.GUID, &a.Link, &a.Title, &a.Summary,
		&a.PublishedAt, &a.FetchedAt, &a.PoolStatus, &a.AnalysisScore,
		&a.CandidateAddedAt, &a.RecommendedAddedAt, &a.ExitReason,
		&topicsJSON, &a.Confidence, &a.AnalysisProvider, &a.ContentHash, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if topicsJSON.Valid && topicsJSON.String != "" {
		if err := json.Unmarshal([]byte(topicsJSON.String), &a.Topics); err != nil {
			return nil, fmt.Errorf("failed to decode topics for article %s: %w", a.ID, err)
		}
	}
	return &a, nil
}

func (r *SQLArticleRepository) GetArticle(id string) (*Article, error) {
	row := r.db.QueryRow(`SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	article, err := r.scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return article, nil
}

func (r *SQLArticleRepository) GetArticlesByStatus(status string, limit int) ([]Article, error) {
	rows, err := r.db.Query(`
		SELECT `+articleColumns+`
		FROM articles
		WHERE pool_status = ?
		ORDER BY published_at DESC
		LIMIT ?
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get articles by status: %w", err)
	}
	defer rows.Close()

	return r.collectArticles(rows)
}

// GetTopCandidates returns candidate articles ordered by analysis score,
// best first, for recommendation refill.
func (r *SQLArticleRepository) GetTopCandidates(limit int) ([]Article, error) {
	rows, err := r.db.Query(`
		SELECT `+articleColumns+`
		FROM articles
		WHERE pool_status = ?
		ORDER BY analysis_score DESC, published_at DESC
		LIMIT ?
	`, PoolStatusCandidate, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top candidates: %w", err)
	}
	defer rows.Close()

	return r.collectArticles(rows)
}

// GetAnalyzedArticles returns articles that carry a topic distribution,
// newest first.
func (r *SQLArticleRepository) GetAnalyzedArticles(limit int) ([]Article, error) {
	rows, err := r.db.Query(`
		SELECT `+articleColumns+`
		FROM articles
		WHERE topics IS NOT NULL
		ORDER BY published_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get analyzed articles: %w", err)
	}
	defer rows.Close()

	return r.collectArticles(rows)
}

func (r *SQLArticleRepository) collectArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		article, err := r.scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article row: %w", err)
		}
		articles = append(articles, *article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article rows: %w", err)
	}
	return articles, nil
}

func (r *SQLArticleRepository) CountByStatus() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT pool_status, COUNT(*) FROM articles GROUP BY pool_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count articles by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (r *SQLArticleRepository) CountAnalyzed() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM articles WHERE topics IS NOT NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count analyzed articles: %w", err)
	}
	return count, nil
}

func (r *SQLArticleRepository) CountExitedByReason(reason string) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM articles WHERE pool_status = ? AND exit_reason = ?
	`, PoolStatusExited, reason).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count exited articles: %w", err)
	}
	return count, nil
}

func (r *SQLArticleRepository) CandidateAverageScore() (float64, error) {
	var avg sql.NullFloat64
	err := r.db.QueryRow(`
		SELECT AVG(analysis_score) FROM articles WHERE pool_status = ?
	`, PoolStatusCandidate).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to compute candidate average score: %w", err)
	}
	return avg.Float64, nil
}

// SetAnalysis stores the AI/heuristic analysis payload on an article.
func (r *SQLArticleRepository) SetAnalysis(id string, topics map[string]float64, confidence float64, provider string) error {
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("failed to encode topics: %w", err)
	}

	_, err = r.db.Exec(`
		UPDATE articles
		SET topics = ?, confidence = ?, analysis_provider = ?
		WHERE id = ?
	`, string(topicsJSON), confidence, provider, id)
	if err != nil {
		return fmt.Errorf("failed to set analysis: %w", err)
	}
	return nil
}

// MoveToCandidate transitions raw -> candidate, stamping the candidate
// timestamp and analysis score.
func (r *SQLArticleRepository) MoveToCandidate(id string, score float64) error {
	res, err := r.db.Exec(`
		UPDATE articles
		SET pool_status = ?, analysis_score = ?, candidate_added_at = ?
		WHERE id = ? AND pool_status = ?
	`, PoolStatusCandidate, score, time.Now().UTC(), id, PoolStatusRaw)
	if err != nil {
		return fmt.Errorf("failed to move article to candidate: %w", err)
	}
	return checkTransition(res)
}

// MarkNotQualified transitions raw -> analyzed_not_qualified.
func (r *SQLArticleRepository) MarkNotQualified(id string, score float64) error {
	res, err := r.db.Exec(`
		UPDATE articles
		SET pool_status = ?, analysis_score = ?
		WHERE id = ? AND pool_status = ?
	`, PoolStatusNotQualified, score, id, PoolStatusRaw)
	if err != nil {
		return fmt.Errorf("failed to mark article not qualified: %w", err)
	}
	return checkTransition(res)
}

// MoveToRecommended transitions candidate -> recommended. The candidate
// timestamp is cleared so exactly one pool timestamp is set at a time.
func (r *SQLArticleRepository) MoveToRecommended(id string) error {
	res, err := r.db.Exec(`
		UPDATE articles
		SET pool_status = ?, recommended_added_at = ?, candidate_added_at = NULL
		WHERE id = ? AND pool_status = ?
	`, PoolStatusRecommended, time.Now().UTC(), id, PoolStatusCandidate)
	if err != nil {
		return fmt.Errorf("failed to move article to recommended: %w", err)
	}
	return checkTransition(res)
}

// ExitArticle transitions candidate|recommended -> exited with a reason.
func (r *SQLArticleRepository) ExitArticle(id, reason string) error {
	res, err := r.db.Exec(`
		UPDATE articles
		SET pool_status = ?, exit_reason = ?,
		    candidate_added_at = NULL, recommended_added_at = NULL
		WHERE id = ? AND pool_status IN (?, ?)
	`, PoolStatusExited, reason, id, PoolStatusCandidate, PoolStatusRecommended)
	if err != nil {
		return fmt.Errorf("failed to exit article: %w", err)
	}
	return checkTransition(res)
}

// BatchMoveToCandidate applies raw -> candidate for every entry in a single
// transaction. A failed entry rolls back the whole batch. Empty input is a
// no-op.
func (r *SQLArticleRepository) BatchMoveToCandidate(entries []CandidateEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, entry := range entries {
		res, err := tx.Exec(`
			UPDATE articles
			SET pool_status = ?, analysis_score = ?, candidate_added_at = ?
			WHERE id = ? AND pool_status = ?
		`, PoolStatusCandidate, entry.Score, now, entry.ArticleID, PoolStatusRaw)
		if err != nil {
			return fmt.Errorf("failed to move article %s to candidate: %w", entry.ArticleID, err)
		}
		if err := checkTransition(res); err != nil {
			return fmt.Errorf("article %s: %w", entry.ArticleID, err)
		}
	}

	return tx.Commit()
}

// BatchMoveToRecommended applies candidate -> recommended for every id in a
// single transaction. Empty input is a no-op.
func (r *SQLArticleRepository) BatchMoveToRecommended(ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, id := range ids {
		res, err := tx.Exec(`
			UPDATE articles
			SET pool_status = ?, recommended_added_at = ?, candidate_added_at = NULL
			WHERE id = ? AND pool_status = ?
		`, PoolStatusRecommended, now, id, PoolStatusCandidate)
		if err != nil {
			return fmt.Errorf("failed to move article %s to recommended: %w", id, err)
		}
		if err := checkTransition(res); err != nil {
			return fmt.Errorf("article %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// ExpireCandidates exits every candidate whose candidate timestamp is older
// than the cutoff. A missing timestamp counts as maximally old. Returns the
// number of articles exited.
func (r *SQLArticleRepository) ExpireCandidates(cutoff time.Time) (int, error) {
	res, err := r.db.Exec(`
		UPDATE articles
		SET pool_status = ?, exit_reason = ?, candidate_added_at = NULL
		WHERE pool_status = ?
		  AND (candidate_added_at IS NULL OR candidate_added_at < ?)
	`, PoolStatusExited, ExitReasonExpired, PoolStatusCandidate, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire candidates: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(rows), nil
}

func checkTransition(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrInvalidTransition
	}
	return nil
}
