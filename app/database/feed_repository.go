package database

import (
	"database/sql"
	"fmt"
	"time"
)

var _ FeedRepository = (*SQLFeedRepository)(nil)

// SQLFeedRepository handles database operations for the feed registry
type SQLFeedRepository struct {
	db *DB
}

func NewFeedRepository(db *DB) *SQLFeedRepository {
	return &SQLFeedRepository{db: db}
}

// UpsertFeed registers a feed by name, keeping quality and fetch state when
// the feed already exists.
func (r *SQLFeedRepository) UpsertFeed(name, url, status, source string) error {
	_, err := r.db.Exec(`
		INSERT INTO feeds (id, name, url, status, source, active)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (name) DO UPDATE SET
			url = excluded.url,
			status = excluded.status,
			source = excluded.source,
			updated_at = CURRENT_TIMESTAMP
	`, newID(), name, url, status, source)
	if err != nil {
		return fmt.Errorf("failed to upsert feed: %w", err)
	}
	return nil
}

const feedColumns = `
	id, name, url, COALESCE(title, ''), COALESCE(language, ''),
	status, source, active, quality_score, last_fetched_at, created_at, updated_at`

func (r *SQLFeedRepository) scanFeed(row interface{ Scan(...any) error }) (*Feed, error) {
	var f Feed
	err := row.Scan(
		&f.ID, &f.Name, &f.URL, &f.Title, &f.Language,
		&f.Status, &f.Source, &f.Active, &f.QualityScore,
		&f.LastFetchedAt, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *SQLFeedRepository) GetFeed(name string) (*Feed, error) {
	row := r.db.QueryRow(`SELECT `+feedColumns+` FROM feeds WHERE name = ?`, name)
	feed, err := r.scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}
	return feed, nil
}

func (r *SQLFeedRepository) GetFeedByID(id string) (*Feed, error) {
	row := r.db.QueryRow(`SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	feed, err := r.scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed by id: %w", err)
	}
	return feed, nil
}

func (r *SQLFeedRepository) GetFeeds() ([]Feed, error) {
	rows, err := r.db.Query(`SELECT ` + feedColumns + ` FROM feeds ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get feeds: %w", err)
	}
	defer rows.Close()

	return r.collectFeeds(rows)
}

// GetActiveSubscribedFeeds returns feeds eligible for scoring input.
func (r *SQLFeedRepository) GetActiveSubscribedFeeds() ([]Feed, error) {
	rows, err := r.db.Query(`
		SELECT `+feedColumns+`
		FROM feeds
		WHERE status = ? AND active = 1
		ORDER BY name
	`, "subscribed")
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscribed feeds: %w", err)
	}
	defer rows.Close()

	return r.collectFeeds(rows)
}

func (r *SQLFeedRepository) collectFeeds(rows *sql.Rows) ([]Feed, error) {
	var feeds []Feed
	for rows.Next() {
		feed, err := r.scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed row: %w", err)
		}
		feeds = append(feeds, *feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed rows: %w", err)
	}
	return feeds, nil
}

func (r *SQLFeedRepository) GetFeedCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM feeds`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}
	return count, nil
}

func (r *SQLFeedRepository) UpdateFeedMetadata(name, title, language string, lastFetchedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET title = ?, language = ?, last_fetched_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE name = ?
	`, title, language, lastFetchedAt.UTC(), name)
	if err != nil {
		return fmt.Errorf("failed to update feed metadata: %w", err)
	}
	return nil
}

func (r *SQLFeedRepository) UpdateFeedQuality(name string, quality float64) error {
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}

	_, err := r.db.Exec(`
		UPDATE feeds
		SET quality_score = ?, updated_at = CURRENT_TIMESTAMP
		WHERE name = ?
	`, quality, name)
	if err != nil {
		return fmt.Errorf("failed to update feed quality: %w", err)
	}
	return nil
}

func (r *SQLFeedRepository) SetFeedActive(name string, active bool) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE name = ?
	`, active, name)
	if err != nil {
		return fmt.Errorf("failed to set feed active flag: %w", err)
	}
	return nil
}
