package database

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

func newTestFeed(t *testing.T, db *DB, name string) *Feed {
	t.Helper()

	repo := NewFeedRepository(db)
	if err := repo.UpsertFeed(name, "https://example.com/"+name+".xml", "subscribed", "manual"); err != nil {
		t.Fatalf("failed to create feed %s: %v", name, err)
	}
	feed, err := repo.GetFeed(name)
	if err != nil || feed == nil {
		t.Fatalf("failed to load feed %s: %v", name, err)
	}
	return feed
}

func newTestArticle(t *testing.T, db *DB, feedID, guid string, published time.Time) *Article {
	t.Helper()

	repo := NewArticleRepository(db)
	inserted, err := repo.UpsertArticle(feedID, NewArticle{
		GUID:        guid,
		Link:        "https://example.com/" + guid,
		Title:       "Article " + guid,
		Summary:     "Summary for " + guid,
		PublishedAt: published,
		FetchedAt:   time.Now().UTC(),
		ContentHash: "hash-" + guid,
	})
	if err != nil {
		t.Fatalf("failed to insert article %s: %v", guid, err)
	}
	if !inserted {
		t.Fatalf("expected article %s to be inserted", guid)
	}

	rows, err := db.Query(`SELECT id FROM articles WHERE guid = ?`, guid)
	if err != nil {
		t.Fatalf("failed to query article id: %v", err)
	}
	defer rows.Close()
	if !rows.Next() {
		t.Fatalf("article %s not found after insert", guid)
	}
	var id string
	if err := rows.Scan(&id); err != nil {
		t.Fatalf("failed to scan article id: %v", err)
	}
	// Release the sole pooled connection (MaxOpenConns is 1) before the
	// next query, or GetArticle deadlocks waiting for it.
	rows.Close()

	article, err := repo.GetArticle(id)
	if err != nil || article == nil {
		t.Fatalf("failed to load article %s: %v", guid, err)
	}
	return article
}
