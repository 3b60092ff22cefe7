package pool

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/wxy/SilentFeed-sub007/app/database"
)

func newTestPool(t *testing.T) (*Pool, *database.SQLArticleRepository, string, *database.DB) {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	feedRepo := database.NewFeedRepository(db)
	if err := feedRepo.UpsertFeed("tech", "https://example.com/feed.xml", "subscribed", "manual"); err != nil {
		t.Fatal(err)
	}
	feed, err := feedRepo.GetFeed("tech")
	if err != nil || feed == nil {
		t.Fatalf("failed to load feed: %v", err)
	}

	articles := database.NewArticleRepository(db)
	return NewPool(articles), articles, feed.ID, db
}

func addRaw(t *testing.T, articles *database.SQLArticleRepository, feedID, guid string) string {
	t.Helper()
	if _, err := articles.UpsertArticle(feedID, database.NewArticle{
		GUID:        guid,
		Title:       "Article " + guid,
		PublishedAt: time.Now().UTC(),
		FetchedAt:   time.Now().UTC(),
		ContentHash: "hash-" + guid,
	}); err != nil {
		t.Fatal(err)
	}

	list, err := articles.GetArticlesByStatus(database.PoolStatusRaw, 100)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range list {
		if a.GUID == guid {
			return a.ID
		}
	}
	t.Fatalf("article %s not found", guid)
	return ""
}

func TestPoolStats(t *testing.T) {
	p, articles, feedID, _ := newTestPool(t)

	a1 := addRaw(t, articles, feedID, "a1")
	a2 := addRaw(t, articles, feedID, "a2")
	a3 := addRaw(t, articles, feedID, "a3")
	addRaw(t, articles, feedID, "a4")

	if err := p.MoveToCandidate(a1, 0.9); err != nil {
		t.Fatal(err)
	}
	if err := p.MoveToCandidate(a2, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := p.MarkNotQualified(a3, 0.1); err != nil {
		t.Fatal(err)
	}
	if err := p.MoveToRecommended(a1); err != nil {
		t.Fatal(err)
	}

	stats, err := p.GetPoolStats()
	if err != nil {
		t.Fatalf("GetPoolStats failed: %v", err)
	}
	if stats.Raw != 1 || stats.Candidate != 1 || stats.NotQualified != 1 || stats.Recommended != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.ActiveTotal != 4 {
		t.Errorf("Expected activeTotal 4, got %d", stats.ActiveTotal)
	}
	if stats.CandidateAvgScore != 0.5 {
		t.Errorf("Expected candidate average 0.5, got %f", stats.CandidateAvgScore)
	}

	if err := p.Exit(a1, database.ExitReasonRead); err != nil {
		t.Fatal(err)
	}
	stats, _ = p.GetPoolStats()
	if stats.Exited != 1 || stats.ActiveTotal != 3 {
		t.Errorf("Expected 1 exited / activeTotal 3, got %+v", stats)
	}
}

func TestExitRejectsUnknownReason(t *testing.T) {
	p, articles, feedID, _ := newTestPool(t)
	a := addRaw(t, articles, feedID, "a1")
	if err := p.MoveToCandidate(a, 0.8); err != nil {
		t.Fatal(err)
	}
	if err := p.Exit(a, "vanished"); err == nil {
		t.Error("Expected error for unknown exit reason")
	}
}

func TestCleanupExpiredCandidates(t *testing.T) {
	p, articles, feedID, db := newTestPool(t)

	a := addRaw(t, articles, feedID, "stale")
	if err := p.MoveToCandidate(a, 0.8); err != nil {
		t.Fatal(err)
	}

	// Nothing is old enough yet.
	count, err := p.CleanupExpiredCandidates(30)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected no expirations, got %d", count)
	}

	// A candidate that lost its entry timestamp counts as maximally old
	// and is swept even by a generous cutoff.
	orphan := addRaw(t, articles, feedID, "orphan")
	if err := p.MoveToCandidate(orphan, 0.8); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE articles SET candidate_added_at = NULL WHERE id = ?`, orphan); err != nil {
		t.Fatal(err)
	}
	count, err = p.CleanupExpiredCandidates(30)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected only the timestampless candidate swept, got %d", count)
	}
	got, err := articles.GetArticle(orphan)
	if err != nil {
		t.Fatal(err)
	}
	if got.PoolStatus != database.PoolStatusExited || got.ExitReason != database.ExitReasonExpired {
		t.Errorf("Expected orphan exited as expired, got %s/%s", got.PoolStatus, got.ExitReason)
	}

	// 0-day expiry treats every candidate as stale.
	count, err = p.CleanupExpiredCandidates(0)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Expected 1 expiration, got %d", count)
	}

	// Idempotent: a repeated sweep finds nothing left to exit.
	count, err = p.CleanupExpiredCandidates(0)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected repeated sweep to expire 0, got %d", count)
	}
}
