package database

import (
	"errors"
	"testing"
	"time"
)

func TestUpsertArticleDeduplicates(t *testing.T) {
	db := newTestDB(t)
	feed := newTestFeed(t, db, "tech")
	repo := NewArticleRepository(db)

	newTestArticle(t, db, feed.ID, "a1", time.Now())

	inserted, err := repo.UpsertArticle(feed.ID, NewArticle{
		GUID:        "a1",
		Title:       "Same GUID again",
		PublishedAt: time.Now(),
		FetchedAt:   time.Now(),
		ContentHash: "other-hash",
	})
	if err != nil {
		t.Fatalf("UpsertArticle failed: %v", err)
	}
	if inserted {
		t.Error("Expected duplicate GUID to be skipped")
	}

	dup, err := repo.CheckDuplicate("hash-a1")
	if err != nil {
		t.Fatalf("CheckDuplicate failed: %v", err)
	}
	if !dup {
		t.Error("Expected content hash to be reported as duplicate")
	}
}

func TestPoolTransitions(t *testing.T) {
	db := newTestDB(t)
	feed := newTestFeed(t, db, "tech")
	repo := NewArticleRepository(db)

	a := newTestArticle(t, db, feed.ID, "a1", time.Now())
	if a.PoolStatus != PoolStatusRaw {
		t.Fatalf("Expected new article in raw pool, got %s", a.PoolStatus)
	}

	if err := repo.MoveToCandidate(a.ID, 0.75); err != nil {
		t.Fatalf("MoveToCandidate failed: %v", err)
	}

	got, _ := repo.GetArticle(a.ID)
	if got.PoolStatus != PoolStatusCandidate {
		t.Errorf("Expected candidate status, got %s", got.PoolStatus)
	}
	if got.AnalysisScore == nil || *got.AnalysisScore != 0.75 {
		t.Error("Expected analysis score 0.75 to be stamped")
	}
	if got.CandidateAddedAt == nil {
		t.Error("Expected candidate timestamp to be stamped")
	}
	if got.RecommendedAddedAt != nil {
		t.Error("Recommended timestamp must stay unset for candidates")
	}

	if err := repo.MoveToRecommended(a.ID); err != nil {
		t.Fatalf("MoveToRecommended failed: %v", err)
	}

	got, _ = repo.GetArticle(a.ID)
	if got.PoolStatus != PoolStatusRecommended {
		t.Errorf("Expected recommended status, got %s", got.PoolStatus)
	}
	if got.CandidateAddedAt != nil {
		t.Error("Candidate timestamp must be cleared on promotion")
	}
	if got.RecommendedAddedAt == nil {
		t.Error("Expected recommended timestamp to be stamped")
	}

	if err := repo.ExitArticle(a.ID, ExitReasonRead); err != nil {
		t.Fatalf("ExitArticle failed: %v", err)
	}

	got, _ = repo.GetArticle(a.ID)
	if got.PoolStatus != PoolStatusExited {
		t.Errorf("Expected exited status, got %s", got.PoolStatus)
	}
	if got.ExitReason != ExitReasonRead {
		t.Errorf("Expected exit reason %q, got %q", ExitReasonRead, got.ExitReason)
	}
}

func TestInvalidTransitionsRejected(t *testing.T) {
	db := newTestDB(t)
	feed := newTestFeed(t, db, "tech")
	repo := NewArticleRepository(db)

	a := newTestArticle(t, db, feed.ID, "a1", time.Now())

	// raw -> recommended skips the candidate stage
	if err := repo.MoveToRecommended(a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for raw->recommended, got %v", err)
	}

	// raw articles never exit directly
	if err := repo.ExitArticle(a.ID, ExitReasonDismissed); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for raw->exited, got %v", err)
	}

	if err := repo.MarkNotQualified(a.ID, 0.2); err != nil {
		t.Fatalf("MarkNotQualified failed: %v", err)
	}

	// analyzed_not_qualified is terminal for candidate entry
	if err := repo.MoveToCandidate(a.ID, 0.9); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for not_qualified->candidate, got %v", err)
	}

	if err := repo.MoveToCandidate("missing", 0.9); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for missing article, got %v", err)
	}
}

func TestBatchTransitions(t *testing.T) {
	db := newTestDB(t)
	feed := newTestFeed(t, db, "tech")
	repo := NewArticleRepository(db)

	a1 := newTestArticle(t, db, feed.ID, "a1", time.Now())
	a2 := newTestArticle(t, db, feed.ID, "a2", time.Now())

	if err := repo.BatchMoveToCandidate(nil); err != nil {
		t.Errorf("Empty batch must be a no-op, got %v", err)
	}

	entries := []CandidateEntry{
		{ArticleID: a1.ID, Score: 0.8},
		{ArticleID: a2.ID, Score: 0.6},
	}
	if err := repo.BatchMoveToCandidate(entries); err != nil {
		t.Fatalf("BatchMoveToCandidate failed: %v", err)
	}

	avg, err := repo.CandidateAverageScore()
	if err != nil {
		t.Fatalf("CandidateAverageScore failed: %v", err)
	}
	if avg < 0.69 || avg > 0.71 {
		t.Errorf("Expected average score 0.7, got %f", avg)
	}

	if err := repo.BatchMoveToRecommended([]string{a1.ID}); err != nil {
		t.Fatalf("BatchMoveToRecommended failed: %v", err)
	}

	// Atomicity: one bad id rolls back the whole batch.
	a3 := newTestArticle(t, db, feed.ID, "a3", time.Now())
	err = repo.BatchMoveToCandidate([]CandidateEntry{
		{ArticleID: a3.ID, Score: 0.5},
		{ArticleID: "missing", Score: 0.5},
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition from bad batch, got %v", err)
	}
	got, _ := repo.GetArticle(a3.ID)
	if got.PoolStatus != PoolStatusRaw {
		t.Errorf("Failed batch must roll back; article is %s", got.PoolStatus)
	}
}

func TestExpireCandidates(t *testing.T) {
	db := newTestDB(t)
	feed := newTestFeed(t, db, "tech")
	repo := NewArticleRepository(db)

	old := newTestArticle(t, db, feed.ID, "old", time.Now().AddDate(0, 0, -31))
	fresh := newTestArticle(t, db, feed.ID, "fresh", time.Now())

	if err := repo.MoveToCandidate(old.ID, 0.7); err != nil {
		t.Fatal(err)
	}
	if err := repo.MoveToCandidate(fresh.ID, 0.7); err != nil {
		t.Fatal(err)
	}

	// Backdate the old candidate's entry timestamp.
	if _, err := db.Exec(`UPDATE articles SET candidate_added_at = ? WHERE id = ?`,
		time.Now().UTC().AddDate(0, 0, -31), old.ID); err != nil {
		t.Fatal(err)
	}

	// A candidate that somehow lost its timestamp counts as maximally old.
	orphan := newTestArticle(t, db, feed.ID, "orphan", time.Now())
	if err := repo.MoveToCandidate(orphan.ID, 0.7); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`UPDATE articles SET candidate_added_at = NULL WHERE id = ?`, orphan.ID); err != nil {
		t.Fatal(err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -30)
	count, err := repo.ExpireCandidates(cutoff)
	if err != nil {
		t.Fatalf("ExpireCandidates failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 expired candidates, got %d", count)
	}

	got, _ := repo.GetArticle(old.ID)
	if got.PoolStatus != PoolStatusExited || got.ExitReason != ExitReasonExpired {
		t.Errorf("Expected old candidate exited with reason expired, got %s/%s", got.PoolStatus, got.ExitReason)
	}

	got, _ = repo.GetArticle(fresh.ID)
	if got.PoolStatus != PoolStatusCandidate {
		t.Errorf("Fresh candidate must be untouched, got %s", got.PoolStatus)
	}

	// Idempotent: a second sweep with no new expirations returns 0.
	count, err = repo.ExpireCandidates(cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected second sweep to expire 0, got %d", count)
	}
}

func TestSetAnalysisAndCounts(t *testing.T) {
	db := newTestDB(t)
	feed := newTestFeed(t, db, "tech")
	repo := NewArticleRepository(db)

	a := newTestArticle(t, db, feed.ID, "a1", time.Now())
	topics := map[string]float64{"technology": 0.8, "design": 0.3}

	if err := repo.SetAnalysis(a.ID, topics, 0.85, "deepseek"); err != nil {
		t.Fatalf("SetAnalysis failed: %v", err)
	}

	got, _ := repo.GetArticle(a.ID)
	if got.Topics["technology"] != 0.8 {
		t.Errorf("Expected technology confidence 0.8, got %f", got.Topics["technology"])
	}
	if got.Confidence == nil || *got.Confidence != 0.85 {
		t.Error("Expected confidence 0.85")
	}
	if got.AnalysisProvider != "deepseek" {
		t.Errorf("Expected provider deepseek, got %s", got.AnalysisProvider)
	}

	analyzed, err := repo.CountAnalyzed()
	if err != nil {
		t.Fatal(err)
	}
	if analyzed != 1 {
		t.Errorf("Expected 1 analyzed article, got %d", analyzed)
	}

	counts, err := repo.CountByStatus()
	if err != nil {
		t.Fatal(err)
	}
	if counts[PoolStatusRaw] != 1 {
		t.Errorf("Expected 1 raw article, got %d", counts[PoolStatusRaw])
	}

	list, err := repo.GetAnalyzedArticles(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 analyzed article from query, got %d", len(list))
	}
}
