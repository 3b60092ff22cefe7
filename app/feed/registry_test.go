package feed

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/wxy/SilentFeed-sub007/app/config"
	"github.com/wxy/SilentFeed-sub007/app/database"
)

func newTestRegistry(t *testing.T) (*Registry, database.FeedRepository) {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	repo := database.NewFeedRepository(db)
	return NewRegistry(repo), repo
}

func testFeedConfig(name string, enabled bool) config.FeedConfig {
	return config.FeedConfig{
		Name: name,
		Feed: config.FeedInfo{URL: "https://example.com/" + name + ".xml"},
		Subscription: config.FeedSubscription{
			Status: config.StatusSubscribed,
			Source: config.SourceManual,
		},
		Settings: config.FeedSettings{Enabled: enabled},
	}
}

func TestRegistrySync(t *testing.T) {
	registry, repo := newTestRegistry(t)

	configs := []config.FeedConfig{
		testFeedConfig("alpha", true),
		testFeedConfig("beta", false),
	}
	if err := registry.Sync(configs); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	stored, err := repo.GetFeed("alpha")
	if err != nil || stored == nil {
		t.Fatalf("Expected alpha registered, got %v / %v", stored, err)
	}
	if stored.Status != config.StatusSubscribed || !stored.Active {
		t.Errorf("Unexpected feed state: %+v", stored)
	}

	beta, _ := repo.GetFeed("beta")
	if beta == nil || beta.Active {
		t.Error("Disabled feed must be registered as inactive")
	}

	if got := len(registry.GetEnabledConfigs()); got != 1 {
		t.Errorf("Expected 1 enabled config, got %d", got)
	}
	if registry.GetConfig("alpha") == nil {
		t.Error("Expected cached config for alpha")
	}
}

func TestRecordFetchQuality(t *testing.T) {
	registry, repo := newTestRegistry(t)
	if err := registry.Sync([]config.FeedConfig{testFeedConfig("alpha", true)}); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	// First successful fetch starts from the 50 baseline and moves up.
	registry.RecordFetch("alpha", &Metadata{Title: "Alpha", Language: "en_US"}, 10, nil)

	stored, _ := repo.GetFeed("alpha")
	if stored.QualityScore == nil || *stored.QualityScore != 55 {
		t.Fatalf("Expected quality 55 after success, got %v", stored.QualityScore)
	}
	if stored.Title != "Alpha" {
		t.Errorf("Expected metadata title stored, got %q", stored.Title)
	}
	if stored.Language != "en-US" {
		t.Errorf("Expected normalized language en-US, got %q", stored.Language)
	}

	// A failed fetch pushes the score down.
	registry.RecordFetch("alpha", nil, 0, errors.New("connection refused"))
	stored, _ = repo.GetFeed("alpha")
	if *stored.QualityScore != 45 {
		t.Errorf("Expected quality 45 after failure, got %v", *stored.QualityScore)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"en-US", "en-US"},
		{"en_US", "en-US"},
		{"EN", "en"},
		{"", ""},
		{"???", "???"},
	}

	for _, tt := range tests {
		if got := NormalizeLanguage(tt.in); got != tt.want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
