package feed

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/text/language"

	"github.com/wxy/SilentFeed-sub007/app/config"
	"github.com/wxy/SilentFeed-sub007/app/database"
)

// Registry keeps the database feed records in sync with the YAML
// configuration directory and maintains per-feed quality scores from
// fetch health.
type Registry struct {
	feedRepo database.FeedRepository
	configs  map[string]*config.FeedConfig
	mu       sync.RWMutex
}

func NewRegistry(feedRepo database.FeedRepository) *Registry {
	return &Registry{
		feedRepo: feedRepo,
		configs:  make(map[string]*config.FeedConfig),
	}
}

// Sync registers every configured feed in the database and caches the
// configurations for scheduling.
func (r *Registry) Sync(configs []config.FeedConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range configs {
		fc := &configs[i]
		err := r.feedRepo.UpsertFeed(fc.Name, fc.Feed.URL, fc.Subscription.Status, fc.Subscription.Source)
		if err != nil {
			return fmt.Errorf("failed to register feed %q: %w", fc.Name, err)
		}
		if err := r.feedRepo.SetFeedActive(fc.Name, fc.Settings.Enabled); err != nil {
			return fmt.Errorf("failed to set feed active flag %q: %w", fc.Name, err)
		}
		r.configs[fc.Name] = fc
	}

	slog.Info("Feed registry synced", "count", len(configs))
	return nil
}

// GetConfig returns the cached configuration for a feed, or nil.
func (r *Registry) GetConfig(name string) *config.FeedConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configs[name]
}

// GetConfigs returns every cached feed configuration.
func (r *Registry) GetConfigs() []*config.FeedConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*config.FeedConfig, 0, len(r.configs))
	for _, fc := range r.configs {
		all = append(all, fc)
	}
	return all
}

// GetEnabledConfigs returns the configurations with fetching enabled.
func (r *Registry) GetEnabledConfigs() []*config.FeedConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	enabled := make([]*config.FeedConfig, 0, len(r.configs))
	for _, fc := range r.configs {
		if fc.Settings.Enabled {
			enabled = append(enabled, fc)
		}
	}
	return enabled
}

// RecordFetch updates a feed's metadata and nudges its quality score
// from the fetch outcome. Successful fetches with items move the score
// toward 100, failures toward 0.
func (r *Registry) RecordFetch(name string, metadata *Metadata, itemCount int, fetchErr error) {
	if fetchErr == nil && metadata != nil {
		lang := NormalizeLanguage(metadata.Language)
		if err := r.feedRepo.UpdateFeedMetadata(name, metadata.Title, lang, time.Now().UTC()); err != nil {
			slog.Error("Failed to update feed metadata", "feed", name, "err", err)
		}
	}

	current, err := r.feedRepo.GetFeed(name)
	if err != nil || current == nil {
		slog.Warn("Failed to load feed for quality update", "feed", name, "err", err)
		return
	}

	quality := 50.0
	if current.QualityScore != nil {
		quality = *current.QualityScore
	}

	switch {
	case fetchErr != nil:
		quality -= 10
	case itemCount == 0:
		quality -= 2
	default:
		quality += 5
	}

	if err := r.feedRepo.UpdateFeedQuality(name, quality); err != nil {
		slog.Error("Failed to update feed quality", "feed", name, "err", err)
	}
}

// NormalizeLanguage canonicalizes a feed's language code ("en_US",
// "EN-us", "english" variants) into a BCP 47 tag. Unparseable input is
// returned unchanged.
func NormalizeLanguage(lang string) string {
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	return tag.String()
}
