package tasks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wxy/SilentFeed-sub007/app/config"
	"github.com/wxy/SilentFeed-sub007/app/database"
	"github.com/wxy/SilentFeed-sub007/app/feed"
)

// ProcessFeedTask fetches one feed, parses it and stores new articles
// in the raw pool.
type ProcessFeedTask struct {
	Task
	FeedConfig  *config.FeedConfig
	httpClient  *http.Client
	parser      *feed.Parser
	registry    *feed.Registry
	feedRepo    database.FeedRepository
	articleRepo database.ArticleRepository
	extractor   *feed.ContentExtractor
	userAgent   string
}

func NewProcessFeedTask(feedName string, feedConfig *config.FeedConfig, httpClient *http.Client,
	parser *feed.Parser, registry *feed.Registry, feedRepo database.FeedRepository,
	articleRepo database.ArticleRepository, userAgent string) *ProcessFeedTask {
	return &ProcessFeedTask{
		Task:        NewTask(TaskTypeProcessFeed, feedName),
		FeedConfig:  feedConfig,
		httpClient:  httpClient,
		parser:      parser,
		registry:    registry,
		feedRepo:    feedRepo,
		articleRepo: articleRepo,
		extractor:   feed.NewContentExtractor(),
		userAgent:   userAgent,
	}
}

func (t *ProcessFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !t.FeedConfig.Settings.Enabled {
		slog.Debug("Feed disabled, skipping", "feed", t.FeedName)
		return nil
	}

	data, err := t.fetchFeed(ctx, t.FeedConfig.Feed.URL)
	if err != nil {
		t.registry.RecordFetch(t.FeedName, nil, 0, err)
		return fmt.Errorf("failed to fetch feed: %w", err)
	}

	metadata, items, err := t.parser.Run(data)
	if err != nil {
		t.registry.RecordFetch(t.FeedName, nil, 0, err)
		return fmt.Errorf("failed to parse feed: %w", err)
	}

	t.registry.RecordFetch(t.FeedName, metadata, len(items), nil)

	stored, err := t.feedRepo.GetFeed(t.FeedName)
	if err != nil {
		return fmt.Errorf("failed to load feed record: %w", err)
	}
	if stored == nil {
		return fmt.Errorf("feed %q not registered", t.FeedName)
	}

	if max := t.FeedConfig.Settings.MaxItems; max > 0 && len(items) > max {
		items = items[:max]
	}

	duplicateCount := 0
	newCount := 0
	fetchedAt := time.Now().UTC()

	for _, item := range items {
		isDuplicate, err := t.articleRepo.CheckDuplicate(item.ContentHash)
		if err != nil {
			return fmt.Errorf("failed to check for duplicates: %w", err)
		}
		if isDuplicate {
			duplicateCount++
			continue
		}

		article := feed.ToNewArticle(item, fetchedAt)
		// Feed bodies are usually HTML fragments. Store readable text so
		// scoring and analysis work on clean content.
		if text, err := t.extractor.Run([]byte(item.Text())); err == nil {
			article.Summary = text
		}

		inserted, err := t.articleRepo.UpsertArticle(stored.ID, article)
		if err != nil {
			return fmt.Errorf("failed to upsert article: %w", err)
		}
		if inserted {
			newCount++
		}
	}

	slog.Info("Task completed",
		"type", "ProcessFeed",
		"feed", t.FeedName,
		"duration", t.GetDuration(),
		"total", len(items),
		"duplicates", duplicateCount,
		"new", newCount)

	return nil
}

func (t *ProcessFeedTask) fetchFeed(ctx context.Context, url string) ([]byte, error) {
	timeout := time.Duration(t.FeedConfig.Settings.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}
