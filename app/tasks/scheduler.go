package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/wxy/SilentFeed-sub007/app/cfg"
	"github.com/wxy/SilentFeed-sub007/app/database"
	"github.com/wxy/SilentFeed-sub007/app/executor"
	"github.com/wxy/SilentFeed-sub007/app/feed"
	"github.com/wxy/SilentFeed-sub007/app/pool"
	"github.com/wxy/SilentFeed-sub007/app/strategy"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

type Scheduler struct {
	feedRepo    database.FeedRepository
	articleRepo database.ArticleRepository
	registry    *feed.Registry
	httpClient  *http.Client
	parser      *feed.Parser
	pool        *pool.Pool
	exec        *executor.Executor
	strategySvc *strategy.Service
	userAgent   string
	interval    time.Duration
	workerCount int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	taskQueue   chan TaskInterface
}

func NewScheduler(registry *feed.Registry, feedRepo database.FeedRepository,
	articleRepo database.ArticleRepository, httpClient *http.Client, parser *feed.Parser,
	p *pool.Pool, exec *executor.Executor, strategySvc *strategy.Service) TaskSchedulerInterface {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		feedRepo:    feedRepo,
		articleRepo: articleRepo,
		registry:    registry,
		httpClient:  httpClient,
		parser:      parser,
		pool:        p,
		exec:        exec,
		strategySvc: strategySvc,
		userAgent:   cfg.UserAgent,
		interval:    time.Duration(cfg.SchedulerInterval) * time.Second,
		workerCount: cfg.WorkerCount,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, 300),
	}
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueFeedTasks()
		s.enqueuePipelineTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueFeedTasks()
				s.enqueuePipelineTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// enqueueFeedTasks schedules a fetch for every enabled feed that is due
// per its configured refresh interval.
func (s *Scheduler) enqueueFeedTasks() {
	feedConfigs := s.registry.GetEnabledConfigs()
	if len(feedConfigs) == 0 {
		slog.Debug("No enabled feed configurations found")
		return
	}

	now := time.Now().UTC()
	for _, feedConfig := range feedConfigs {
		stored, err := s.feedRepo.GetFeed(feedConfig.Name)
		if err != nil {
			slog.Warn("Failed to get feed from database, skipping", "feed", feedConfig.Name, "error", err)
			continue
		}
		if stored == nil {
			slog.Warn("Feed not found in database, skipping", "feed", feedConfig.Name)
			continue
		}

		if stored.LastFetchedAt != nil {
			nextFetch := stored.LastFetchedAt.Add(time.Duration(feedConfig.Settings.RefreshInterval) * time.Second)
			if nextFetch.After(now) {
				slog.Debug("Feed not due for refresh yet", "feed", feedConfig.Name, "next_fetch_at", nextFetch)
				continue
			}
		}

		task := NewProcessFeedTask(feedConfig.Name, feedConfig, s.httpClient, s.parser,
			s.registry, s.feedRepo, s.articleRepo, s.userAgent)
		if err := s.EnqueueTask(task); err != nil {
			slog.Warn("Failed to enqueue ProcessFeedTask", "feed", feedConfig.Name, "error", err)
		}
	}
}

// enqueuePipelineTasks schedules one round of scoring, cleanup, refill
// and strategy refresh.
func (s *Scheduler) enqueuePipelineTasks() {
	pipeline := []TaskInterface{
		NewScoreArticlesTask(s.articleRepo, s.feedRepo, s.exec, s.strategySvc),
		NewCleanupPoolTask(s.pool, s.strategySvc),
		NewRefillPoolTask(s.articleRepo, s.strategySvc),
		NewRefreshStrategyTask(s.strategySvc),
	}

	for _, task := range pipeline {
		if err := s.EnqueueTask(task); err != nil {
			slog.Warn("Failed to enqueue pipeline task", "type", string(task.GetType()), "error", err)
		}
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				time.Sleep(retryDelay)
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				default:
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
