package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wxy/SilentFeed-sub007/app/pool"
	"github.com/wxy/SilentFeed-sub007/app/strategy"
)

// CleanupPoolTask expires stale candidates using the current strategy's
// expiry window.
type CleanupPoolTask struct {
	Task
	pool        *pool.Pool
	strategySvc *strategy.Service
}

func NewCleanupPoolTask(p *pool.Pool, strategySvc *strategy.Service) *CleanupPoolTask {
	return &CleanupPoolTask{
		Task:        NewTask(TaskTypeCleanupPool, ""),
		pool:        p,
		strategySvc: strategySvc,
	}
}

func (t *CleanupPoolTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	current := t.strategySvc.EffectiveStrategy()
	maxAgeDays := (current.CandidateExpiryHours + 23) / 24
	if maxAgeDays < 1 {
		maxAgeDays = 1
	}

	expired, err := t.pool.CleanupExpiredCandidates(maxAgeDays)
	if err != nil {
		return fmt.Errorf("failed to expire candidates: %w", err)
	}

	if expired > 0 {
		slog.Info("Task completed",
			"type", "CleanupPool",
			"duration", t.GetDuration(),
			"maxAgeDays", maxAgeDays,
			"expired", expired)
	}

	return nil
}
