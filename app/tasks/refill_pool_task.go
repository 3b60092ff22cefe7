package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wxy/SilentFeed-sub007/app/database"
	"github.com/wxy/SilentFeed-sub007/app/strategy"
)

// RefillPoolTask promotes top-scored candidates into the recommendation
// pool whenever it drops below the strategy's refill threshold.
type RefillPoolTask struct {
	Task
	articleRepo database.ArticleRepository
	strategySvc *strategy.Service
}

func NewRefillPoolTask(articleRepo database.ArticleRepository, strategySvc *strategy.Service) *RefillPoolTask {
	return &RefillPoolTask{
		Task:        NewTask(TaskTypeRefillPool, ""),
		articleRepo: articleRepo,
		strategySvc: strategySvc,
	}
}

func (t *RefillPoolTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	current := t.strategySvc.EffectiveStrategy()

	counts, err := t.articleRepo.CountByStatus()
	if err != nil {
		return fmt.Errorf("failed to count pool statuses: %w", err)
	}

	recommended := counts[database.PoolStatusRecommended]
	if recommended > current.RefillThreshold {
		return nil
	}

	room := current.TargetPoolSize - recommended
	if room <= 0 {
		return nil
	}
	batch := current.RefillBatchSize
	if batch > room {
		batch = room
	}

	candidates, err := t.articleRepo.GetTopCandidates(batch)
	if err != nil {
		return fmt.Errorf("failed to load top candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil
	}

	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}

	if err := t.articleRepo.BatchMoveToRecommended(ids); err != nil {
		return fmt.Errorf("failed to refill recommendation pool: %w", err)
	}

	slog.Info("Task completed",
		"type", "RefillPool",
		"duration", t.GetDuration(),
		"recommended", recommended,
		"refilled", len(ids),
		"target", current.TargetPoolSize)

	return nil
}
