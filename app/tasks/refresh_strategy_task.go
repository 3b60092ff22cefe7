package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wxy/SilentFeed-sub007/app/strategy"
)

// RefreshStrategyTask regenerates the strategy decision once the current
// one has lapsed. Expiry itself is lazy; this task only restores
// responsiveness between reads.
type RefreshStrategyTask struct {
	Task
	strategySvc *strategy.Service
}

func NewRefreshStrategyTask(strategySvc *strategy.Service) *RefreshStrategyTask {
	return &RefreshStrategyTask{
		Task:        NewTask(TaskTypeRefreshStrategy, ""),
		strategySvc: strategySvc,
	}
}

func (t *RefreshStrategyTask) Execute(ctx context.Context) error {
	decision, _, err := t.strategySvc.GetCurrentStrategy()
	if err != nil {
		return fmt.Errorf("failed to read current strategy: %w", err)
	}
	if decision != nil {
		return nil
	}

	newDecision, _, _, err := t.strategySvc.GenerateNewStrategy(ctx)
	if errors.Is(err, strategy.ErrNoProvider) {
		slog.Debug("No AI provider configured, running on default strategy")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to generate strategy: %w", err)
	}

	slog.Info("Task completed",
		"type", "RefreshStrategy",
		"duration", t.GetDuration(),
		"decision", newDecision.ID,
		"validUntil", newDecision.ValidUntil)

	return nil
}
