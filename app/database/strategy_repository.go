package database

import (
	"database/sql"
	"fmt"
	"time"
)

var _ StrategyRepository = (*SQLStrategyRepository)(nil)

// SQLStrategyRepository is a single-slot store for the current strategy
// decision. Saving a decision replaces whatever was there before.
type SQLStrategyRepository struct {
	db *DB
}

func NewStrategyRepository(db *DB) *SQLStrategyRepository {
	return &SQLStrategyRepository{db: db}
}

// Get returns the stored decision, or nil when the slot is empty.
func (r *SQLStrategyRepository) Get() (*StrategyDecision, error) {
	row := r.db.QueryRow(`
		SELECT id, created_at, valid_until, next_review, status, context_json, strategy_json
		FROM strategy_decisions
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var d StrategyDecision
	err := row.Scan(&d.ID, &d.CreatedAt, &d.ValidUntil, &d.NextReview, &d.Status, &d.ContextJSON, &d.StrategyJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy decision: %w", err)
	}
	return &d, nil
}

// Save replaces the slot with the given decision.
func (r *SQLStrategyRepository) Save(decision *StrategyDecision) error {
	if decision.ID == "" {
		decision.ID = newID()
	}
	if decision.CreatedAt.IsZero() {
		decision.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM strategy_decisions`); err != nil {
		return fmt.Errorf("failed to clear strategy slot: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO strategy_decisions (id, created_at, valid_until, next_review, status, context_json, strategy_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, decision.ID, decision.CreatedAt.UTC(), decision.ValidUntil.UTC(), decision.NextReview.UTC(),
		decision.Status, decision.ContextJSON, decision.StrategyJSON)
	if err != nil {
		return fmt.Errorf("failed to save strategy decision: %w", err)
	}

	return tx.Commit()
}

// Delete removes a decision by id. Deleting a missing decision is a no-op.
func (r *SQLStrategyRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM strategy_decisions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete strategy decision: %w", err)
	}
	return nil
}
