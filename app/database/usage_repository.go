package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// ErrAlreadyCorrected is returned when a usage record correction is
// attempted a second time, or against a record with exact figures.
var ErrAlreadyCorrected = errors.New("usage record already corrected")

var _ UsageRepository = (*SQLUsageRepository)(nil)

// SQLUsageRepository is the append-mostly ledger of AI calls
type SQLUsageRepository struct {
	db *DB
}

func NewUsageRepository(db *DB) *SQLUsageRepository {
	return &SQLUsageRepository{db: db}
}

// Append stores a usage record. ID and timestamp are filled in when empty.
func (r *SQLUsageRepository) Append(record *UsageRecord) error {
	if record.ID == "" {
		record.ID = newID()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if record.Currency == "" {
		record.Currency = CurrencyUSD
	}

	_, err := r.db.Exec(`
		INSERT INTO usage_records (
			id, ts, provider, model, purpose,
			input_tokens, output_tokens, total_tokens, tokens_estimated,
			input_cost, output_cost, total_cost, currency, cost_estimated,
			latency_ms, success, error_message, reasoning, corrected
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, record.ID, record.Timestamp.UTC(), record.Provider, record.Model, record.Purpose,
		record.InputTokens, record.OutputTokens, record.TotalTokens, record.TokensEstimated,
		record.InputCost, record.OutputCost, record.TotalCost, record.Currency, record.CostEstimated,
		record.LatencyMs, record.Success, record.ErrorMessage, record.Reasoning)
	if err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

// Correct replaces estimated token and cost figures with exact ones. Only
// records flagged as estimated can be corrected, and only once.
func (r *SQLUsageRepository) Correct(id string, correction UsageCorrection) error {
	res, err := r.db.Exec(`
		UPDATE usage_records
		SET input_tokens = ?, output_tokens = ?, total_tokens = ?, tokens_estimated = 0,
		    input_cost = ?, output_cost = ?, total_cost = ?, cost_estimated = 0,
		    corrected = 1
		WHERE id = ? AND corrected = 0 AND (tokens_estimated = 1 OR cost_estimated = 1)
	`, correction.InputTokens, correction.OutputTokens, correction.TotalTokens,
		correction.InputCost, correction.OutputCost, correction.TotalCost, id)
	if err != nil {
		return fmt.Errorf("failed to correct usage record: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyCorrected
	}
	return nil
}

// MonthlySpend returns the successful-call spend for a calendar month,
// grouped by currency.
func (r *SQLUsageRepository) MonthlySpend(year int, month time.Month) (map[string]float64, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	rows, err := r.db.Query(`
		SELECT currency, COALESCE(SUM(total_cost), 0)
		FROM usage_records
		WHERE ts >= ? AND ts < ? AND success = 1
		GROUP BY currency
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to compute monthly spend: %w", err)
	}
	defer rows.Close()

	spend := make(map[string]float64)
	for rows.Next() {
		var currency string
		var total float64
		if err := rows.Scan(&currency, &total); err != nil {
			return nil, fmt.Errorf("failed to scan monthly spend: %w", err)
		}
		spend[currency] = total
	}
	return spend, rows.Err()
}

func (r *SQLUsageRepository) buildQuery(query UsageQuery) sq.SelectBuilder {
	builder := sq.Select(
		"id", "ts", "provider", "model", "purpose",
		"input_tokens", "output_tokens", "total_tokens", "tokens_estimated",
		"input_cost", "output_cost", "total_cost", "currency", "cost_estimated",
		"latency_ms", "success", "error_message", "reasoning", "corrected",
	).From("usage_records")

	if !query.From.IsZero() {
		builder = builder.Where(sq.GtOrEq{"ts": query.From.UTC()})
	}
	if !query.To.IsZero() {
		builder = builder.Where(sq.Lt{"ts": query.To.UTC()})
	}
	if query.Provider != "" {
		builder = builder.Where(sq.Eq{"provider": query.Provider})
	}
	if query.Purpose != "" {
		builder = builder.Where(sq.Eq{"purpose": query.Purpose})
	}

	return builder
}

// Query returns usage records matching the filter, newest first.
func (r *SQLUsageRepository) Query(query UsageQuery) ([]UsageRecord, error) {
	builder := r.buildQuery(query).OrderBy("ts DESC")
	if query.Limit > 0 {
		builder = builder.Limit(uint64(query.Limit))
	}

	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build usage query: %w", err)
	}

	rows, err := r.db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage records: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		err := rows.Scan(
			&rec.ID, &rec.Timestamp, &rec.Provider, &rec.Model, &rec.Purpose,
			&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens, &rec.TokensEstimated,
			&rec.InputCost, &rec.OutputCost, &rec.TotalCost, &rec.Currency, &rec.CostEstimated,
			&rec.LatencyMs, &rec.Success, &rec.ErrorMessage, &rec.Reasoning, &rec.Corrected,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats aggregates the usage records matching the filter.
func (r *SQLUsageRepository) Stats(query UsageQuery) (*UsageStats, error) {
	query.Limit = 0
	records, err := r.Query(query)
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{
		CostByCurrency: make(map[string]float64),
		ByProvider:     make(map[string]int),
		ByPurpose:      make(map[string]int),
	}

	var latencySum int64
	for _, rec := range records {
		stats.TotalCalls++
		if rec.Success {
			stats.SuccessCalls++
			stats.CostByCurrency[rec.Currency] += rec.TotalCost
		}
		stats.TotalTokens += rec.TotalTokens
		stats.ByProvider[rec.Provider]++
		if rec.Purpose != "" {
			stats.ByPurpose[rec.Purpose]++
		}
		latencySum += rec.LatencyMs
	}

	if stats.TotalCalls > 0 {
		stats.SuccessRate = float64(stats.SuccessCalls) / float64(stats.TotalCalls)
		stats.AvgLatencyMs = float64(latencySum) / float64(stats.TotalCalls)
	}

	return stats, nil
}

// GetRecord returns a single usage record by id, or nil when missing.
func (r *SQLUsageRepository) GetRecord(id string) (*UsageRecord, error) {
	row := r.db.QueryRow(`
		SELECT id, ts, provider, model, purpose,
		       input_tokens, output_tokens, total_tokens, tokens_estimated,
		       input_cost, output_cost, total_cost, currency, cost_estimated,
		       latency_ms, success, error_message, reasoning, corrected
		FROM usage_records WHERE id = ?
	`, id)

	var rec UsageRecord
	err := row.Scan(
		&rec.ID, &rec.Timestamp, &rec.Provider, &rec.Model, &rec.Purpose,
		&rec.InputTokens, &rec.OutputTokens, &rec.TotalTokens, &rec.TokensEstimated,
		&rec.InputCost, &rec.OutputCost, &rec.TotalCost, &rec.Currency, &rec.CostEstimated,
		&rec.LatencyMs, &rec.Success, &rec.ErrorMessage, &rec.Reasoning, &rec.Corrected,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage record: %w", err)
	}
	return &rec, nil
}
