package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// QuotaConfig is a per-user spend limit. Users without a row fall back
// to the default published in the parameter store.
type QuotaConfig struct {
	Username  string
	Frequency string
	LimitUSD  decimal.Decimal
}

// UsageSummary is the durable spend counter for one user and window.
// LastUpdatedTime doubles as the optimistic-concurrency version: window
// resets compare against it, while AddUsage deliberately leaves it
// untouched so increments never invalidate an in-flight reset.
type UsageSummary struct {
	Username        string
	Frequency       string
	TimePeriod      string
	TotalCost       decimal.Decimal
	LastUpdatedTime time.Time
}

// GetQuotaConfig loads a user's configured limit.
func (s *Store) GetQuotaConfig(ctx context.Context, username string) (QuotaConfig, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT username, frequency, limit_usd FROM quota_configs WHERE username = $1`, username)

	var cfg QuotaConfig
	err := row.Scan(&cfg.Username, &cfg.Frequency, &cfg.LimitUSD)
	if errors.Is(err, pgx.ErrNoRows) {
		return QuotaConfig{}, ErrNotFound
	}
	if err != nil {
		return QuotaConfig{}, fmt.Errorf("get quota config: %w", err)
	}
	return cfg, nil
}

// UpsertQuotaConfig creates or replaces a user's spend limit.
func (s *Store) UpsertQuotaConfig(ctx context.Context, cfg QuotaConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_configs (username, frequency, limit_usd)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE
		 SET frequency = EXCLUDED.frequency, limit_usd = EXCLUDED.limit_usd`,
		cfg.Username, cfg.Frequency, cfg.LimitUSD)
	if err != nil {
		return fmt.Errorf("upsert quota config: %w", err)
	}
	return nil
}

// DeleteQuotaConfig removes a user's limit so the deployment default
// applies again. Deleting an absent row returns ErrNotFound.
func (s *Store) DeleteQuotaConfig(ctx context.Context, username string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM quota_configs WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("delete quota config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUsageSummary loads a user's current usage row.
func (s *Store) GetUsageSummary(ctx context.Context, username string) (UsageSummary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT username, frequency, time_period, total_estimated_cost, last_updated_time
		 FROM quota_usage_summaries WHERE username = $1`, username)

	var sum UsageSummary
	err := row.Scan(&sum.Username, &sum.Frequency, &sum.TimePeriod, &sum.TotalCost, &sum.LastUpdatedTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return UsageSummary{}, ErrNotFound
	}
	if err != nil {
		return UsageSummary{}, fmt.Errorf("get usage summary: %w", err)
	}
	return sum, nil
}

// CreateUsageSummary inserts the initial row for a user. A concurrent
// creator winning the race surfaces as ErrDuplicate so the caller can
// re-read instead of failing the request.
func (s *Store) CreateUsageSummary(ctx context.Context, sum UsageSummary) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO quota_usage_summaries (username, frequency, time_period, total_estimated_cost, last_updated_time)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (username) DO NOTHING`,
		sum.Username, sum.Frequency, sum.TimePeriod, sum.TotalCost, sum.LastUpdatedTime)
	if err != nil {
		return fmt.Errorf("create usage summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

// ResetUsageWindow moves a summary to a new window, zeroing the total
// and refreshing the frequency alongside it. The write only lands if the
// stored version still equals expectedVersion; otherwise
// ErrVersionConflict is returned and the caller re-reads.
func (s *Store) ResetUsageWindow(ctx context.Context, username, frequency, timePeriod string, expectedVersion, newVersion time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quota_usage_summaries
		 SET frequency = $2, time_period = $3, total_estimated_cost = 0, last_updated_time = $5
		 WHERE username = $1 AND last_updated_time = $4`,
		username, frequency, timePeriod, expectedVersion, newVersion)
	if err != nil {
		return fmt.Errorf("reset usage window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// AddUsage atomically increments a user's total. Missing rows are
// created on the fly so a flush never depends on the admission path
// having initialized the summary first.
func (s *Store) AddUsage(ctx context.Context, username, frequency, timePeriod string, cost decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quota_usage_summaries (username, frequency, time_period, total_estimated_cost, last_updated_time)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (username) DO UPDATE
		 SET total_estimated_cost = quota_usage_summaries.total_estimated_cost + EXCLUDED.total_estimated_cost`,
		username, frequency, timePeriod, cost)
	if err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}
