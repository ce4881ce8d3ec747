package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/ncecere/llm_gateway/internal/audit"
	"github.com/ncecere/llm_gateway/internal/params"
	"github.com/ncecere/llm_gateway/internal/store"
)

// ErrStoreConflict indicates the usage row kept changing under us and
// the bounded retries ran out. The request should be retried by the
// caller, not silently admitted.
var ErrStoreConflict = errors.New("quota: persistent store conflict")

// ExceededError rejects a request whose user is over their limit.
type ExceededError struct {
	Frequency Frequency
	Used      decimal.Decimal
	Limit     decimal.Decimal
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: used %s of %s (%s)", e.Used, e.Limit, e.Frequency)
}

// Limit is a resolved spend ceiling for one user.
type Limit struct {
	Frequency Frequency
	Amount    decimal.Decimal
}

// Ledger is the slice of the durable store the accountant needs.
type Ledger interface {
	GetQuotaConfig(ctx context.Context, username string) (store.QuotaConfig, error)
	GetUsageSummary(ctx context.Context, username string) (store.UsageSummary, error)
	CreateUsageSummary(ctx context.Context, sum store.UsageSummary) error
	ResetUsageWindow(ctx context.Context, username, frequency, timePeriod string, expectedVersion, newVersion time.Time) error
	AddUsage(ctx context.Context, username, frequency, timePeriod string, cost decimal.Decimal) error
}

// Options configures the accountant.
type Options struct {
	DefaultParameterName string
	StaticDefault        string
	RolloverMaxAttempts  uint64
	ConfigCacheTTL       time.Duration
	ConfigCacheSize      int
}

// Accountant answers "may this user spend more right now". It lazily
// creates usage rows, rolls windows forward with optimistic
// concurrency, and compares accumulated spend against the user's limit.
type Accountant struct {
	ledger      Ledger
	params      params.Source
	opts        Options
	auditor     *audit.Recorder
	configCache *expirable.LRU[string, Limit]
	now         func() time.Time
	backoff     time.Duration
}

func NewAccountant(ledger Ledger, source params.Source, auditor *audit.Recorder, opts Options) *Accountant {
	if opts.RolloverMaxAttempts == 0 {
		opts.RolloverMaxAttempts = 4
	}
	return &Accountant{
		ledger:      ledger,
		params:      source,
		opts:        opts,
		auditor:     auditor,
		configCache: expirable.NewLRU[string, Limit](opts.ConfigCacheSize, nil, opts.ConfigCacheTTL),
		now:         time.Now,
		backoff:     50 * time.Millisecond,
	}
}

// Check admits or rejects a request before any upstream work happens.
// The comparison is strict: the request that crosses the limit is
// admitted, and the next one is refused.
func (a *Accountant) Check(ctx context.Context, username, model, endpoint string) error {
	limit, err := a.limitFor(ctx, username)
	if err != nil {
		return err
	}
	window := limit.Frequency.WindowKey(a.now())

	var used decimal.Decimal
	backoff := retry.WithMaxRetries(a.opts.RolloverMaxAttempts-1, retry.NewFibonacci(a.backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var attemptErr error
		used, attemptErr = a.currentUsage(ctx, username, limit.Frequency, window)
		if errors.Is(attemptErr, store.ErrVersionConflict) || errors.Is(attemptErr, store.ErrDuplicate) {
			return retry.RetryableError(attemptErr)
		}
		return attemptErr
	})
	if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("%w: %v", ErrStoreConflict, err)
	}
	if err != nil {
		return err
	}

	if used.GreaterThan(limit.Amount) {
		a.auditor.Record(audit.Entry{
			Username: username,
			Model:    model,
			Endpoint: endpoint,
			Outcome:  audit.OutcomeQuotaDenied,
		})
		return &ExceededError{Frequency: limit.Frequency, Used: used, Limit: limit.Amount}
	}
	return nil
}

// InvalidateConfig drops a user's cached limit so the next check
// re-reads their config row. Called after an admin rewrites it.
func (a *Accountant) InvalidateConfig(username string) {
	a.configCache.Remove(username)
}

// currentUsage returns the spend recorded for the given window,
// creating or rolling the summary row as needed. Conflict errors mean
// another writer won a race and the caller should re-read.
func (a *Accountant) currentUsage(ctx context.Context, username string, freq Frequency, window string) (decimal.Decimal, error) {
	sum, err := a.ledger.GetUsageSummary(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		createErr := a.ledger.CreateUsageSummary(ctx, store.UsageSummary{
			Username:        username,
			Frequency:       string(freq),
			TimePeriod:      window,
			TotalCost:       decimal.Zero,
			LastUpdatedTime: a.now().UTC(),
		})
		if createErr != nil {
			return decimal.Decimal{}, createErr
		}
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Decimal{}, err
	}

	if sum.TimePeriod != window {
		if err := a.ledger.ResetUsageWindow(ctx, username, string(freq), window, sum.LastUpdatedTime, a.now().UTC()); err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.Zero, nil
	}
	return sum.TotalCost, nil
}

// limitFor resolves the user's limit, consulting the config cache, the
// per-user config row, and finally the deployment default.
func (a *Accountant) limitFor(ctx context.Context, username string) (Limit, error) {
	if limit, ok := a.configCache.Get(username); ok {
		return limit, nil
	}

	var limit Limit
	cfg, err := a.ledger.GetQuotaConfig(ctx, username)
	switch {
	case err == nil:
		freq, parseErr := ParseFrequency(cfg.Frequency)
		if parseErr != nil {
			return Limit{}, fmt.Errorf("quota config for %s: %w", username, parseErr)
		}
		limit = Limit{Frequency: freq, Amount: cfg.LimitUSD}
	case errors.Is(err, store.ErrNotFound):
		limit, err = a.defaultLimit(ctx)
		if err != nil {
			return Limit{}, err
		}
	default:
		return Limit{}, err
	}

	a.configCache.Add(username, limit)
	return limit, nil
}

type defaultLimitDoc struct {
	Frequency string          `json:"frequency"`
	LimitUSD  decimal.Decimal `json:"limit_usd"`
}

func (a *Accountant) defaultLimit(ctx context.Context) (Limit, error) {
	raw := a.opts.StaticDefault
	if a.opts.DefaultParameterName != "" {
		var err error
		raw, err = a.params.Get(ctx, a.opts.DefaultParameterName)
		if err != nil {
			return Limit{}, fmt.Errorf("load default quota: %w", err)
		}
	}

	var doc defaultLimitDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Limit{}, fmt.Errorf("parse default quota: %w", err)
	}
	freq, err := ParseFrequency(doc.Frequency)
	if err != nil {
		return Limit{}, fmt.Errorf("default quota: %w", err)
	}
	return Limit{Frequency: freq, Amount: doc.LimitUSD}, nil
}
