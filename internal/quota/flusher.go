package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Flusher periodically drains the delta table into the durable ledger.
// The durable write is an atomic increment that leaves the summary's
// version untouched, so flushes never race window rollovers.
type Flusher struct {
	deltas     *DeltaTable
	accountant *Accountant
	ledger     Ledger
	interval   time.Duration
	logger     *slog.Logger
	// observe, when set, receives the duration of each full sweep.
	observe func(time.Duration)
}

func NewFlusher(deltas *DeltaTable, accountant *Accountant, ledger Ledger, interval time.Duration, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{
		deltas:     deltas,
		accountant: accountant,
		ledger:     ledger,
		interval:   interval,
		logger:     logger,
	}
}

// SetObserver installs a sweep-duration callback, used for metrics.
func (f *Flusher) SetObserver(observe func(time.Duration)) {
	f.observe = observe
}

// Run flushes on a ticker until the context is canceled, then performs
// one final sweep so a clean shutdown leaves nothing behind.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			f.FlushAll(shutdownCtx)
			cancel()
			return
		case <-ticker.C:
			f.FlushAll(ctx)
		}
	}
}

// FlushAll sweeps every known user. A failure for one user is logged
// and leaves that user's delta intact for the next sweep.
func (f *Flusher) FlushAll(ctx context.Context) {
	start := time.Now()
	for _, username := range f.deltas.Usernames() {
		if err := f.FlushUser(ctx, username); err != nil {
			f.logger.Warn("usage flush failed", "username", username, "error", err)
		}
	}
	if f.observe != nil {
		f.observe(time.Since(start))
	}
}

// FlushUser persists one user's pending delta. Zero deltas are a no-op
// and touch nothing durable.
func (f *Flusher) FlushUser(ctx context.Context, username string) error {
	limit, err := f.accountant.limitFor(ctx, username)
	if err != nil {
		return err
	}
	window := limit.Frequency.WindowKey(time.Now())

	return f.deltas.flush(username, func(pending decimal.Decimal) error {
		return f.ledger.AddUsage(ctx, username, string(limit.Frequency), window, pending)
	})
}
