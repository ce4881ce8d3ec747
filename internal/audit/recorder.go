// Package audit emits append-only request records. Emission never
// blocks or fails the request being recorded.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ncecere/llm_gateway/internal/store"
)

// Outcomes recorded by the admission pipeline.
const (
	OutcomeCompleted    = "completed"
	OutcomeQuotaDenied  = "quota_exceeded"
	OutcomeModelDenied  = "model_access_denied"
	OutcomeUnauthorized = "unauthorized"
)

// Entry is one request outcome to record.
type Entry struct {
	Username string
	// APIKeyName names the key that authenticated the request, when one did.
	APIKeyName    string
	Model         string
	Endpoint      string
	Outcome       string
	InputTokens   int64
	OutputTokens  int64
	EstimatedCost decimal.Decimal
}

// Sink is where records land durably.
type Sink interface {
	InsertRequestAudit(ctx context.Context, rec store.RequestAudit) error
}

// Recorder writes entries asynchronously. A nil Recorder is safe to
// call and drops everything, which keeps tests and partial wiring
// simple.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration
}

func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger, timeout: 10 * time.Second}
}

// Record persists the entry in the background. The caller's context is
// not reused: the request may already be finished by the time the
// insert runs.
func (r *Recorder) Record(entry Entry) {
	if r == nil || r.sink == nil {
		return
	}
	rec := store.RequestAudit{
		ID:            uuid.New(),
		Username:      entry.Username,
		APIKeyName:    entry.APIKeyName,
		Model:         entry.Model,
		Endpoint:      entry.Endpoint,
		Outcome:       entry.Outcome,
		InputTokens:   entry.InputTokens,
		OutputTokens:  entry.OutputTokens,
		EstimatedCost: entry.EstimatedCost,
		CreatedAt:     time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.sink.InsertRequestAudit(ctx, rec); err != nil {
			r.logger.Warn("audit record dropped",
				"username", rec.Username,
				"outcome", rec.Outcome,
				"error", err)
		}
	}()
}
