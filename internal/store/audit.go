package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RequestAudit is one append-only record of an admission outcome.
type RequestAudit struct {
	ID       uuid.UUID
	Username string
	// APIKeyName is empty for token-authenticated requests.
	APIKeyName    string
	Model         string
	Endpoint      string
	Outcome       string
	InputTokens   int64
	OutputTokens  int64
	EstimatedCost decimal.Decimal
	CreatedAt     time.Time
}

func (s *Store) InsertRequestAudit(ctx context.Context, rec RequestAudit) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO request_audit (id, username, api_key_name, model, endpoint, outcome, input_tokens, output_tokens, estimated_cost, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Username, rec.APIKeyName, rec.Model, rec.Endpoint, rec.Outcome,
		rec.InputTokens, rec.OutputTokens, rec.EstimatedCost, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert request audit: %w", err)
	}
	return nil
}
