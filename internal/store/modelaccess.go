package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetAllowedModels returns the explicit per-user model list. Users
// without a row get ErrNotFound so the caller can apply the default.
func (s *Store) GetAllowedModels(ctx context.Context, username string) ([]string, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT allowed_models FROM model_access WHERE username = $1`, username)

	var models []string
	err := row.Scan(&models)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get allowed models: %w", err)
	}
	return models, nil
}

// UpsertModelAccess creates or replaces a user's explicit model list.
func (s *Store) UpsertModelAccess(ctx context.Context, username string, models []string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO model_access (username, allowed_models)
		 VALUES ($1, $2)
		 ON CONFLICT (username) DO UPDATE SET allowed_models = EXCLUDED.allowed_models`,
		username, models)
	if err != nil {
		return fmt.Errorf("upsert model access: %w", err)
	}
	return nil
}

// DeleteModelAccess removes a user's explicit list so the default
// applies again. Deleting an absent row returns ErrNotFound.
func (s *Store) DeleteModelAccess(ctx context.Context, username string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM model_access WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("delete model access: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
