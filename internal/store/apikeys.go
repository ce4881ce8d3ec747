package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// APIKey is the stored metadata for one named key. The plaintext key is
// never persisted; only its salted digest is.
type APIKey struct {
	Username  string
	Name      string
	Hash      string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// InsertAPIKey stores a new key. A second key with the same (username,
// name) or the same digest returns ErrDuplicate.
func (s *Store) InsertAPIKey(ctx context.Context, key APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (username, api_key_name, api_key_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		key.Username, key.Name, key.Hash, key.CreatedAt, key.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash resolves a key by its salted digest.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (APIKey, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT username, api_key_name, api_key_hash, created_at, expires_at
		 FROM api_keys WHERE api_key_hash = $1`, hash)

	var key APIKey
	err := row.Scan(&key.Username, &key.Name, &key.Hash, &key.CreatedAt, &key.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, ErrNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("get api key by hash: %w", err)
	}
	return key, nil
}

// ListAPIKeys returns the key metadata owned by a user, newest first.
func (s *Store) ListAPIKeys(ctx context.Context, username string) ([]APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username, api_key_name, api_key_hash, created_at, expires_at
		 FROM api_keys WHERE username = $1 ORDER BY created_at DESC`, username)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var key APIKey
		if err := rows.Scan(&key.Username, &key.Name, &key.Hash, &key.CreatedAt, &key.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteAPIKey removes a named key. Deleting an absent key returns
// ErrNotFound.
func (s *Store) DeleteAPIKey(ctx context.Context, username, name string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM api_keys WHERE username = $1 AND api_key_name = $2`, username, name)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
