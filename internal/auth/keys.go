package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ncecere/llm_gateway/internal/store"
)

// ErrInvalidKeyName rejects key names that cannot be stored or routed.
var ErrInvalidKeyName = fmt.Errorf("invalid api key name")

// KeyManagerStore is the slice of the durable store key management needs.
type KeyManagerStore interface {
	InsertAPIKey(ctx context.Context, key store.APIKey) error
	ListAPIKeys(ctx context.Context, username string) ([]store.APIKey, error)
	DeleteAPIKey(ctx context.Context, username, name string) error
}

// KeyManager creates, lists, and revokes named API keys for a user.
type KeyManager struct {
	store KeyManagerStore
	salt  string
	now   func() time.Time
}

func NewKeyManager(st KeyManagerStore, salt string) *KeyManager {
	return &KeyManager{store: st, salt: salt, now: time.Now}
}

// CreateKey mints a new key for username, stores its salted digest, and
// returns the plaintext. This is the only time the plaintext exists.
func (m *KeyManager) CreateKey(ctx context.Context, username, name string, expiresAt *time.Time) (string, store.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 128 {
		return "", store.APIKey{}, ErrInvalidKeyName
	}

	plaintext, err := GenerateAPIKey()
	if err != nil {
		return "", store.APIKey{}, fmt.Errorf("generate api key: %w", err)
	}

	key := store.APIKey{
		Username:  username,
		Name:      name,
		Hash:      HashAPIKey(m.salt, plaintext),
		CreatedAt: m.now().UTC(),
		ExpiresAt: expiresAt,
	}
	if err := m.store.InsertAPIKey(ctx, key); err != nil {
		return "", store.APIKey{}, err
	}
	return plaintext, key, nil
}

// ListKeys returns the metadata for a user's keys. Digests are for
// internal lookup only and are never returned to callers.
func (m *KeyManager) ListKeys(ctx context.Context, username string) ([]store.APIKey, error) {
	return m.store.ListAPIKeys(ctx, username)
}

// DeleteKey revokes a named key.
func (m *KeyManager) DeleteKey(ctx context.Context, username, name string) error {
	return m.store.DeleteAPIKey(ctx, username, name)
}
