package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const decisionKeyPrefix = "authz:"

// Decision is a cached resolution outcome. Denials are cached alongside
// grants so a bad credential does not hammer the verifier.
type Decision struct {
	Authorized bool           `json:"authorized"`
	Username   string         `json:"username,omitempty"`
	Kind       CredentialKind `json:"kind,omitempty"`
	APIKeyName string         `json:"api_key_name,omitempty"`
}

// DecisionCache stores resolution outcomes in Redis under a digest of
// the credential and endpoint. Redis trouble is treated as a miss so
// the gateway keeps admitting traffic when the cache is down.
type DecisionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewDecisionCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *DecisionCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &DecisionCache{client: client, ttl: ttl, logger: logger}
}

func decisionKey(credential, endpoint string) string {
	sum := sha256.Sum256([]byte(credential + "\x00" + endpoint))
	return decisionKeyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached decision, if any.
func (c *DecisionCache) Get(ctx context.Context, credential, endpoint string) (Decision, bool) {
	if c == nil || c.client == nil {
		return Decision{}, false
	}
	raw, err := c.client.Get(ctx, decisionKey(credential, endpoint)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("decision cache read failed", "error", err)
		}
		return Decision{}, false
	}
	var decision Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		c.logger.Warn("decision cache entry malformed", "error", err)
		return Decision{}, false
	}
	return decision, true
}

// Put stores a decision for the configured TTL. Failures are logged and
// otherwise ignored.
func (c *DecisionCache) Put(ctx context.Context, credential, endpoint string, decision Decision) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(decision)
	if err != nil {
		c.logger.Warn("decision cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, decisionKey(credential, endpoint), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("decision cache write failed", "error", err)
	}
}
