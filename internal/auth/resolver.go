package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncecere/llm_gateway/internal/store"
)

// KeyStore is the slice of the durable store the resolver needs.
type KeyStore interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (store.APIKey, error)
}

// Verifier validates bearer tokens and yields the caller's username.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (string, error)
}

// Resolver turns a raw credential into a Principal, consulting the
// decision cache before doing any real work.
type Resolver struct {
	keys     KeyStore
	verifier Verifier
	cache    *DecisionCache
	salt     string
	admins   map[string]struct{}
	now      func() time.Time
}

func NewResolver(keys KeyStore, verifier Verifier, cache *DecisionCache, salt string, adminUsers []string) *Resolver {
	admins := make(map[string]struct{}, len(adminUsers))
	for _, u := range adminUsers {
		admins[u] = struct{}{}
	}
	return &Resolver{
		keys:     keys,
		verifier: verifier,
		cache:    cache,
		salt:     salt,
		admins:   admins,
		now:      time.Now,
	}
}

// Resolve authenticates the credential for an endpoint. Denials and
// grants are both cached; transient store errors are returned uncached
// so the next attempt retries the real lookup.
func (r *Resolver) Resolve(ctx context.Context, credential, endpoint string) (Principal, error) {
	if credential == "" {
		return Principal{}, fmt.Errorf("%w: missing credential", ErrUnauthorized)
	}

	if decision, ok := r.cache.Get(ctx, credential, endpoint); ok {
		if !decision.Authorized {
			return Principal{}, ErrUnauthorized
		}
		return r.principalFor(decision.Username, decision.Kind, decision.APIKeyName), nil
	}

	principal, err := r.resolve(ctx, credential)
	if errors.Is(err, ErrUnauthorized) {
		r.cache.Put(ctx, credential, endpoint, Decision{Authorized: false})
		return Principal{}, err
	}
	if err != nil {
		return Principal{}, err
	}

	r.cache.Put(ctx, credential, endpoint, Decision{
		Authorized: true,
		Username:   principal.Username,
		Kind:       principal.Kind,
		APIKeyName: principal.APIKeyName,
	})
	return principal, nil
}

func (r *Resolver) resolve(ctx context.Context, credential string) (Principal, error) {
	if IsAPIKey(credential) {
		return r.resolveAPIKey(ctx, credential)
	}
	return r.resolveToken(ctx, credential)
}

func (r *Resolver) resolveAPIKey(ctx context.Context, credential string) (Principal, error) {
	key, err := r.keys.GetAPIKeyByHash(ctx, HashAPIKey(r.salt, credential))
	if errors.Is(err, store.ErrNotFound) {
		return Principal{}, fmt.Errorf("%w: unknown api key", ErrUnauthorized)
	}
	if err != nil {
		return Principal{}, err
	}
	if key.ExpiresAt != nil && !key.ExpiresAt.After(r.now()) {
		return Principal{}, fmt.Errorf("%w: api key expired", ErrUnauthorized)
	}
	return r.principalFor(key.Username, CredentialAPIKey, key.Name), nil
}

func (r *Resolver) resolveToken(ctx context.Context, credential string) (Principal, error) {
	if r.verifier == nil {
		return Principal{}, fmt.Errorf("%w: bearer tokens not accepted", ErrUnauthorized)
	}
	username, err := r.verifier.Verify(ctx, credential)
	if err != nil {
		return Principal{}, err
	}
	return r.principalFor(username, CredentialJWT, ""), nil
}

func (r *Resolver) principalFor(username string, kind CredentialKind, keyName string) Principal {
	_, admin := r.admins[username]
	return Principal{
		Username:   username,
		Kind:       kind,
		APIKeyName: keyName,
		IsAdmin:    admin,
	}
}
