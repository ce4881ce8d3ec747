package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ncecere/llm_gateway/internal/store"
)

const testSalt = "pepper"

type fakeKeyStore struct {
	keys  map[string]store.APIKey
	calls int
}

func (f *fakeKeyStore) GetAPIKeyByHash(_ context.Context, hash string) (store.APIKey, error) {
	f.calls++
	key, ok := f.keys[hash]
	if !ok {
		return store.APIKey{}, store.ErrNotFound
	}
	return key, nil
}

type fakeVerifier struct {
	username string
	err      error
	calls    int
}

func (f *fakeVerifier) Verify(context.Context, string) (string, error) {
	f.calls++
	return f.username, f.err
}

func newTestResolver(t *testing.T, keys *fakeKeyStore, verifier Verifier, admins []string) (*Resolver, *miniredis.Miniredis, func()) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	cache := NewDecisionCache(client, 20*time.Minute, nil)
	resolver := NewResolver(keys, verifier, cache, testSalt, admins)
	cleanup := func() {
		client.Close()
		server.Close()
	}
	return resolver, server, cleanup
}

func storedKey(username, name, plaintext string, expires *time.Time) map[string]store.APIKey {
	return map[string]store.APIKey{
		HashAPIKey(testSalt, plaintext): {
			Username:  username,
			Name:      name,
			Hash:      HashAPIKey(testSalt, plaintext),
			CreatedAt: time.Now(),
			ExpiresAt: expires,
		},
	}
}

func TestResolveAPIKey(t *testing.T) {
	keys := &fakeKeyStore{keys: storedKey("alice", "laptop", "sk-valid", nil)}
	resolver, _, cleanup := newTestResolver(t, keys, nil, []string{"root"})
	defer cleanup()

	principal, err := resolver.Resolve(context.Background(), "sk-valid", "/v1/chat/completions")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if principal.Username != "alice" || principal.Kind != CredentialAPIKey || principal.APIKeyName != "laptop" {
		t.Fatalf("unexpected principal %+v", principal)
	}
	if principal.IsAdmin {
		t.Fatal("alice should not be admin")
	}
}

func TestResolveUnknownAPIKey(t *testing.T) {
	keys := &fakeKeyStore{keys: map[string]store.APIKey{}}
	resolver, _, cleanup := newTestResolver(t, keys, nil, nil)
	defer cleanup()

	if _, err := resolver.Resolve(context.Background(), "sk-bogus", "/v1/chat/completions"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestResolveExpiredAPIKey(t *testing.T) {
	expired := time.Now().Add(-time.Hour)
	keys := &fakeKeyStore{keys: storedKey("alice", "old", "sk-old", &expired)}
	resolver, _, cleanup := newTestResolver(t, keys, nil, nil)
	defer cleanup()

	if _, err := resolver.Resolve(context.Background(), "sk-old", "/v1/chat/completions"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for expired key, got %v", err)
	}
}

func TestResolveCachesGrant(t *testing.T) {
	keys := &fakeKeyStore{keys: storedKey("alice", "laptop", "sk-valid", nil)}
	resolver, _, cleanup := newTestResolver(t, keys, nil, nil)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := resolver.Resolve(ctx, "sk-valid", "/v1/chat/completions"); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	if keys.calls != 1 {
		t.Fatalf("expected 1 store lookup, got %d", keys.calls)
	}
}

func TestResolveCachesDenial(t *testing.T) {
	verifier := &fakeVerifier{err: fmt.Errorf("%w: bad signature", ErrUnauthorized)}
	resolver, _, cleanup := newTestResolver(t, &fakeKeyStore{}, verifier, nil)
	defer cleanup()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := resolver.Resolve(ctx, "not-a-key", "/v1/chat/completions"); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("resolve %d: expected ErrUnauthorized, got %v", i, err)
		}
	}
	if verifier.calls != 1 {
		t.Fatalf("expected 1 verifier call, got %d", verifier.calls)
	}
}

func TestResolveCacheExpiry(t *testing.T) {
	keys := &fakeKeyStore{keys: storedKey("alice", "laptop", "sk-valid", nil)}
	resolver, server, cleanup := newTestResolver(t, keys, nil, nil)
	defer cleanup()

	ctx := context.Background()
	if _, err := resolver.Resolve(ctx, "sk-valid", "/v1/chat/completions"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	server.FastForward(21 * time.Minute)

	if _, err := resolver.Resolve(ctx, "sk-valid", "/v1/chat/completions"); err != nil {
		t.Fatalf("resolve after expiry: %v", err)
	}
	if keys.calls != 2 {
		t.Fatalf("expected re-resolution after ttl, got %d store lookups", keys.calls)
	}
}

func TestResolveCacheScopedToEndpoint(t *testing.T) {
	keys := &fakeKeyStore{keys: storedKey("alice", "laptop", "sk-valid", nil)}
	resolver, _, cleanup := newTestResolver(t, keys, nil, nil)
	defer cleanup()

	ctx := context.Background()
	if _, err := resolver.Resolve(ctx, "sk-valid", "/v1/chat/completions"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := resolver.Resolve(ctx, "sk-valid", "/v1/embeddings"); err != nil {
		t.Fatalf("resolve other endpoint: %v", err)
	}
	if keys.calls != 2 {
		t.Fatalf("expected separate cache entries per endpoint, got %d lookups", keys.calls)
	}
}

func TestResolveRedisDownFallsThrough(t *testing.T) {
	keys := &fakeKeyStore{keys: storedKey("alice", "laptop", "sk-valid", nil)}
	resolver, server, cleanup := newTestResolver(t, keys, nil, nil)
	defer cleanup()

	server.Close()

	principal, err := resolver.Resolve(context.Background(), "sk-valid", "/v1/chat/completions")
	if err != nil {
		t.Fatalf("resolve with redis down: %v", err)
	}
	if principal.Username != "alice" {
		t.Fatalf("unexpected principal %+v", principal)
	}
}

func TestResolveJWTAdmin(t *testing.T) {
	verifier := &fakeVerifier{username: "root"}
	resolver, _, cleanup := newTestResolver(t, &fakeKeyStore{}, verifier, []string{"root"})
	defer cleanup()

	principal, err := resolver.Resolve(context.Background(), "some.jwt.token", "/v1/models")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if principal.Kind != CredentialJWT || !principal.IsAdmin {
		t.Fatalf("unexpected principal %+v", principal)
	}
}
