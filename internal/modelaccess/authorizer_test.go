package modelaccess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ncecere/llm_gateway/internal/params"
	"github.com/ncecere/llm_gateway/internal/store"
)

type fakeAccessStore struct {
	lists map[string][]string
	calls int
}

func (f *fakeAccessStore) GetAllowedModels(_ context.Context, username string) ([]string, error) {
	f.calls++
	list, ok := f.lists[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return list, nil
}

func newTestAuthorizer(accessStore AccessStore, defaults string) *Authorizer {
	return NewAuthorizer(accessStore, params.Static{"default-access": defaults}, nil, Options{
		DefaultParameterName: "default-access",
		CacheTTL:             time.Minute,
		CacheSize:            16,
	})
}

func TestAllowedModelsExplicitList(t *testing.T) {
	accessStore := &fakeAccessStore{lists: map[string][]string{
		"alice": {"claude-3-sonnet"},
	}}
	authorizer := newTestAuthorizer(accessStore, `["titan-embed"]`)

	models, err := authorizer.AllowedModels(context.Background(), "alice")
	if err != nil {
		t.Fatalf("allowed models: %v", err)
	}
	if len(models) != 1 || models[0] != "claude-3-sonnet" {
		t.Fatalf("unexpected models %v", models)
	}
}

func TestAllowedModelsFallsBackToDefault(t *testing.T) {
	authorizer := newTestAuthorizer(&fakeAccessStore{}, `["titan-embed","claude-3-haiku"]`)

	models, err := authorizer.AllowedModels(context.Background(), "bob")
	if err != nil {
		t.Fatalf("allowed models: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected default list, got %v", models)
	}
}

func TestAllowedModelsCached(t *testing.T) {
	accessStore := &fakeAccessStore{lists: map[string][]string{
		"alice": {"claude-3-sonnet"},
	}}
	authorizer := newTestAuthorizer(accessStore, `[]`)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := authorizer.AllowedModels(ctx, "alice"); err != nil {
			t.Fatalf("allowed models %d: %v", i, err)
		}
	}
	if accessStore.calls != 1 {
		t.Fatalf("expected 1 store lookup, got %d", accessStore.calls)
	}
}

func TestEnforceDeniesUnlistedModel(t *testing.T) {
	accessStore := &fakeAccessStore{lists: map[string][]string{
		"alice": {"claude-3-sonnet"},
	}}
	authorizer := newTestAuthorizer(accessStore, `[]`)

	err := authorizer.Enforce(context.Background(), "alice", "gpt-4o", "/v1/chat/completions")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if err := authorizer.Enforce(context.Background(), "alice", "claude-3-sonnet", "/v1/chat/completions"); err != nil {
		t.Fatalf("expected listed model to pass: %v", err)
	}
}

func TestDefaultModelsMalformedJSON(t *testing.T) {
	authorizer := newTestAuthorizer(&fakeAccessStore{}, `not-json`)

	if _, err := authorizer.AllowedModels(context.Background(), "bob"); err == nil {
		t.Fatal("expected error for malformed default list")
	}
}
