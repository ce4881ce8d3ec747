// Package modelaccess decides which models a caller may invoke.
package modelaccess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ncecere/llm_gateway/internal/audit"
	"github.com/ncecere/llm_gateway/internal/params"
	"github.com/ncecere/llm_gateway/internal/store"
)

// ErrForbidden indicates the caller is authenticated but may not use
// the requested model.
var ErrForbidden = errors.New("modelaccess: forbidden")

// AccessStore is the slice of the durable store the authorizer needs.
type AccessStore interface {
	GetAllowedModels(ctx context.Context, username string) ([]string, error)
}

// Options sizes the authorizer's caches.
type Options struct {
	DefaultParameterName string
	StaticDefault        string
	CacheTTL             time.Duration
	CacheSize            int
}

// Authorizer resolves and enforces per-user model lists. User lists and
// the deployment default are cached with a bounded TTL cache so a hot
// gateway does not ask the store on every request.
type Authorizer struct {
	store        AccessStore
	params       params.Source
	opts         Options
	auditor      *audit.Recorder
	userCache    *expirable.LRU[string, []string]
	defaultCache *expirable.LRU[string, []string]
}

func NewAuthorizer(accessStore AccessStore, source params.Source, auditor *audit.Recorder, opts Options) *Authorizer {
	return &Authorizer{
		store:        accessStore,
		params:       source,
		opts:         opts,
		auditor:      auditor,
		userCache:    expirable.NewLRU[string, []string](opts.CacheSize, nil, opts.CacheTTL),
		defaultCache: expirable.NewLRU[string, []string](1, nil, opts.CacheTTL),
	}
}

// AllowedModels returns the models a user may invoke. Users without an
// explicit row get the deployment default.
func (a *Authorizer) AllowedModels(ctx context.Context, username string) ([]string, error) {
	if models, ok := a.userCache.Get(username); ok {
		return models, nil
	}

	models, err := a.store.GetAllowedModels(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		models, err = a.defaultModels(ctx)
	}
	if err != nil {
		return nil, err
	}

	a.userCache.Add(username, models)
	return models, nil
}

// Invalidate drops a user's cached list so the next lookup re-reads
// the store. Called after an admin rewrites the user's entitlements.
func (a *Authorizer) Invalidate(username string) {
	a.userCache.Remove(username)
}

// Enforce rejects callers not entitled to the model. Denials emit an
// audit record.
func (a *Authorizer) Enforce(ctx context.Context, username, model, endpoint string) error {
	models, err := a.AllowedModels(ctx, username)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m == model {
			return nil
		}
	}
	a.auditor.Record(audit.Entry{
		Username: username,
		Model:    model,
		Endpoint: endpoint,
		Outcome:  audit.OutcomeModelDenied,
	})
	return fmt.Errorf("%w: model %s", ErrForbidden, model)
}

const defaultCacheKey = "default"

func (a *Authorizer) defaultModels(ctx context.Context) ([]string, error) {
	if models, ok := a.defaultCache.Get(defaultCacheKey); ok {
		return models, nil
	}

	raw := a.opts.StaticDefault
	if a.opts.DefaultParameterName != "" {
		var err error
		raw, err = a.params.Get(ctx, a.opts.DefaultParameterName)
		if err != nil {
			return nil, fmt.Errorf("load default model access: %w", err)
		}
	}

	var models []string
	if err := json.Unmarshal([]byte(raw), &models); err != nil {
		return nil, fmt.Errorf("parse default model access: %w", err)
	}

	a.defaultCache.Add(defaultCacheKey, models)
	return models, nil
}
