package public

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/ncecere/llm_gateway/internal/app"
	"github.com/ncecere/llm_gateway/internal/audit"
	"github.com/ncecere/llm_gateway/internal/auth"
	"github.com/ncecere/llm_gateway/internal/config"
	"github.com/ncecere/llm_gateway/internal/modelaccess"
	"github.com/ncecere/llm_gateway/internal/models"
	"github.com/ncecere/llm_gateway/internal/params"
	"github.com/ncecere/llm_gateway/internal/pricing"
	"github.com/ncecere/llm_gateway/internal/quota"
	"github.com/ncecere/llm_gateway/internal/store"
)

const testCostTable = `model_name,region,type,cost_per_token
gpt-test,,input,0.003
gpt-test,,output,0.015
embed-test,,input,0.0001
`

type fakeKeyStore struct {
	keys map[string]store.APIKey
}

func (f *fakeKeyStore) GetAPIKeyByHash(_ context.Context, hash string) (store.APIKey, error) {
	if key, ok := f.keys[hash]; ok {
		return key, nil
	}
	return store.APIKey{}, store.ErrNotFound
}

type fakeAccessStore struct {
	allowed map[string][]string
}

func (f *fakeAccessStore) GetAllowedModels(_ context.Context, username string) ([]string, error) {
	if models, ok := f.allowed[username]; ok {
		return models, nil
	}
	return nil, store.ErrNotFound
}

type fakeLedger struct {
	configs   map[string]store.QuotaConfig
	summaries map[string]store.UsageSummary
	added     map[string]decimal.Decimal
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		configs:   make(map[string]store.QuotaConfig),
		summaries: make(map[string]store.UsageSummary),
		added:     make(map[string]decimal.Decimal),
	}
}

func (f *fakeLedger) GetQuotaConfig(_ context.Context, username string) (store.QuotaConfig, error) {
	if cfg, ok := f.configs[username]; ok {
		return cfg, nil
	}
	return store.QuotaConfig{}, store.ErrNotFound
}

func (f *fakeLedger) GetUsageSummary(_ context.Context, username string) (store.UsageSummary, error) {
	if sum, ok := f.summaries[username]; ok {
		return sum, nil
	}
	return store.UsageSummary{}, store.ErrNotFound
}

func (f *fakeLedger) CreateUsageSummary(_ context.Context, sum store.UsageSummary) error {
	if _, ok := f.summaries[sum.Username]; ok {
		return store.ErrDuplicate
	}
	f.summaries[sum.Username] = sum
	return nil
}

func (f *fakeLedger) ResetUsageWindow(_ context.Context, username, frequency, timePeriod string, expectedVersion, newVersion time.Time) error {
	sum, ok := f.summaries[username]
	if !ok || !sum.LastUpdatedTime.Equal(expectedVersion) {
		return store.ErrVersionConflict
	}
	sum.Frequency = frequency
	sum.TimePeriod = timePeriod
	sum.TotalCost = decimal.Zero
	sum.LastUpdatedTime = newVersion
	f.summaries[username] = sum
	return nil
}

func (f *fakeLedger) AddUsage(_ context.Context, username, frequency, timePeriod string, cost decimal.Decimal) error {
	f.added[username] = f.added[username].Add(cost)
	return nil
}

type captureSink struct {
	mu   sync.Mutex
	recs []store.RequestAudit
	done chan struct{}
}

func (s *captureSink) InsertRequestAudit(_ context.Context, rec store.RequestAudit) error {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	select {
	case s.done <- struct{}{}:
	default:
	}
	return nil
}

func (s *captureSink) wait(t *testing.T) store.RequestAudit {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("audit record was never written")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[len(s.recs)-1]
}

type fakeInvoker struct {
	chatResp  models.ChatResponse
	embedResp models.EmbeddingsResponse
	err       error
}

func (f *fakeInvoker) Chat(_ context.Context, _ models.ChatRequest) (models.ChatResponse, error) {
	return f.chatResp, f.err
}

func (f *fakeInvoker) Embeddings(_ context.Context, _ models.EmbeddingsRequest) (models.EmbeddingsResponse, error) {
	return f.embedResp, f.err
}

type testEnv struct {
	app    *fiber.App
	ledger *fakeLedger
	deltas *quota.DeltaTable
	sink   *captureSink
	apiKey string
}

func newTestEnv(t *testing.T, invoker *fakeInvoker) *testEnv {
	t.Helper()

	const salt = "pepper"
	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keys := &fakeKeyStore{keys: map[string]store.APIKey{
		auth.HashAPIKey(salt, apiKey): {Username: "alice", Name: "laptop", Hash: auth.HashAPIKey(salt, apiKey)},
	}}

	authorizer := modelaccess.NewAuthorizer(
		&fakeAccessStore{allowed: map[string][]string{"alice": {"gpt-test", "embed-test"}}},
		params.Static{}, nil, modelaccess.Options{
			StaticDefault: `[]`,
			CacheTTL:      time.Minute,
			CacheSize:     16,
		})

	ledger := newFakeLedger()
	accountant := quota.NewAccountant(ledger, params.Static{}, nil, quota.Options{
		StaticDefault:   `{"frequency":"weekly","limit_usd":"10"}`,
		ConfigCacheTTL:  time.Minute,
		ConfigCacheSize: 16,
	})

	table, err := pricing.ParseTable(strings.NewReader(testCostTable))
	if err != nil {
		t.Fatalf("parse cost table: %v", err)
	}

	deltas := quota.NewDeltaTable()
	sink := &captureSink{done: make(chan struct{}, 1)}
	container := &app.Container{
		Config:      &config.Config{Pricing: config.PricingConfig{Region: "us-east-1"}},
		Logger:      slog.Default(),
		Resolver:    auth.NewResolver(keys, nil, nil, salt, nil),
		ModelAccess: authorizer,
		Accountant:  accountant,
		Deltas:      deltas,
		Pricing:     table,
		Upstream:    invoker,
		Audit:       audit.NewRecorder(sink, nil),
	}

	fiberApp := fiber.New()
	Register(fiberApp, container)
	return &testEnv{app: fiberApp, ledger: ledger, deltas: deltas, sink: sink, apiKey: apiKey}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func chatBody(model string) fiber.Map {
	return fiber.Map{
		"model":    model,
		"messages": []fiber.Map{{"role": "user", "content": "Hello there"}},
	}
}

func TestChatCompletionAdmitsAndAccumulatesSpend(t *testing.T) {
	invoker := &fakeInvoker{chatResp: models.ChatResponse{
		ID:      "chatcmpl-1",
		Object:  "chat.completion",
		Model:   "gpt-test",
		Choices: []models.ChatChoice{{Message: models.ChatMessage{Role: "assistant", Content: "Hi"}}},
		Usage:   models.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}}
	env := newTestEnv(t, invoker)

	resp := env.do(t, fiber.MethodPost, "/v1/chat/completions", env.apiKey, chatBody("gpt-test"))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body models.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.ID != "chatcmpl-1" {
		t.Fatalf("upstream response not passed through: %+v", body)
	}

	// 100 input tokens at 0.003/1k plus 50 output at 0.015/1k.
	want := decimal.RequireFromString("0.00105")
	if got := env.deltas.Pending("alice"); !got.Equal(want) {
		t.Fatalf("pending delta = %s, want %s", got, want)
	}

	rec := env.sink.wait(t)
	if rec.Username != "alice" || rec.APIKeyName != "laptop" {
		t.Fatalf("audit record missing caller identity: %+v", rec)
	}
	if rec.Outcome != audit.OutcomeCompleted || !rec.EstimatedCost.Equal(want) {
		t.Fatalf("unexpected audit record: %+v", rec)
	}
}

func TestChatCompletionEstimatesWhenUpstreamOmitsUsage(t *testing.T) {
	invoker := &fakeInvoker{chatResp: models.ChatResponse{
		Model:   "gpt-test",
		Choices: []models.ChatChoice{{Message: models.ChatMessage{Role: "assistant", Content: "General Kenobi"}}},
	}}
	env := newTestEnv(t, invoker)

	resp := env.do(t, fiber.MethodPost, "/v1/chat/completions", env.apiKey, chatBody("gpt-test"))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if env.deltas.Pending("alice").IsZero() {
		t.Fatal("expected an estimated nonzero spend")
	}
}

func TestChatCompletionDeniedModel(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})

	resp := env.do(t, fiber.MethodPost, "/v1/chat/completions", env.apiKey, chatBody("gpt-forbidden"))
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if !env.deltas.Pending("alice").IsZero() {
		t.Fatal("denied request must not accumulate spend")
	}
}

func TestChatCompletionOverQuota(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})
	env.ledger.summaries["alice"] = store.UsageSummary{
		Username:        "alice",
		Frequency:       "weekly",
		TimePeriod:      quota.FrequencyWeekly.WindowKey(time.Now()),
		TotalCost:       decimal.RequireFromString("10.01"),
		LastUpdatedTime: time.Now().UTC(),
	}

	resp := env.do(t, fiber.MethodPost, "/v1/chat/completions", env.apiKey, chatBody("gpt-test"))
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
}

func TestChatCompletionAtLimitStillAdmitted(t *testing.T) {
	invoker := &fakeInvoker{chatResp: models.ChatResponse{
		Model:   "gpt-test",
		Choices: []models.ChatChoice{{Message: models.ChatMessage{Role: "assistant", Content: "ok"}}},
		Usage:   models.Usage{PromptTokens: 1, CompletionTokens: 1},
	}}
	env := newTestEnv(t, invoker)
	env.ledger.summaries["alice"] = store.UsageSummary{
		Username:        "alice",
		Frequency:       "weekly",
		TimePeriod:      quota.FrequencyWeekly.WindowKey(time.Now()),
		TotalCost:       decimal.RequireFromString("10"),
		LastUpdatedTime: time.Now().UTC(),
	}

	resp := env.do(t, fiber.MethodPost, "/v1/chat/completions", env.apiKey, chatBody("gpt-test"))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestChatCompletionRejectsUnknownCredential(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})

	resp := env.do(t, fiber.MethodPost, "/v1/chat/completions", "sk-notreal", chatBody("gpt-test"))
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp = env.do(t, fiber.MethodPost, "/v1/chat/completions", "", chatBody("gpt-test"))
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("missing credential status = %d, want 401", resp.StatusCode)
	}
}

func TestChatCompletionValidatesBody(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})

	resp := env.do(t, fiber.MethodPost, "/v1/chat/completions", env.apiKey, fiber.Map{"model": "gpt-test"})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatCompletionUpstreamFailure(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{err: context.DeadlineExceeded})

	resp := env.do(t, fiber.MethodPost, "/v1/chat/completions", env.apiKey, chatBody("gpt-test"))
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
	if !env.deltas.Pending("alice").IsZero() {
		t.Fatal("failed request must not accumulate spend")
	}
}

func TestEmbeddingsPricedOnInputOnly(t *testing.T) {
	invoker := &fakeInvoker{embedResp: models.EmbeddingsResponse{
		Object: "list",
		Model:  "embed-test",
		Data:   []models.Embedding{{Index: 0, Vector: []float32{0.1, 0.2}}},
		Usage:  models.Usage{PromptTokens: 1000},
	}}
	env := newTestEnv(t, invoker)

	resp := env.do(t, fiber.MethodPost, "/v1/embeddings", env.apiKey, fiber.Map{
		"model": "embed-test",
		"input": []string{"some text"},
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	want := decimal.RequireFromString("0.0001")
	if got := env.deltas.Pending("alice"); !got.Equal(want) {
		t.Fatalf("pending delta = %s, want %s", got, want)
	}
}

func TestListModelsReturnsEntitlements(t *testing.T) {
	env := newTestEnv(t, &fakeInvoker{})

	resp := env.do(t, fiber.MethodGet, "/v1/models", env.apiKey, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var list models.ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode model list: %v", err)
	}
	if len(list.Data) != 2 || list.Data[0].ID != "gpt-test" {
		t.Fatalf("unexpected model list: %+v", list)
	}
}
