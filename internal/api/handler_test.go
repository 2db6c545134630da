package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tablechat/tablechat/internal/auth"
	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/conversation"
	"github.com/tablechat/tablechat/internal/warehouse"
)

func testConfig(t *testing.T, overrides map[string]string) config.Config {
	t.Helper()
	env := map[string]string{"TABLECHAT_PROFILE": "test"}
	for key, value := range overrides {
		env[key] = value
	}
	cfg, err := config.Load("tablechat-api", func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

type fakeSession struct {
	turn    conversation.Turn
	askErr  error
	history []conversation.Turn
	cleared bool
}

func (f *fakeSession) Ask(_ context.Context, question string) (conversation.Turn, error) {
	if f.askErr != nil {
		return conversation.Turn{}, f.askErr
	}
	turn := f.turn
	turn.Question = question
	return turn, nil
}

func (f *fakeSession) History(context.Context) ([]conversation.Turn, error) {
	return f.history, nil
}

func (f *fakeSession) Clear(context.Context) error {
	f.cleared = true
	return nil
}

type fakeSchemas struct {
	schema warehouse.Schema
	err    error
}

func (f *fakeSchemas) Schema(context.Context, string) (warehouse.Schema, error) {
	if f.err != nil {
		return warehouse.Schema{}, f.err
	}
	return f.schema, nil
}

type fakeRefresher struct {
	invalidated bool
}

func (f *fakeRefresher) Invalidate() { f.invalidated = true }

func TestHealthEndpoint(t *testing.T) {
	handler := NewHandler(testConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["service"] != "tablechat-api" {
		t.Fatalf("service = %v", body["service"])
	}
}

func TestReadyEndpointReportsFailure(t *testing.T) {
	deps := Dependencies{Readiness: func(context.Context) error { return errors.New("warehouse unreachable") }}
	handler := NewHandler(testConfig(t, nil), deps)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRoutesRequireAuthWhenConfigured(t *testing.T) {
	validator, err := auth.NewStaticAPIKeyValidator("k1:analyst")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}
	cfg := testConfig(t, map[string]string{"TABLECHAT_AUTH_REQUIRED": "true"})
	handler := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Session:        &fakeSession{},
	})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/conversation", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/conversation", nil)
	req.Header.Set("X-API-Key", "k1")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", rr.Code)
	}

	// Health stays public.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
}

func TestPromptsEndpoint(t *testing.T) {
	handler := NewHandler(testConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/prompts", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Prompts []promptView `json:"prompts"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Prompts) != 4 {
		t.Fatalf("prompts = %d, want 4", len(body.Prompts))
	}
	if body.Prompts[0].Question != "Give me 5 key findings for the current period." {
		t.Fatalf("first prompt = %q", body.Prompts[0].Question)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	deps := Dependencies{
		Schemas: &fakeSchemas{schema: warehouse.Schema{Columns: []warehouse.Column{
			{Name: "data_date", Type: "DATE"},
			{Name: "clicks", Type: "INTEGER"},
		}}},
		Table: "proj.seo.search_daily",
	}
	handler := NewHandler(testConfig(t, nil), deps)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Table   string             `json:"table"`
		Columns []warehouse.Column `json:"columns"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Table != "proj.seo.search_daily" || len(body.Columns) != 2 {
		t.Fatalf("body = %+v", body)
	}
}

func TestSchemaEndpointMapsSchemaError(t *testing.T) {
	deps := Dependencies{
		Schemas: &fakeSchemas{err: &warehouse.SchemaError{Table: "proj.seo.search_daily", Err: errors.New("not found")}},
		Table:   "proj.seo.search_daily",
	}
	handler := NewHandler(testConfig(t, nil), deps)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestSchemaRefreshInvalidatesCache(t *testing.T) {
	refresher := &fakeRefresher{}
	handler := NewHandler(testConfig(t, nil), Dependencies{SchemaRefresher: refresher})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/schema/refresh", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !refresher.invalidated {
		t.Fatal("cache was not invalidated")
	}
}

func TestCombineReadinessChecksStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("boom")
	combined := CombineReadinessChecks(
		nil,
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
	)
	if err := combined(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestCheckWarehouseConfig(t *testing.T) {
	cfg := testConfig(t, map[string]string{"TABLECHAT_WAREHOUSE_BACKEND": "bigquery"})
	if err := CheckWarehouseConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected readiness failure without bigquery credentials")
	}
	cfg.Warehouse.CredentialsJSON = `{"type":"service_account"}`
	if err := CheckWarehouseConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("readiness err = %v", err)
	}
}
