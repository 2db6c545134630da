package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tablechat/tablechat/internal/conversation"
	"github.com/tablechat/tablechat/internal/insight"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/warehouse"
)

func resolvedTurn() conversation.Turn {
	sample := warehouse.ResultSet{Columns: []string{"clicks"}, Rows: [][]any{{int64(42)}}}
	return conversation.Turn{
		ID:         "turn-1",
		SQL:        "SELECT SUM(clicks) AS clicks FROM `proj.seo.search_daily` LIMIT 1000",
		Sample:     &sample,
		Answer:     "42 clicks in total.",
		Findings:   []insight.Finding{{Title: "Volume", Text: "42 clicks in total."}},
		State:      conversation.StateResolved,
		CreatedAt:  time.Now(),
		ResolvedAt: time.Now(),
	}
}

func postAsk(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestAskReturnsResolvedTurn(t *testing.T) {
	handler := NewHandler(testConfig(t, nil), Dependencies{
		Session: &fakeSession{turn: resolvedTurn()},
		ShowSQL: true,
	})
	rr := postAsk(t, handler, `{"question":"total clicks?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var view turnView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if view.Question != "total clicks?" {
		t.Fatalf("question = %q", view.Question)
	}
	if view.Answer == "" || len(view.Findings) != 1 {
		t.Fatalf("view = %+v", view)
	}
	if view.SQL == "" || view.Sample == nil {
		t.Fatal("sql/sample should be visible when show_sql is on")
	}
}

func TestAskHidesSQLWhenDisabled(t *testing.T) {
	handler := NewHandler(testConfig(t, nil), Dependencies{
		Session: &fakeSession{turn: resolvedTurn()},
		ShowSQL: false,
	})
	rr := postAsk(t, handler, `{"question":"total clicks?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var view turnView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if view.SQL != "" || view.Sample != nil {
		t.Fatalf("sql/sample leaked: %+v", view)
	}
	if view.Answer == "" {
		t.Fatal("answer should survive redaction")
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	handler := NewHandler(testConfig(t, nil), Dependencies{
		Session: &fakeSession{askErr: pipeline.ErrEmptyQuestion},
	})
	rr := postAsk(t, handler, `{"question":"  "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAskConflictsWhileTurnInFlight(t *testing.T) {
	handler := NewHandler(testConfig(t, nil), Dependencies{
		Session: &fakeSession{askErr: pipeline.ErrTurnInFlight},
	})
	rr := postAsk(t, handler, `{"question":"another one"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error_code"] != "TURN_IN_FLIGHT" {
		t.Fatalf("error_code = %v", body["error_code"])
	}
}

func TestAskRejectsMalformedBody(t *testing.T) {
	handler := NewHandler(testConfig(t, nil), Dependencies{Session: &fakeSession{}})
	rr := postAsk(t, handler, `{"question": 7}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestConversationListAndClear(t *testing.T) {
	session := &fakeSession{history: []conversation.Turn{resolvedTurn()}}
	handler := NewHandler(testConfig(t, nil), Dependencies{Session: session})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/conversation", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var body struct {
		Turns []turnView `json:"turns"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Turns) != 1 {
		t.Fatalf("turns = %d", len(body.Turns))
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/conversation", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rr.Code)
	}
	if !session.cleared {
		t.Fatal("clear was not delegated to the session")
	}
}

func TestAskWithoutSessionIsNotImplemented(t *testing.T) {
	handler := NewHandler(testConfig(t, nil), Dependencies{})
	rr := postAsk(t, handler, `{"question":"hi"}`)
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}
