package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tablechat/tablechat/internal/conversation"
	"github.com/tablechat/tablechat/internal/insight"
	"github.com/tablechat/tablechat/internal/pipeline"
	"github.com/tablechat/tablechat/internal/warehouse"
)

type askRequest struct {
	Question string `json:"question"`
}

type turnView struct {
	ID         string               `json:"id"`
	Question   string               `json:"question"`
	State      conversation.State   `json:"state"`
	Answer     string               `json:"answer,omitempty"`
	Findings   []insight.Finding    `json:"findings,omitempty"`
	SQL        string               `json:"sql,omitempty"`
	Sample     *warehouse.ResultSet `json:"sample,omitempty"`
	Fault      string               `json:"fault,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
	ResolvedAt time.Time            `json:"resolved_at,omitzero"`
}

func viewOf(turn conversation.Turn, showSQL bool) turnView {
	view := turnView{
		ID:         turn.ID,
		Question:   turn.Question,
		State:      turn.State,
		Answer:     turn.Answer,
		Findings:   turn.Findings,
		Fault:      turn.Fault,
		CreatedAt:  turn.CreatedAt,
		ResolvedAt: turn.ResolvedAt,
	}
	if showSQL {
		view.SQL = turn.SQL
		view.Sample = turn.Sample
	}
	return view
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Session == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "conversation dependencies are not configured", false, nil)
		return
	}

	var request askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}

	turn, err := deps.Session.Ask(r.Context(), request.Question)
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	case errors.Is(err, pipeline.ErrTurnInFlight):
		writeError(r.Context(), w, http.StatusConflict, "TURN_IN_FLIGHT", "a previous question is still being answered", true, nil)
		return
	case err != nil:
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to persist the turn", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, viewOf(turn, deps.ShowSQL))
}

func handleConversationList(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Session == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "conversation dependencies are not configured", false, nil)
		return
	}
	turns, err := deps.Session.History(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to load conversation history", true, map[string]any{"details": err.Error()})
		return
	}
	views := make([]turnView, 0, len(turns))
	for _, turn := range turns {
		views = append(views, viewOf(turn, deps.ShowSQL))
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": views})
}

func handleConversationClear(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Session == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "conversation dependencies are not configured", false, nil)
		return
	}
	if err := deps.Session.Clear(r.Context()); err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_ERROR", "failed to clear conversation history", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

type promptView struct {
	Label    string `json:"label"`
	Question string `json:"question"`
}

// The quick prompts mirror the chips of the analyst panel.
var quickPrompts = []promptView{
	{Label: "Key findings for this period", Question: "Give me 5 key findings for the current period."},
	{Label: "Compare with last month", Question: "Summarize performance vs last month in up to 5 findings."},
	{Label: "Top queries & pages", Question: "Top queries and pages driving the results this period."},
	{Label: "Any anomalies to highlight?", Question: "Detect anomalies or significant day-to-day changes worth attention."},
}

func handlePrompts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"prompts": quickPrompts})
}
