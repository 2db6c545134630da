package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/tablechat/tablechat/internal/marketing"
)

type marketingQueryRequest struct {
	Connector       string         `json:"connector"`
	Fields          []string       `json:"fields"`
	DateFrom        string         `json:"date_from"`
	DateTo          string         `json:"date_to"`
	DateRangeType   string         `json:"date_range_type"`
	TimeGranularity string         `json:"time_granularity"`
	Filters         map[string]any `json:"filters"`
	MaxRows         int            `json:"max_rows"`
}

type marketingQueryResponse struct {
	Connector string         `json:"connector"`
	Columns   []string       `json:"columns"`
	Rows      [][]any        `json:"rows"`
	Stats     map[string]any `json:"stats"`
}

func handleMarketingQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request marketingQueryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid marketing query body", false, map[string]any{"details": err.Error()})
		return
	}

	var querier MarketingQuerier
	connector := strings.ToLower(strings.TrimSpace(request.Connector))
	switch connector {
	case "instagram":
		querier = deps.Instagram
	case "facebook_pages":
		querier = deps.FacebookPages
	default:
		writeError(r.Context(), w, http.StatusBadRequest, "UNKNOWN_CONNECTOR", "connector must be instagram or facebook_pages", false, nil)
		return
	}
	if querier == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONNECTOR_NOT_CONFIGURED", "the requested connector is not configured", false, map[string]any{"connector": connector})
		return
	}
	if len(request.Fields) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "FIELDS_REQUIRED", "at least one field is required", false, nil)
		return
	}

	result, err := querier.Query(r.Context(), marketing.Query{
		Fields:          request.Fields,
		DateFrom:        request.DateFrom,
		DateTo:          request.DateTo,
		DateRangeType:   request.DateRangeType,
		TimeGranularity: request.TimeGranularity,
		Filters:         request.Filters,
		MaxRows:         request.MaxRows,
	})
	if err != nil {
		var apiErr *marketing.APIError
		if errors.As(err, &apiErr) {
			writeError(r.Context(), w, http.StatusBadGateway, "CONNECTOR_ERROR", "the marketing connector rejected the query", true, map[string]any{
				"connector": connector,
				"details":   apiErr.Error(),
			})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CONNECTOR_ERROR", "marketing query failed", true, map[string]any{"details": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, marketingQueryResponse{
		Connector: connector,
		Columns:   result.Columns,
		Rows:      result.Rows,
		Stats: map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
			"row_count":   len(result.Rows),
		},
	})
}
