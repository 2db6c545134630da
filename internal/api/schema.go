package api

import (
	"errors"
	"net/http"

	"github.com/tablechat/tablechat/internal/warehouse"
)

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schemas == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema dependencies are not configured", false, nil)
		return
	}
	schema, err := deps.Schemas.Schema(r.Context(), deps.Table)
	if err != nil {
		var schemaErr *warehouse.SchemaError
		if errors.As(err, &schemaErr) {
			writeError(r.Context(), w, http.StatusBadGateway, "SCHEMA_FETCH_FAILED", "failed to fetch table schema", true, map[string]any{
				"table":   schemaErr.Table,
				"details": schemaErr.Err.Error(),
			})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to fetch table schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"table":   deps.Table,
		"columns": schema.Columns,
	})
}

func handleSchemaRefresh(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.SchemaRefresher == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema cache is not configured", false, nil)
		return
	}
	deps.SchemaRefresher.Invalidate()
	writeJSON(w, http.StatusOK, map[string]any{"status": "refreshed"})
}
