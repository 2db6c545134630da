package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/tablechat/tablechat/internal/warehouse"
)

// Engine is the local development warehouse: a DuckDB database file that
// stands in for the cloud warehouse behind the same interfaces.
type Engine struct {
	db *sql.DB
}

func Open(path string) (*Engine, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Engine{db: db}, nil
}

// NewWithDB wraps an existing handle, used by tests.
func NewWithDB(db *sql.DB) *Engine {
	return &Engine{db: db}
}

func (e *Engine) Close() error { return e.db.Close() }

func (e *Engine) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping duckdb: %w", err)
	}
	return nil
}

func (e *Engine) Schema(ctx context.Context, table string) (warehouse.Schema, error) {
	name := baseTableName(table)
	rows, err := e.db.QueryContext(ctx, `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_name = ?
ORDER BY ordinal_position`, name)
	if err != nil {
		return warehouse.Schema{}, &warehouse.SchemaError{Table: table, Err: err}
	}
	defer func() { _ = rows.Close() }()

	schema := warehouse.Schema{Table: table}
	for rows.Next() {
		var column warehouse.Column
		if err := rows.Scan(&column.Name, &column.Type); err != nil {
			return warehouse.Schema{}, &warehouse.SchemaError{Table: table, Err: err}
		}
		schema.Columns = append(schema.Columns, column)
	}
	if err := rows.Err(); err != nil {
		return warehouse.Schema{}, &warehouse.SchemaError{Table: table, Err: err}
	}
	if len(schema.Columns) == 0 {
		return warehouse.Schema{}, &warehouse.SchemaError{Table: table, Err: fmt.Errorf("table %q not found", name)}
	}
	return schema, nil
}

func (e *Engine) Execute(ctx context.Context, statement string) (warehouse.ResultSet, error) {
	start := time.Now()
	rows, err := e.db.QueryContext(ctx, statement)
	if err != nil {
		return warehouse.ResultSet{}, &warehouse.QueryError{Detail: err.Error(), Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return warehouse.ResultSet{}, &warehouse.QueryError{Detail: err.Error(), Err: err}
	}

	result := warehouse.ResultSet{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return warehouse.ResultSet{}, &warehouse.QueryError{Detail: err.Error(), Err: err}
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return warehouse.ResultSet{}, &warehouse.QueryError{Detail: err.Error(), Err: err}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func baseTableName(fqn string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(fqn), "`", "")
	parts := strings.Split(cleaned, ".")
	return parts[len(parts)-1]
}
