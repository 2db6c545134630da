package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Column is one (name, type) pair of the target table, in table order.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Schema struct {
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
}

// ResultSet is a bounded tabular query result. Rows follow the column
// order of the executed statement's projection.
type ResultSet struct {
	Columns  []string      `json:"columns"`
	Rows     [][]any       `json:"rows"`
	Duration time.Duration `json:"-"`
}

func (r ResultSet) Empty() bool { return len(r.Rows) == 0 }

// Truncate returns a copy limited to at most n rows.
func (r ResultSet) Truncate(n int) ResultSet {
	if n < 0 {
		n = 0
	}
	if len(r.Rows) <= n {
		return r
	}
	return ResultSet{Columns: r.Columns, Rows: r.Rows[:n], Duration: r.Duration}
}

type SchemaProvider interface {
	Schema(ctx context.Context, table string) (Schema, error)
}

type Executor interface {
	Execute(ctx context.Context, statement string) (ResultSet, error)
}

// SchemaError signals that table metadata could not be fetched, either
// because the table does not exist or the credential cannot read it.
type SchemaError struct {
	Table string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("fetch schema for %s: %v", e.Table, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// QueryError carries the warehouse's own error detail for a failed
// statement. Executions are never retried.
type QueryError struct {
	Detail string
	Err    error
}

func (e *QueryError) Error() string {
	if e.Detail != "" {
		return "execute statement: " + e.Detail
	}
	return fmt.Sprintf("execute statement: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// SplitTableFQN splits a project.dataset.table identifier. The table may
// be backtick-quoted as a whole or per part.
func SplitTableFQN(fqn string) (project, dataset, table string, err error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(fqn), "`", "")
	parts := strings.Split(cleaned, ".")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("table identifier %q is not project.dataset.table shaped", fqn)
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return "", "", "", fmt.Errorf("table identifier %q has an empty component", fqn)
		}
	}
	return parts[0], parts[1], parts[2], nil
}
