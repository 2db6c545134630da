package duckdb

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/tablechat/tablechat/internal/warehouse"
)

func TestSchemaReturnsColumnsInTableOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("information_schema.columns").
		WithArgs("tbl").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("data_date", "DATE").
			AddRow("clicks", "BIGINT").
			AddRow("impressions", "BIGINT"))

	engine := NewWithDB(db)
	schema, err := engine.Schema(context.Background(), "proj.ds.tbl")
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	if schema.Table != "proj.ds.tbl" {
		t.Fatalf("table = %q", schema.Table)
	}
	if len(schema.Columns) != 3 || schema.Columns[0].Name != "data_date" || schema.Columns[2].Type != "BIGINT" {
		t.Fatalf("columns = %#v", schema.Columns)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSchemaUnknownTableFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("information_schema.columns").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}))

	engine := NewWithDB(db)
	_, err = engine.Schema(context.Background(), "missing")
	var schemaErr *warehouse.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("error = %v, want *warehouse.SchemaError", err)
	}
}

func TestExecuteMaterializesRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT query, SUM").
		WillReturnRows(sqlmock.NewRows([]string{"query", "clicks"}).
			AddRow([]byte("best shoes"), int64(120)).
			AddRow([]byte("running shoes"), int64(88)))

	engine := NewWithDB(db)
	result, err := engine.Execute(context.Background(), "SELECT query, SUM(clicks) AS clicks FROM tbl GROUP BY query")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Columns) != 2 || result.Columns[0] != "query" {
		t.Fatalf("columns = %v", result.Columns)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Rows[0][0] != "best shoes" {
		t.Fatalf("byte values should normalize to string, got %#v", result.Rows[0][0])
	}
}

func TestExecuteSurfacesWarehouseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("syntax error at or near FROM"))

	engine := NewWithDB(db)
	_, err = engine.Execute(context.Background(), "SELECT FROM tbl")
	var queryErr *warehouse.QueryError
	if !errors.As(err, &queryErr) {
		t.Fatalf("error = %v, want *warehouse.QueryError", err)
	}
	if queryErr.Detail == "" {
		t.Fatal("query error should carry the warehouse detail")
	}
}
