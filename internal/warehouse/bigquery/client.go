package bigquery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tablechat/tablechat/internal/warehouse"
)

type Config struct {
	Table           string
	CredentialsJSON string
}

// Client implements warehouse.SchemaProvider and warehouse.Executor on
// top of the BigQuery API. The credential is expected to be read-only;
// that restriction is the warehouse's second enforcement layer behind
// the statement policy check.
type Client struct {
	bq *bq.Client
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	project, _, _, err := warehouse.SplitTableFQN(cfg.Table)
	if err != nil {
		return nil, err
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsJSON) != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := bq.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("open bigquery client: %w", err)
	}
	return &Client{bq: client}, nil
}

func (c *Client) Close() error { return c.bq.Close() }

func (c *Client) Schema(ctx context.Context, table string) (warehouse.Schema, error) {
	project, dataset, name, err := warehouse.SplitTableFQN(table)
	if err != nil {
		return warehouse.Schema{}, &warehouse.SchemaError{Table: table, Err: err}
	}

	metadata, err := c.bq.DatasetInProject(project, dataset).Table(name).Metadata(ctx)
	if err != nil {
		return warehouse.Schema{}, &warehouse.SchemaError{Table: table, Err: err}
	}

	schema := warehouse.Schema{Table: table, Columns: make([]warehouse.Column, 0, len(metadata.Schema))}
	for _, field := range metadata.Schema {
		schema.Columns = append(schema.Columns, warehouse.Column{Name: field.Name, Type: string(field.Type)})
	}
	return schema, nil
}

func (c *Client) Execute(ctx context.Context, statement string) (warehouse.ResultSet, error) {
	query := c.bq.Query(statement)
	it, err := query.Read(ctx)
	if err != nil {
		return warehouse.ResultSet{}, &warehouse.QueryError{Detail: err.Error(), Err: err}
	}

	result := warehouse.ResultSet{Rows: [][]any{}}
	for {
		var row []bq.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return warehouse.ResultSet{}, &warehouse.QueryError{Detail: err.Error(), Err: err}
		}
		values := make([]any, len(row))
		for i, value := range row {
			values[i] = value
		}
		result.Rows = append(result.Rows, values)
	}

	// The iterator schema is populated once the first page is fetched,
	// which has happened by the time Next returns Done.
	for _, field := range it.Schema {
		result.Columns = append(result.Columns, field.Name)
	}
	return result, nil
}
