package nlsql

import (
	"context"
	"fmt"
	"strings"

	"github.com/tablechat/tablechat/internal/llm"
	"github.com/tablechat/tablechat/internal/sqlguard"
	"github.com/tablechat/tablechat/internal/warehouse"
)

type Config struct {
	Table        string
	DateColumn   string
	LookbackDays int
	RowCeiling   int
	Temperature  float64
}

// Generator turns a natural-language question into a sanitized SELECT
// against the configured table. A nil LLM client means the feature is
// disabled, which Generate signals with an empty statement, not an error.
type Generator struct {
	client llm.Client
	cfg    Config
}

func New(client llm.Client, cfg Config) *Generator {
	if cfg.DateColumn == "" {
		cfg.DateColumn = "data_date"
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 90
	}
	if cfg.RowCeiling <= 0 {
		cfg.RowCeiling = 1000
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	return &Generator{client: client, cfg: cfg}
}

// Enabled reports whether SQL generation is configured at all.
func (g *Generator) Enabled() bool { return g.client != nil }

func (g *Generator) Generate(ctx context.Context, question string, schema warehouse.Schema) (string, error) {
	if g.client == nil {
		return "", nil
	}

	completion, err := g.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		User:        g.userPrompt(question, schema),
		Temperature: g.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("generate statement: %w", err)
	}
	return sqlguard.Sanitize(completion), nil
}

const systemPrompt = "You generate BigQuery SQL. " +
	"Reply with the SQL query only: no labels, no explanations, no code fences. " +
	"Use exclusively the provided table and columns; never use other tables and never emit DDL or DML."

func (g *Generator) userPrompt(question string, schema warehouse.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target table: `%s`.\n", g.cfg.Table)
	b.WriteString("Available columns:\n")
	for _, column := range schema.Columns {
		fmt.Fprintf(&b, "- %s (%s)\n", column.Name, column.Type)
	}
	b.WriteString("\nRules:\n")
	fmt.Fprintf(&b, "- If the question names no period, filter the trailing %d days on the `%s` column.\n", g.cfg.LookbackDays, g.cfg.DateColumn)
	b.WriteString("- CTR = SAFE_DIVIDE(SUM(clicks), SUM(impressions)).\n")
	b.WriteString("- Average position = SAFE_DIVIDE(SUM(sum_top_position), SUM(impressions)) AS position.\n")
	fmt.Fprintf(&b, "- For rankings, order by clicks or impressions and cap long results with LIMIT %d.\n", g.cfg.RowCeiling)
	b.WriteString("- Start directly with SELECT.\n\n")
	fmt.Fprintf(&b, "User question:\n%s\n", strings.TrimSpace(question))
	return b.String()
}
