package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tablechat/tablechat/internal/conversation"
	"github.com/tablechat/tablechat/internal/insight"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/sqlguard"
	"github.com/tablechat/tablechat/internal/warehouse"
)

// User-facing messages for the recoverable outcomes. Validation and
// generation faults resolve the turn with one of these instead of
// failing the session.
const (
	MessageLLMDisabled  = "SQL generation is disabled. Configure the LLM credential to enable it."
	MessageUnsafeSQL    = "Could not produce a safe query for that question. Please narrow it, naming a period or dimension."
	MessageSummaryFault = "The query succeeded but narrative summarization failed; showing the raw result sample."
)

const (
	outcomeResolved     = "resolved"
	outcomeSchemaFault  = "schema_fault"
	outcomeDisabled     = "llm_disabled"
	outcomeRejected     = "statement_rejected"
	outcomeQueryFault   = "query_fault"
	outcomeSummaryFault = "summary_fault"
)

type SQLGenerator interface {
	// Enabled reports whether an LLM credential is configured. A
	// disabled generator returns empty statements, which is a feature
	// toggle, not a fault.
	Enabled() bool
	Generate(ctx context.Context, question string, schema warehouse.Schema) (string, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, question string, result warehouse.ResultSet, statementUsed string) (insight.Summary, error)
}

type Config struct {
	Table      string
	RowCeiling int
	SampleRows int
}

// Pipeline runs one question through schema fetch, SQL generation,
// policy validation, limit enforcement, execution and summarization.
// Every network call is a single attempt; nothing is retried.
type Pipeline struct {
	Schemas    warehouse.SchemaProvider
	Executor   warehouse.Executor
	Generator  SQLGenerator
	Summarizer Summarizer
	Logger     *slog.Logger
	Config     Config
}

// Run drives a pending turn to its terminal state. The returned turn is
// always terminal; the error mirrors turn failure for callers that
// branch on it.
func (p *Pipeline) Run(ctx context.Context, question string) (conversation.Turn, error) {
	start := time.Now()
	turn := conversation.Turn{
		ID:        uuid.NewString(),
		Question:  question,
		State:     conversation.StatePending,
		CreatedAt: start,
	}

	schema, err := p.Schemas.Schema(ctx, p.Config.Table)
	if err != nil {
		p.logStep(ctx, "schema fetch failed", err)
		return p.fail(turn, outcomeSchemaFault, fmt.Errorf("fetch schema: %w", err)), err
	}

	statement, err := p.Generator.Generate(ctx, question, schema)
	if err != nil {
		p.logStep(ctx, "sql generation failed", err)
		return p.fail(turn, outcomeQueryFault, fmt.Errorf("generate sql: %w", err)), err
	}
	if statement == "" {
		if !p.Generator.Enabled() {
			return p.resolve(turn, outcomeDisabled, insight.Summary{Text: MessageLLMDisabled}), nil
		}
		// Enabled but nothing SELECT-shaped survived sanitization.
		observability.IncrementStatementRejected()
		return p.resolve(turn, outcomeRejected, insight.Summary{Text: MessageUnsafeSQL}), nil
	}

	// The unsafe statement is kept on the turn for transparency but is
	// never executed.
	turn.SQL = statement
	if !sqlguard.IsSafe(statement, p.Config.Table) {
		observability.IncrementStatementRejected()
		p.logStep(ctx, "statement rejected by policy", nil, slog.String("sql", statement))
		return p.resolve(turn, outcomeRejected, insight.Summary{Text: MessageUnsafeSQL}), nil
	}

	turn.SQL = sqlguard.EnsureLimit(statement, p.Config.RowCeiling)

	queryStart := time.Now()
	result, err := p.Executor.Execute(ctx, turn.SQL)
	observability.ObserveWarehouseQuery(time.Since(queryStart))
	if err != nil {
		p.logStep(ctx, "warehouse execution failed", err, slog.String("sql", turn.SQL))
		return p.fail(turn, outcomeQueryFault, err), err
	}

	sample := result.Truncate(p.Config.SampleRows)
	turn.Sample = &sample

	summary, err := p.Summarizer.Summarize(ctx, question, result, turn.SQL)
	if err != nil {
		// The result is already in hand; degrade to the raw sample
		// instead of discarding a successful query.
		p.logStep(ctx, "summarization failed", err)
		return p.resolve(turn, outcomeSummaryFault, insight.Summary{Text: MessageSummaryFault}), nil
	}

	resolved := p.resolve(turn, outcomeResolved, summary)
	if p.Logger != nil {
		p.Logger.InfoContext(ctx, "turn resolved",
			slog.String("turn_id", resolved.ID),
			slog.Int("rows", len(result.Rows)),
			slog.String("duration", time.Since(start).String()),
		)
	}
	return resolved, nil
}

func (p *Pipeline) resolve(turn conversation.Turn, outcome string, summary insight.Summary) conversation.Turn {
	turn.State = conversation.StateResolved
	turn.Answer = summary.Text
	turn.Findings = summary.Findings
	turn.ResolvedAt = time.Now()
	observability.ObserveTurn(outcome, turn.ResolvedAt.Sub(turn.CreatedAt))
	return turn
}

func (p *Pipeline) fail(turn conversation.Turn, outcome string, err error) conversation.Turn {
	turn.State = conversation.StateFailed
	turn.Fault = err.Error()
	turn.Answer = err.Error()
	turn.ResolvedAt = time.Now()
	observability.ObserveTurn(outcome, turn.ResolvedAt.Sub(turn.CreatedAt))
	return turn
}

func (p *Pipeline) logStep(ctx context.Context, message string, err error, attrs ...slog.Attr) {
	if p.Logger == nil {
		return
	}
	args := make([]any, 0, len(attrs)+1)
	if err != nil {
		args = append(args, slog.Any("error", err))
	}
	for _, attr := range attrs {
		args = append(args, attr)
	}
	p.Logger.WarnContext(ctx, message, args...)
}
