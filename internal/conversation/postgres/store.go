package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tablechat/tablechat/internal/conversation"
	"github.com/tablechat/tablechat/internal/insight"
	"github.com/tablechat/tablechat/internal/warehouse"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	return db, nil
}

// Store persists resolved turns so the conversation survives restarts.
// Only terminal turns are appended; pending state never reaches storage.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping history db: %w", err)
	}
	return nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS conversation_turn (
    id          TEXT PRIMARY KEY,
    question    TEXT NOT NULL,
    sql_text    TEXT NOT NULL DEFAULT '',
    sample      JSONB,
    answer      TEXT NOT NULL DEFAULT '',
    findings    JSONB,
    state       TEXT NOT NULL,
    fault       TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL,
    resolved_at TIMESTAMPTZ
)`)
	if err != nil {
		return fmt.Errorf("ensure history schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, turn conversation.Turn) error {
	sample, err := marshalNullable(turn.Sample)
	if err != nil {
		return fmt.Errorf("encode turn sample: %w", err)
	}
	findings, err := marshalNullable(turn.Findings)
	if err != nil {
		return fmt.Errorf("encode turn findings: %w", err)
	}

	query := `
INSERT INTO conversation_turn (id, question, sql_text, sample, answer, findings, state, fault, created_at, resolved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = s.db.ExecContext(ctx, query,
		turn.ID,
		turn.Question,
		turn.SQL,
		sample,
		turn.Answer,
		findings,
		string(turn.State),
		turn.Fault,
		turn.CreatedAt,
		nullableTime(turn.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]conversation.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, question, sql_text, sample, answer, findings, state, fault, created_at, resolved_at
FROM conversation_turn
ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []conversation.Turn
	for rows.Next() {
		var (
			turn       conversation.Turn
			state      string
			sample     []byte
			findings   []byte
			resolvedAt sql.NullTime
		)
		err := rows.Scan(
			&turn.ID,
			&turn.Question,
			&turn.SQL,
			&sample,
			&turn.Answer,
			&findings,
			&state,
			&turn.Fault,
			&turn.CreatedAt,
			&resolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.State = conversation.State(state)
		if resolvedAt.Valid {
			turn.ResolvedAt = resolvedAt.Time
		}
		if len(sample) > 0 {
			var decoded warehouse.ResultSet
			if err := json.Unmarshal(sample, &decoded); err != nil {
				return nil, fmt.Errorf("decode turn sample: %w", err)
			}
			turn.Sample = &decoded
		}
		if len(findings) > 0 {
			if err := json.Unmarshal(findings, &turn.Findings); err != nil {
				return nil, fmt.Errorf("decode turn findings: %w", err)
			}
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return turns, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turn`); err != nil {
		return fmt.Errorf("clear turns: %w", err)
	}
	return nil
}

func marshalNullable(value any) (any, error) {
	switch typed := value.(type) {
	case *warehouse.ResultSet:
		if typed == nil {
			return nil, nil
		}
	case []insight.Finding:
		if typed == nil {
			return nil, nil
		}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value
}
