package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/tablechat/tablechat/internal/insight"
	"github.com/tablechat/tablechat/internal/warehouse"
)

type State string

const (
	StatePending  State = "pending"
	StateResolved State = "resolved"
	StateFailed   State = "failed"
)

// Turn is one question/answer exchange. It is created pending and
// transitions exactly once to resolved or failed; the history owns it and
// never edits it afterwards except through a full clear.
type Turn struct {
	ID         string                `json:"id"`
	Question   string                `json:"question"`
	SQL        string                `json:"sql,omitempty"`
	Sample     *warehouse.ResultSet  `json:"sample,omitempty"`
	Answer     string                `json:"answer,omitempty"`
	Findings   []insight.Finding     `json:"findings,omitempty"`
	State      State                 `json:"state"`
	Fault      string                `json:"fault,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	ResolvedAt time.Time             `json:"resolved_at,omitzero"`
}

type Store interface {
	Append(ctx context.Context, turn Turn) error
	List(ctx context.Context) ([]Turn, error)
	Clear(ctx context.Context) error
}

// MemoryStore is the default, process-local history: append-only,
// newest first.
type MemoryStore struct {
	mu    sync.Mutex
	turns []Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listed := make([]Turn, len(s.turns))
	for i, turn := range s.turns {
		listed[len(s.turns)-1-i] = turn
	}
	return listed, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	return nil
}
