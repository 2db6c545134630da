package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/tablechat/tablechat/internal/audit"
	"github.com/tablechat/tablechat/internal/conversation"
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrTurnInFlight  = errors.New("a turn is already in flight")
)

// Session owns one conversation history and enforces the single
// in-flight turn policy: a second question while one is pending is
// rejected, never interleaved.
type Session struct {
	pipeline *Pipeline
	store    conversation.Store
	sink     audit.Sink
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight bool
}

func NewSession(p *Pipeline, store conversation.Store, sink audit.Sink, logger *slog.Logger) *Session {
	return &Session{pipeline: p, store: store, sink: sink, logger: logger}
}

func (s *Session) Ask(ctx context.Context, question string) (conversation.Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return conversation.Turn{}, ErrEmptyQuestion
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return conversation.Turn{}, ErrTurnInFlight
	}
	s.inFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	turn, _ := s.pipeline.Run(ctx, question)

	if err := s.store.Append(ctx, turn); err != nil {
		return conversation.Turn{}, err
	}
	if s.sink != nil {
		if err := s.sink.Record(ctx, turn); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "audit record failed",
				slog.String("turn_id", turn.ID),
				slog.Any("error", err),
			)
		}
	}
	return turn, nil
}

func (s *Session) History(ctx context.Context) ([]conversation.Turn, error) {
	return s.store.List(ctx)
}

func (s *Session) Clear(ctx context.Context) error {
	return s.store.Clear(ctx)
}
