package audit

import (
	"context"

	"github.com/tablechat/tablechat/internal/conversation"
)

// Sink archives terminal turns outside the session, typically to object
// storage. Archiving is best effort: a sink fault never fails the turn.
type Sink interface {
	Record(ctx context.Context, turn conversation.Turn) error
}
