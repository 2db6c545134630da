package llm

import "context"

// Request is one synchronous completion round trip. ForceJSON asks the
// provider for a structured JSON completion instead of free text.
type Request struct {
	System      string
	User        string
	Temperature float64
	ForceJSON   bool
}

type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
