package warehouse

import (
	"context"
	"sync"
)

// CachedSchemaProvider memoizes the first successful schema fetch for the
// process lifetime. Failed fetches are not cached.
type CachedSchemaProvider struct {
	inner SchemaProvider

	mu     sync.Mutex
	cached map[string]Schema
}

func NewCachedSchemaProvider(inner SchemaProvider) *CachedSchemaProvider {
	return &CachedSchemaProvider{inner: inner, cached: map[string]Schema{}}
}

func (p *CachedSchemaProvider) Schema(ctx context.Context, table string) (Schema, error) {
	p.mu.Lock()
	if schema, ok := p.cached[table]; ok {
		p.mu.Unlock()
		return schema, nil
	}
	p.mu.Unlock()

	schema, err := p.inner.Schema(ctx, table)
	if err != nil {
		return Schema{}, err
	}

	p.mu.Lock()
	p.cached[table] = schema
	p.mu.Unlock()
	return schema, nil
}

// Invalidate drops every cached schema so the next call refetches.
func (p *CachedSchemaProvider) Invalidate() {
	p.mu.Lock()
	p.cached = map[string]Schema{}
	p.mu.Unlock()
}
