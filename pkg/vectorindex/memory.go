package vectorindex

import (
	"context"
	"sync"
)

// MemoryProvider keeps indexes in process. Used when no Pinecone key is configured and in tests.
type MemoryProvider struct {
	mu      sync.Mutex
	indexes []Index
	creates int
}

// NewMemoryProvider creates an empty in-memory provider
func NewMemoryProvider(existing ...Index) *MemoryProvider {
	return &MemoryProvider{indexes: append([]Index(nil), existing...)}
}

// ListIndexes returns a copy of the indexes
func (p *MemoryProvider) ListIndexes(ctx context.Context) (IndexList, error) {
	if err := ctx.Err(); err != nil {
		return IndexList{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return IndexList{Indexes: append([]Index{}, p.indexes...)}, nil
}

// CreateIndex adds an index, which is immediately ready
func (p *MemoryProvider) CreateIndex(ctx context.Context, req CreateIndexRequest) (Index, error) {
	if err := ctx.Err(); err != nil {
		return Index{}, err
	}
	if err := req.Validate(); err != nil {
		return Index{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, idx := range p.indexes {
		if idx.Name == req.IndexName {
			return Index{}, ErrIndexExists
		}
	}

	idx := Index{
		Name:      req.IndexName,
		Dimension: req.Dimension,
		Metric:    req.Metric,
		Host:      req.IndexName + ".memory.local",
		Status:    &IndexStatus{Ready: true, State: "Ready"},
	}
	p.indexes = append(p.indexes, idx)
	p.creates++
	return idx, nil
}

// Creates returns how many indexes were created
func (p *MemoryProvider) Creates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}
