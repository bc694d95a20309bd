package flowlist

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/avnmr/ai-retail/pkg/models"
	"github.com/avnmr/ai-retail/pkg/vectorindex"
)

// MockFlowSource is a mock implementation of FlowSource
type MockFlowSource struct {
	mock.Mock
}

func (m *MockFlowSource) ListFlows(ctx context.Context, username string) ([]models.FlowSummary, error) {
	args := m.Called(ctx, username)
	flows, _ := args.Get(0).([]models.FlowSummary)
	return flows, args.Error(1)
}

func (m *MockFlowSource) DeleteFlow(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockIndexService is a mock implementation of IndexService
type MockIndexService struct {
	mock.Mock
}

func (m *MockIndexService) ListIndexes(ctx context.Context) (vectorindex.IndexList, error) {
	args := m.Called(ctx)
	return args.Get(0).(vectorindex.IndexList), args.Error(1)
}

func (m *MockIndexService) CreateIndex(ctx context.Context, req vectorindex.CreateIndexRequest) (vectorindex.Index, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(vectorindex.Index), args.Error(1)
}

type listReply struct {
	flows []models.FlowSummary
	err   error
}

type listCall struct {
	username string
	reply    chan listReply
}

// gatedSource holds every ListFlows call until the test answers it, so tests
// choose the order in which responses arrive
type gatedSource struct {
	calls chan listCall

	// ignoreCtx keeps a call waiting for its reply after cancellation
	ignoreCtx bool

	mu      sync.Mutex
	deleted []string
}

func newGatedSource() *gatedSource {
	return &gatedSource{calls: make(chan listCall, 10)}
}

func (g *gatedSource) ListFlows(ctx context.Context, username string) ([]models.FlowSummary, error) {
	call := listCall{username: username, reply: make(chan listReply, 1)}
	g.calls <- call

	if g.ignoreCtx {
		r := <-call.reply
		return r.flows, r.err
	}
	select {
	case r := <-call.reply:
		return r.flows, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedSource) DeleteFlow(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, id)
	return nil
}
