package flowlist

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/avnmr/ai-retail/pkg/client"
	"github.com/avnmr/ai-retail/pkg/logging"
	"github.com/avnmr/ai-retail/pkg/models"
	"github.com/avnmr/ai-retail/pkg/vectorindex"
)

func noWait() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

func newIndexStore(t *testing.T) (*Store, *MockIndexService) {
	t.Helper()
	indexes := new(MockIndexService)
	store := NewStore(new(MockFlowSource), indexes, Options{Logger: logging.Discard(), Retry: noWait})
	t.Cleanup(store.Close)
	return store, indexes
}

func listing(names ...string) vectorindex.IndexList {
	list := vectorindex.IndexList{Indexes: []vectorindex.Index{}}
	for _, name := range names {
		list.Indexes = append(list.Indexes, vectorindex.Index{Name: name, Dimension: 1536, Metric: "cosine"})
	}
	return list
}

func TestEnsureIndexCreatesWhenAbsent(t *testing.T) {
	store, indexes := newIndexStore(t)

	expected := vectorindex.CreateIndexRequest{
		IndexName: "flowise-ai-alice",
		Dimension: 1536,
		Metric:    "cosine",
		Spec: vectorindex.Spec{
			Serverless: &vectorindex.ServerlessSpec{Cloud: "aws", Region: "us-east-1"},
		},
	}
	indexes.On("ListIndexes", mock.Anything).Return(listing("flowise-ai-bob"), nil).Once()
	indexes.On("CreateIndex", mock.Anything, expected).Return(vectorindex.Index{Name: "flowise-ai-alice"}, nil).Once()

	require.NoError(t, store.EnsureIndex(context.Background(), "alice"))
	indexes.AssertExpectations(t)
}

func TestEnsureIndexSkipsExisting(t *testing.T) {
	store, indexes := newIndexStore(t)
	indexes.On("ListIndexes", mock.Anything).Return(listing("flowise-ai-alice"), nil).Once()

	require.NoError(t, store.EnsureIndex(context.Background(), "alice"))
	indexes.AssertNotCalled(t, "CreateIndex", mock.Anything, mock.Anything)
}

func TestEnsureIndexSwallowsConflict(t *testing.T) {
	for name, conflict := range map[string]error{
		"http 409":     &client.APIError{StatusCode: 409, Message: "Index already exists"},
		"exists":       vectorindex.ErrIndexExists,
		"provisioning": vectorindex.ErrProvisioning,
	} {
		t.Run(name, func(t *testing.T) {
			store, indexes := newIndexStore(t)
			indexes.On("ListIndexes", mock.Anything).Return(listing(), nil).Once()
			indexes.On("CreateIndex", mock.Anything, mock.Anything).Return(vectorindex.Index{}, conflict).Once()

			assert.NoError(t, store.EnsureIndex(context.Background(), "alice"))
			indexes.AssertNumberOfCalls(t, "CreateIndex", 1)
		})
	}
}

func TestEnsureIndexRetriesTransientFailures(t *testing.T) {
	store, indexes := newIndexStore(t)
	indexes.On("ListIndexes", mock.Anything).Return(vectorindex.IndexList{}, &client.APIError{StatusCode: 503}).Once()
	indexes.On("ListIndexes", mock.Anything).Return(listing(), nil).Once()
	indexes.On("CreateIndex", mock.Anything, mock.Anything).Return(vectorindex.Index{}, &client.APIError{StatusCode: 429}).Once()
	indexes.On("CreateIndex", mock.Anything, mock.Anything).Return(vectorindex.Index{Name: "flowise-ai-alice"}, nil).Once()

	require.NoError(t, store.EnsureIndex(context.Background(), "alice"))
	indexes.AssertNumberOfCalls(t, "ListIndexes", 2)
	indexes.AssertNumberOfCalls(t, "CreateIndex", 2)
}

func TestEnsureIndexDoesNotRetryClientErrors(t *testing.T) {
	store, indexes := newIndexStore(t)
	indexes.On("ListIndexes", mock.Anything).Return(listing(), nil).Once()
	indexes.On("CreateIndex", mock.Anything, mock.Anything).
		Return(vectorindex.Index{}, &client.APIError{StatusCode: 400, Message: "bad dimension"}).Once()

	err := store.EnsureIndex(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, 400, client.StatusCode(err))
	indexes.AssertNumberOfCalls(t, "CreateIndex", 1)
}

func TestEnsureIndexGivesUp(t *testing.T) {
	store, indexes := newIndexStore(t)
	indexes.On("ListIndexes", mock.Anything).Return(vectorindex.IndexList{}, &client.APIError{StatusCode: 500})

	err := store.EnsureIndex(context.Background(), "alice")
	require.Error(t, err)
	indexes.AssertNumberOfCalls(t, "ListIndexes", 3)
	indexes.AssertNotCalled(t, "CreateIndex", mock.Anything, mock.Anything)
}

// slowIndexes blocks ListIndexes until released
type slowIndexes struct {
	entered chan struct{}
	release chan struct{}
	lists   atomic.Int32
	creates atomic.Int32
}

func (s *slowIndexes) ListIndexes(ctx context.Context) (vectorindex.IndexList, error) {
	if s.lists.Add(1) == 1 {
		close(s.entered)
	}
	<-s.release
	return listing(), nil
}

func (s *slowIndexes) CreateIndex(ctx context.Context, req vectorindex.CreateIndexRequest) (vectorindex.Index, error) {
	s.creates.Add(1)
	return vectorindex.Index{Name: req.IndexName}, nil
}

func TestEnsureIndexCollapsesConcurrentCalls(t *testing.T) {
	indexes := &slowIndexes{entered: make(chan struct{}), release: make(chan struct{})}
	store := NewStore(new(MockFlowSource), indexes, Options{Logger: logging.Discard(), Retry: noWait})
	defer store.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	call := func() {
		defer wg.Done()
		errs <- store.EnsureIndex(context.Background(), "alice")
	}

	wg.Add(1)
	go call()
	<-indexes.entered

	wg.Add(1)
	go call()
	time.Sleep(50 * time.Millisecond)
	close(indexes.release)

	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), indexes.lists.Load())
	assert.Equal(t, int32(1), indexes.creates.Load())
}

func TestEnsureIndexSurvivesFirstCallerCancel(t *testing.T) {
	indexes := &slowIndexes{entered: make(chan struct{}), release: make(chan struct{})}
	store := NewStore(new(MockFlowSource), indexes, Options{Logger: logging.Discard(), Retry: noWait})
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- store.EnsureIndex(ctx, "alice") }()
	<-indexes.entered

	second := make(chan error, 1)
	go func() { second <- store.EnsureIndex(context.Background(), "alice") }()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-first:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(indexes.release)
	select {
	case err := <-second:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), indexes.lists.Load())
	assert.Equal(t, int32(1), indexes.creates.Load())
}

func TestEnsureIndexWithProvider(t *testing.T) {
	provider := vectorindex.NewMemoryProvider()
	store := NewStore(new(MockFlowSource), vectorindex.NewProvisioner(provider, nil, 0, nil), Options{Retry: noWait})
	defer store.Close()

	require.NoError(t, store.EnsureIndex(context.Background(), "alice"))
	require.NoError(t, store.EnsureIndex(context.Background(), "alice"))
	assert.Equal(t, 1, provider.Creates())
}

func TestLoadEnsuresIndexInBackground(t *testing.T) {
	source := new(MockFlowSource)
	indexes := new(MockIndexService)
	store := NewStore(source, indexes, Options{Logger: logging.Discard(), Retry: noWait})
	defer store.Close()

	source.On("ListFlows", mock.Anything, "alice").Return([]models.FlowSummary{alpha}, nil)
	indexes.On("ListIndexes", mock.Anything).Return(listing(), nil).Once()
	created := make(chan struct{})
	indexes.On("CreateIndex", mock.Anything, vectorindex.NewCreateIndexRequest("alice")).
		Run(func(mock.Arguments) { close(created) }).
		Return(vectorindex.Index{Name: "flowise-ai-alice"}, nil).Once()

	require.NoError(t, store.Load(context.Background(), "alice"))
	assert.Equal(t, []string{"1"}, ids(store.Flows()))

	select {
	case <-created:
	case <-time.After(time.Second):
		t.Fatal("index was not created")
	}
}

func TestLoadIgnoresIndexFailure(t *testing.T) {
	source := new(MockFlowSource)
	indexes := new(MockIndexService)
	store := NewStore(source, indexes, Options{Logger: logging.Discard(), Retry: noWait})

	source.On("ListFlows", mock.Anything, "alice").Return([]models.FlowSummary{alpha, beta}, nil)
	indexes.On("ListIndexes", mock.Anything).Return(vectorindex.IndexList{}, &client.APIError{StatusCode: 403})

	require.NoError(t, store.Load(context.Background(), "alice"))
	assert.Equal(t, []string{"1", "2"}, ids(store.Flows()))

	// Close waits for the background check
	store.Close()
	indexes.AssertNumberOfCalls(t, "ListIndexes", 1)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect bool
	}{
		{"server error", &client.APIError{StatusCode: 502}, true},
		{"rate limited", &client.APIError{StatusCode: 429}, true},
		{"conflict", &client.APIError{StatusCode: 409}, false},
		{"forbidden", &client.APIError{StatusCode: 403}, false},
		{"provider error", &vectorindex.ProviderError{StatusCode: 503}, true},
		{"transport", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection refused")}, true},
		{"canceled", context.Canceled, false},
		{"exists", vectorindex.ErrIndexExists, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, isTransient(tt.err))
		})
	}
}
