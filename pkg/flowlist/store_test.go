package flowlist

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/avnmr/ai-retail/pkg/client"
	"github.com/avnmr/ai-retail/pkg/logging"
	"github.com/avnmr/ai-retail/pkg/models"
)

var (
	alpha = models.FlowSummary{ID: "1", Name: "Alpha", CreatedAt: "2024-01-01T00:00:00Z"}
	beta  = models.FlowSummary{ID: "2", Name: "Beta", CreatedAt: "2024-01-02T00:00:00Z"}
	gamma = models.FlowSummary{ID: "3", Name: "Gamma", CreatedAt: "2024-01-03T00:00:00Z"}
)

func ids(flows []models.FlowSummary) []string {
	out := make([]string, len(flows))
	for i, f := range flows {
		out[i] = f.ID
	}
	return out
}

func newMockStore(t *testing.T) (*Store, *MockFlowSource) {
	t.Helper()
	source := new(MockFlowSource)
	store := NewStore(source, nil, Options{Logger: logging.Discard()})
	t.Cleanup(store.Close)
	return store, source
}

// loaded returns a store holding Alpha and Beta
func loaded(t *testing.T) (*Store, *MockFlowSource) {
	t.Helper()
	store, source := newMockStore(t)
	source.On("ListFlows", mock.Anything, "alice").Return([]models.FlowSummary{alpha, beta}, nil).Once()
	require.NoError(t, store.Load(context.Background(), "alice"))
	return store, source
}

func TestFilteredView(t *testing.T) {
	store, _ := loaded(t)

	tests := []struct {
		term   string
		expect []string
	}{
		{"", []string{"1", "2"}},
		{"al", []string{"1"}},
		{"AL", []string{"1"}},
		{"eta", []string{"2"}},
		{"a", []string{"1", "2"}},
		{"zeta", []string{}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("term %q", tt.term), func(t *testing.T) {
			assert.Equal(t, tt.expect, ids(store.FilteredView(tt.term)))
		})
	}

	// Filtering never changes the list
	assert.Equal(t, []string{"1", "2"}, ids(store.Flows()))
}

func TestFilterFoldsCase(t *testing.T) {
	flows := []models.FlowSummary{{ID: "1", Name: "Éclair Pipeline"}, {ID: "2", Name: "other"}}
	assert.Equal(t, []string{"1"}, ids(Filter(flows, "éCLAIR")))
}

func TestFilterReturnsCopy(t *testing.T) {
	for _, term := range []string{"", "al"} {
		t.Run(fmt.Sprintf("term %q", term), func(t *testing.T) {
			flows := []models.FlowSummary{alpha, beta}
			filtered := Filter(flows, term)
			require.NotEmpty(t, filtered)

			filtered[0].Name = "changed"
			assert.Equal(t, alpha.Name, flows[0].Name)
		})
	}
}

func TestSaveDeleteScenario(t *testing.T) {
	store, source := loaded(t)
	ctx := context.Background()

	source.On("ListFlows", mock.Anything, "alice").Return([]models.FlowSummary{alpha, beta, gamma}, nil).Once()
	require.NoError(t, store.Save(ctx, "alice", &gamma))

	snap := store.Snapshot()
	assert.Equal(t, []string{"1", "2", "3"}, ids(snap.Flows))
	assert.Equal(t, "3", snap.Selected)

	store.Select("2")
	source.On("DeleteFlow", mock.Anything, "2").Return(nil).Once()
	require.NoError(t, store.Delete(ctx, "2"))

	snap = store.Snapshot()
	assert.Equal(t, []string{"1", "3"}, ids(snap.Flows))
	assert.Empty(t, snap.Selected)
	_, ok := store.Selected()
	assert.False(t, ok)

	source.AssertExpectations(t)
}

func TestSaveIsOptimistic(t *testing.T) {
	store, source := loaded(t)

	reloaded := make(chan time.Time)
	renamed := beta
	renamed.Name = "Beta (server)"
	source.On("ListFlows", mock.Anything, "alice").
		WaitUntil(reloaded).
		Return([]models.FlowSummary{alpha, renamed}, nil).Once()

	local := beta
	local.Name = "Beta (editor)"
	done := make(chan error, 1)
	go func() { done <- store.Save(context.Background(), "alice", &local) }()

	// The local shape is visible while the reload is outstanding
	assert.Eventually(t, func() bool {
		flows := store.Flows()
		return len(flows) == 2 && flows[1].Name == "Beta (editor)"
	}, time.Second, 5*time.Millisecond)

	close(reloaded)
	require.NoError(t, <-done)

	flows := store.Flows()
	assert.Equal(t, []string{"1", "2"}, ids(flows), "position preserved")
	assert.Equal(t, "Beta (server)", flows[1].Name)
}

func TestSaveExistingKeepsPosition(t *testing.T) {
	store, source := loaded(t)
	source.On("ListFlows", mock.Anything, "alice").Return(nil, errors.New("offline")).Once()

	renamed := alpha
	renamed.Name = "Alpha 2"
	err := store.Save(context.Background(), "alice", &renamed)
	require.Error(t, err)

	diff := cmp.Diff([]models.FlowSummary{renamed, beta}, store.Flows())
	assert.Empty(t, diff)
	selected, _ := store.Selected()
	assert.Equal(t, "1", selected)
}

func TestSaveDistinctIDs(t *testing.T) {
	store, source := newMockStore(t)
	source.On("ListFlows", mock.Anything, "alice").Return(nil, errors.New("offline"))

	saved := []models.FlowSummary{alpha, beta, alpha, gamma, beta, beta}
	for i := range saved {
		store.Save(context.Background(), "alice", &saved[i])
	}

	assert.Equal(t, []string{"1", "2", "3"}, ids(store.Flows()))
}

func TestSaveNilClearsSelection(t *testing.T) {
	store, source := loaded(t)

	store.Select("1")
	require.NoError(t, store.Save(context.Background(), "alice", nil))

	_, ok := store.Selected()
	assert.False(t, ok)
	assert.Equal(t, []string{"1", "2"}, ids(store.Flows()))
	source.AssertNumberOfCalls(t, "ListFlows", 1)
}

func TestSelectDoesNotValidate(t *testing.T) {
	store, _ := loaded(t)

	store.Select("missing")
	selected, ok := store.Selected()
	assert.True(t, ok)
	assert.Equal(t, "missing", selected)

	store.ClearSelection()
	_, ok = store.Selected()
	assert.False(t, ok)
}

func TestDeleteUnselectedKeepsSelection(t *testing.T) {
	store, source := loaded(t)
	source.On("DeleteFlow", mock.Anything, "2").Return(nil).Once()

	store.Select("1")
	require.NoError(t, store.Delete(context.Background(), "2"))

	selected, _ := store.Selected()
	assert.Equal(t, "1", selected)
	assert.Equal(t, []string{"1"}, ids(store.Flows()))
}

func TestDeleteFailure(t *testing.T) {
	store, source := loaded(t)
	source.On("DeleteFlow", mock.Anything, "2").
		Return(&client.APIError{StatusCode: 500, Message: "boom"}).Once()

	store.Select("2")
	err := store.Delete(context.Background(), "2")
	require.Error(t, err)
	assert.Equal(t, 500, client.StatusCode(err))

	snap := store.Snapshot()
	assert.Equal(t, []string{"1", "2"}, ids(snap.Flows))
	assert.Equal(t, "2", snap.Selected)

	// Deletes are never retried
	source.AssertNumberOfCalls(t, "DeleteFlow", 1)
}

func TestLoadFailureKeepsList(t *testing.T) {
	store, source := loaded(t)
	source.On("ListFlows", mock.Anything, "alice").Return(nil, &client.APIError{StatusCode: 502}).Once()

	err := store.Load(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, 502, client.StatusCode(err))
	assert.Equal(t, []string{"1", "2"}, ids(store.Flows()))
}

func TestLoadDeduplicates(t *testing.T) {
	store, source := newMockStore(t)
	source.On("ListFlows", mock.Anything, "alice").
		Return([]models.FlowSummary{alpha, beta, alpha}, nil).Once()

	require.NoError(t, store.Load(context.Background(), "alice"))
	assert.Equal(t, []string{"1", "2"}, ids(store.Flows()))
}

func TestLoadReplacesList(t *testing.T) {
	store, source := loaded(t)
	source.On("ListFlows", mock.Anything, "alice").Return([]models.FlowSummary{gamma, alpha}, nil).Once()

	require.NoError(t, store.Load(context.Background(), "alice"))
	assert.Equal(t, []string{"3", "1"}, ids(store.Flows()))
}

func TestSnapshotIsACopy(t *testing.T) {
	store, _ := loaded(t)

	snap := store.Snapshot()
	snap.Flows[0].Name = "changed"

	assert.Equal(t, "Alpha", store.Flows()[0].Name)
}

func TestReconcileKeepsNewerLocalChanges(t *testing.T) {
	source := newGatedSource()
	store := NewStore(source, nil, Options{Logger: logging.Discard()})
	defer store.Close()
	ctx := context.Background()

	// Initial list
	loadDone := make(chan error, 1)
	go func() { loadDone <- store.Load(ctx, "alice") }()
	(<-source.calls).reply <- listReply{flows: []models.FlowSummary{alpha, beta}}
	require.NoError(t, <-loadDone)

	// A load goes out, then the user deletes Beta and saves Gamma
	go func() { loadDone <- store.Load(ctx, "alice") }()
	stale := <-source.calls

	require.NoError(t, store.Delete(ctx, "2"))

	saveDone := make(chan error, 1)
	go func() { saveDone <- store.Save(ctx, "alice", &gamma) }()
	reload := <-source.calls

	// The older response knows nothing about either change
	stale.reply <- listReply{flows: []models.FlowSummary{alpha, beta}}
	require.NoError(t, <-loadDone)
	assert.Equal(t, []string{"1", "3"}, ids(store.Flows()))

	serverGamma := gamma
	serverGamma.CreatedAt = "2024-01-03T00:00:01Z"
	reload.reply <- listReply{flows: []models.FlowSummary{alpha, serverGamma}}
	require.NoError(t, <-saveDone)

	assert.Empty(t, cmp.Diff([]models.FlowSummary{alpha, serverGamma}, store.Flows()))
	selected, _ := store.Selected()
	assert.Equal(t, "3", selected)
}

func TestReconcileDropsOvertakenLoad(t *testing.T) {
	source := newGatedSource()
	store := NewStore(source, nil, Options{Logger: logging.Discard()})
	defer store.Close()
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- store.Load(ctx, "alice") }()
	older := <-source.calls

	second := make(chan error, 1)
	go func() { second <- store.Load(ctx, "alice") }()
	newer := <-source.calls

	newer.reply <- listReply{flows: []models.FlowSummary{alpha, gamma}}
	require.NoError(t, <-second)

	older.reply <- listReply{flows: []models.FlowSummary{alpha, beta}}
	require.NoError(t, <-first)

	assert.Equal(t, []string{"1", "3"}, ids(store.Flows()))
}

func TestReconcileDeletedDuringLoad(t *testing.T) {
	source := newGatedSource()
	store := NewStore(source, nil, Options{Logger: logging.Discard()})
	defer store.Close()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- store.Load(ctx, "alice") }()
	call := <-source.calls

	store.RemoveRemote("2")
	call.reply <- listReply{flows: []models.FlowSummary{alpha, beta}}
	require.NoError(t, <-done)
	assert.Equal(t, []string{"1"}, ids(store.Flows()))

	// A later load that still lists the flow is authoritative again
	go func() { done <- store.Load(ctx, "alice") }()
	(<-source.calls).reply <- listReply{flows: []models.FlowSummary{alpha, beta}}
	require.NoError(t, <-done)
	assert.Equal(t, []string{"1", "2"}, ids(store.Flows()))
}

func TestCloseCancelsInFlightLoad(t *testing.T) {
	source := newGatedSource()
	store := NewStore(source, nil, Options{Logger: logging.Discard()})

	done := make(chan error, 1)
	go func() { done <- store.Load(context.Background(), "alice") }()
	<-source.calls

	store.Close()
	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Empty(t, store.Flows())
}

func TestCloseDropsLateResponse(t *testing.T) {
	source := newGatedSource()
	source.ignoreCtx = true
	store := NewStore(source, nil, Options{Logger: logging.Discard()})

	done := make(chan error, 1)
	go func() { done <- store.Load(context.Background(), "alice") }()
	call := <-source.calls

	store.Close()
	call.reply <- listReply{flows: []models.FlowSummary{alpha}}

	assert.ErrorIs(t, <-done, ErrClosed)
	assert.Empty(t, store.Flows())
}

func TestOperationsAfterClose(t *testing.T) {
	store, source := loaded(t)
	store.Close()

	ctx := context.Background()
	assert.ErrorIs(t, store.Load(ctx, "alice"), ErrClosed)
	assert.ErrorIs(t, store.Delete(ctx, "1"), ErrClosed)
	assert.ErrorIs(t, store.Save(ctx, "alice", &gamma), ErrClosed)
	assert.ErrorIs(t, store.EnsureIndex(ctx, "alice"), ErrClosed)

	store.RemoveRemote("1")
	assert.Equal(t, []string{"1", "2"}, ids(store.Flows()))
	source.AssertNumberOfCalls(t, "ListFlows", 1)
	source.AssertNotCalled(t, "DeleteFlow", mock.Anything, mock.Anything)
}

func TestCallerContextCancelsLoad(t *testing.T) {
	source := newGatedSource()
	store := NewStore(source, nil, Options{Logger: logging.Discard()})
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Load(ctx, "alice") }()
	<-source.calls

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestHandleEvent(t *testing.T) {
	store, source := loaded(t)
	ctx := context.Background()

	store.Select("2")
	require.NoError(t, store.HandleEvent(ctx, "alice", models.FlowEvent{Type: models.FlowDeleted, FlowID: "2"}))
	assert.Equal(t, []string{"1"}, ids(store.Flows()))
	_, ok := store.Selected()
	assert.False(t, ok)

	store.Select("1")
	source.On("ListFlows", mock.Anything, "alice").Return([]models.FlowSummary{alpha, gamma}, nil).Once()
	require.NoError(t, store.HandleEvent(ctx, "alice", models.FlowEvent{Type: models.FlowSaved, FlowID: "3", Flow: &gamma}))
	assert.Equal(t, []string{"1", "3"}, ids(store.Flows()))
	selected, _ := store.Selected()
	assert.Equal(t, "1", selected)

	assert.Error(t, store.HandleEvent(ctx, "alice", models.FlowEvent{Type: "flow.renamed"}))
}
