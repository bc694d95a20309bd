package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/avnmr/ai-retail/pkg/models"
	"github.com/avnmr/ai-retail/pkg/storage"
)

// recordingPublisher keeps every event it receives
type recordingPublisher struct {
	users  []string
	events []models.FlowEvent
}

func (p *recordingPublisher) PublishFlowEvent(username string, event models.FlowEvent) {
	p.users = append(p.users, username)
	p.events = append(p.events, event)
}

func newTestRegistry(store storage.FlowStore) (*FlowRegistryService, *recordingPublisher) {
	pub := &recordingPublisher{}
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	reg := NewFlowRegistry(store, FlowRegistryOptions{
		Publishers: []EventPublisher{pub},
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			n++
			return fmt.Sprintf("%d", n)
		},
	})
	return reg, pub
}

func TestCreateAndList(t *testing.T) {
	reg, pub := newTestRegistry(storage.NewMemoryFlowStore())

	alpha, err := reg.Create("alice", models.FlowInput{Name: "Alpha"})
	require.NoError(t, err)
	assert.Equal(t, "1", alpha.ID)
	assert.JSONEq(t, `{"nodes":[],"edges":[]}`, string(alpha.Definition))

	_, err = reg.Create("alice", models.FlowInput{
		Name:       " Beta ",
		Definition: json.RawMessage(`{"nodes":[{"id":"d","type":"document"}],"edges":[]}`),
	})
	require.NoError(t, err)

	flows, err := reg.List("alice")
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, "Alpha", flows[0].Name)
	assert.Equal(t, "Beta", flows[1].Name)
	assert.Equal(t, "2024-05-01T09:00:01Z", flows[0].CreatedAt)

	others, err := reg.List("bob")
	require.NoError(t, err)
	assert.Empty(t, others)

	require.Len(t, pub.events, 2)
	assert.Equal(t, []string{"alice", "alice"}, pub.users)
	assert.Equal(t, models.FlowSaved, pub.events[0].Type)
	assert.Equal(t, &models.FlowSummary{ID: "1", Name: "Alpha", CreatedAt: "2024-05-01T09:00:01Z"}, pub.events[0].Flow)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	reg, pub := newTestRegistry(storage.NewMemoryFlowStore())

	_, err := reg.Create("alice", models.FlowInput{Name: "  "})
	assert.ErrorIs(t, err, ErrNameRequired)

	_, err = reg.Create("alice", models.FlowInput{
		Name:       "Broken",
		Definition: json.RawMessage(`{"nodes":[{"id":"a"}],"edges":[{"id":"e","source":"a","target":"b"}]}`),
	})
	assert.ErrorIs(t, err, ErrInvalidDefinition)

	assert.Empty(t, pub.events)
}

func TestUpdate(t *testing.T) {
	reg, pub := newTestRegistry(storage.NewMemoryFlowStore())

	created, err := reg.Create("alice", models.FlowInput{Name: "Alpha"})
	require.NoError(t, err)

	updated, err := reg.Update("alice", created.ID, models.FlowInput{Name: "Alpha v2", Description: "second"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.NotEqual(t, created.UpdatedAt, updated.UpdatedAt)

	got, err := reg.Get("alice", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha v2", got.Name)
	assert.Equal(t, "second", got.Description)

	_, err = reg.Update("alice", "missing", models.FlowInput{Name: "x"})
	assert.ErrorIs(t, err, ErrFlowNotFound)

	_, err = reg.Update("bob", created.ID, models.FlowInput{Name: "stolen"})
	assert.ErrorIs(t, err, ErrFlowNotFound)

	assert.Len(t, pub.events, 2)
}

func TestDelete(t *testing.T) {
	reg, pub := newTestRegistry(storage.NewMemoryFlowStore())

	created, err := reg.Create("alice", models.FlowInput{Name: "Alpha"})
	require.NoError(t, err)

	require.NoError(t, reg.Delete("alice", created.ID))
	assert.ErrorIs(t, reg.Delete("alice", created.ID), ErrFlowNotFound)

	_, err = reg.Get("alice", created.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	last := pub.events[len(pub.events)-1]
	assert.Equal(t, models.FlowDeleted, last.Type)
	assert.Equal(t, created.ID, last.FlowID)
	assert.Nil(t, last.Flow)
}

// MockFlowStore is a mock implementation of storage.FlowStore
type MockFlowStore struct {
	mock.Mock
}

func (m *MockFlowStore) SaveFlow(flow storage.FlowRecord) error {
	return m.Called(flow).Error(0)
}

func (m *MockFlowStore) GetFlow(username, flowID string) (storage.FlowRecord, error) {
	args := m.Called(username, flowID)
	return args.Get(0).(storage.FlowRecord), args.Error(1)
}

func (m *MockFlowStore) ListFlows(username string) ([]storage.FlowRecord, error) {
	args := m.Called(username)
	return args.Get(0).([]storage.FlowRecord), args.Error(1)
}

func (m *MockFlowStore) DeleteFlow(username, flowID string) error {
	return m.Called(username, flowID).Error(0)
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	boom := errors.New("connection reset")

	store := new(MockFlowStore)
	store.On("ListFlows", "alice").Return([]storage.FlowRecord(nil), boom)
	store.On("SaveFlow", mock.Anything).Return(boom)
	store.On("DeleteFlow", "alice", "1").Return(boom)

	reg, pub := newTestRegistry(store)

	_, err := reg.List("alice")
	assert.ErrorIs(t, err, boom)

	_, err = reg.Create("alice", models.FlowInput{Name: "Alpha"})
	assert.ErrorIs(t, err, boom)

	err = reg.Delete("alice", "1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrFlowNotFound)

	assert.Empty(t, pub.events)
	store.AssertExpectations(t)
}
