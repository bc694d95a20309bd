package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avnmr/ai-retail/pkg/auth"
)

func flowIDs(flows []FlowRecord) []string {
	ids := make([]string, 0, len(flows))
	for _, f := range flows {
		ids = append(ids, f.ID)
	}
	return ids
}

// runFlowStoreTests exercises the FlowStore contract shared by every provider
func runFlowStoreTests(t *testing.T, store FlowStore, username string) {
	t.Helper()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	definition := json.RawMessage(`{"nodes":[{"id":"n1","type":"llm"}],"edges":[]}`)

	alpha := FlowRecord{ID: "flow-a", Username: username, Name: "Alpha", Definition: definition, CreatedAt: base, UpdatedAt: base}
	beta := FlowRecord{ID: "flow-b", Username: username, Name: "Beta", CreatedAt: base.Add(time.Minute), UpdatedAt: base.Add(time.Minute)}
	other := FlowRecord{ID: "flow-c", Username: username + "-other", Name: "Other", CreatedAt: base, UpdatedAt: base}

	for _, f := range []FlowRecord{alpha, beta, other} {
		require.NoError(t, store.SaveFlow(f))
	}

	t.Run("list is per user in creation order", func(t *testing.T) {
		flows, err := store.ListFlows(username)
		require.NoError(t, err)
		if diff := cmp.Diff([]string{"flow-a", "flow-b"}, flowIDs(flows)); diff != "" {
			t.Errorf("unexpected flow order (-want +got):\n%s", diff)
		}
		for _, f := range flows {
			assert.Nil(t, f.Definition)
		}
	})

	t.Run("get returns the definition", func(t *testing.T) {
		got, err := store.GetFlow(username, "flow-a")
		require.NoError(t, err)
		assert.Equal(t, "Alpha", got.Name)
		assert.JSONEq(t, string(definition), string(got.Definition))
		assert.True(t, base.Equal(got.CreatedAt))
	})

	t.Run("update keeps created at and position", func(t *testing.T) {
		updated := alpha
		updated.Name = "Alpha v2"
		updated.CreatedAt = base.Add(time.Hour)
		updated.UpdatedAt = base.Add(time.Hour)
		require.NoError(t, store.SaveFlow(updated))

		got, err := store.GetFlow(username, "flow-a")
		require.NoError(t, err)
		assert.Equal(t, "Alpha v2", got.Name)
		assert.True(t, base.Equal(got.CreatedAt))

		flows, err := store.ListFlows(username)
		require.NoError(t, err)
		assert.Equal(t, []string{"flow-a", "flow-b"}, flowIDs(flows))
	})

	t.Run("flows of another user are not visible", func(t *testing.T) {
		_, err := store.GetFlow(username, "flow-c")
		assert.ErrorIs(t, err, ErrFlowNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.DeleteFlow(username, "flow-b"))
		assert.ErrorIs(t, store.DeleteFlow(username, "flow-b"), ErrFlowNotFound)

		_, err := store.GetFlow(username, "flow-b")
		assert.ErrorIs(t, err, ErrFlowNotFound)

		flows, err := store.ListFlows(username)
		require.NoError(t, err)
		assert.Equal(t, []string{"flow-a"}, flowIDs(flows))
	})

	t.Run("unknown user lists nothing", func(t *testing.T) {
		flows, err := store.ListFlows(username + "-nobody")
		require.NoError(t, err)
		assert.Empty(t, flows)
	})
}

// runAccountStoreTests exercises the AccountStore contract shared by every provider
func runAccountStoreTests(t *testing.T, store AccountStore, username string) {
	t.Helper()

	now := time.Now().Truncate(time.Second)
	account := auth.Account{
		ID:           "acct-" + username,
		Username:     username,
		PasswordHash: "hash",
		APIToken:     "token-" + username,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, store.SaveAccount(account))

	byID, err := store.GetAccount(account.ID)
	require.NoError(t, err)
	assert.Equal(t, username, byID.Username)
	assert.Equal(t, "hash", byID.PasswordHash)

	byName, err := store.GetAccountByUsername(username)
	require.NoError(t, err)
	assert.Equal(t, account.ID, byName.ID)

	byToken, err := store.GetAccountByToken(account.APIToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, byToken.ID)

	_, err = store.GetAccount("missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = store.GetAccountByUsername("missing-" + username)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	_, err = store.GetAccountByToken("missing-token")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
