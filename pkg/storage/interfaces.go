// Package storage provides interfaces for persistent storage.
package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/avnmr/ai-retail/pkg/auth"
)

// Errors returned by storage providers
var (
	ErrFlowNotFound    = errors.New("flow not found")
	ErrAccountNotFound = errors.New("account not found")
)

// StorageProvider defines the interface for persistence backends
type StorageProvider interface {
	// Initialize sets up the storage backend
	Initialize() error

	// Close cleans up resources
	Close() error

	// GetFlowStore returns a store for flow definitions
	GetFlowStore() FlowStore

	// GetAccountStore returns a store for account data
	GetAccountStore() AccountStore
}

// FlowStore manages flow definition persistence. Flows are owned by a username.
type FlowStore interface {
	// SaveFlow inserts or updates a flow. An update keeps the stored CreatedAt.
	SaveFlow(flow FlowRecord) error

	// GetFlow retrieves a flow including its definition
	GetFlow(username, flowID string) (FlowRecord, error)

	// ListFlows returns the user's flows ordered by creation time, without definitions
	ListFlows(username string) ([]FlowRecord, error)

	// DeleteFlow removes a flow
	DeleteFlow(username, flowID string) error
}

// FlowRecord is a stored flow
type FlowRecord struct {
	// ID of the flow
	ID string `json:"id"`

	// Username owning the flow
	Username string `json:"username"`

	// Name of the flow
	Name string `json:"name"`

	// Description of the flow
	Description string `json:"description,omitempty"`

	// Definition is the editor's node graph as JSON
	Definition json.RawMessage `json:"definition,omitempty"`

	// CreatedAt is when the flow was created
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when the flow was last updated
	UpdatedAt time.Time `json:"updatedAt"`
}

// AccountStore manages account persistence
type AccountStore interface {
	// SaveAccount persists an account
	SaveAccount(account auth.Account) error

	// GetAccount retrieves an account
	GetAccount(accountID string) (auth.Account, error)

	// GetAccountByUsername retrieves an account by username
	GetAccountByUsername(username string) (auth.Account, error)

	// GetAccountByToken retrieves an account by API token
	GetAccountByToken(token string) (auth.Account, error)
}
