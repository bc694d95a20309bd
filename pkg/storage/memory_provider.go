package storage

import (
	"sync"

	"github.com/avnmr/ai-retail/pkg/auth"
)

// MemoryProvider implements the StorageProvider interface using in-memory storage
type MemoryProvider struct {
	flowStore    *MemoryFlowStore
	accountStore *MemoryAccountStore
}

// NewMemoryProvider creates a new in-memory storage provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		flowStore:    NewMemoryFlowStore(),
		accountStore: NewMemoryAccountStore(),
	}
}

// Initialize sets up the storage backend
func (p *MemoryProvider) Initialize() error {
	// Nothing to initialize for in-memory storage
	return nil
}

// Close cleans up resources
func (p *MemoryProvider) Close() error {
	return nil
}

// GetFlowStore returns a store for flow definitions
func (p *MemoryProvider) GetFlowStore() FlowStore {
	return p.flowStore
}

// GetAccountStore returns a store for account data
func (p *MemoryProvider) GetAccountStore() AccountStore {
	return p.accountStore
}

// MemoryFlowStore implements the FlowStore interface using in-memory storage.
// Each user's flows are kept in insertion order, which is creation order.
type MemoryFlowStore struct {
	flows map[string]map[string]FlowRecord
	order map[string][]string
	mu    sync.RWMutex
}

// NewMemoryFlowStore creates a new in-memory flow store
func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{
		flows: make(map[string]map[string]FlowRecord),
		order: make(map[string][]string),
	}
}

// SaveFlow persists a flow
func (s *MemoryFlowStore) SaveFlow(flow FlowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userFlows, ok := s.flows[flow.Username]
	if !ok {
		userFlows = make(map[string]FlowRecord)
		s.flows[flow.Username] = userFlows
	}

	if existing, ok := userFlows[flow.ID]; ok {
		flow.CreatedAt = existing.CreatedAt
	} else {
		s.order[flow.Username] = append(s.order[flow.Username], flow.ID)
	}

	flow.Definition = append([]byte(nil), flow.Definition...)
	userFlows[flow.ID] = flow

	return nil
}

// GetFlow retrieves a flow
func (s *MemoryFlowStore) GetFlow(username, flowID string) (FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flow, ok := s.flows[username][flowID]
	if !ok {
		return FlowRecord{}, ErrFlowNotFound
	}

	flow.Definition = append([]byte(nil), flow.Definition...)
	return flow, nil
}

// ListFlows returns the user's flows in creation order
func (s *MemoryFlowStore) ListFlows(username string) ([]FlowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[username]
	flows := make([]FlowRecord, 0, len(ids))
	for _, id := range ids {
		flow := s.flows[username][id]
		flow.Definition = nil
		flows = append(flows, flow)
	}

	return flows, nil
}

// DeleteFlow removes a flow
func (s *MemoryFlowStore) DeleteFlow(username, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[username][flowID]; !ok {
		return ErrFlowNotFound
	}

	delete(s.flows[username], flowID)
	ids := s.order[username]
	for i, id := range ids {
		if id == flowID {
			s.order[username] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}

	return nil
}

// MemoryAccountStore implements the AccountStore interface using in-memory storage
type MemoryAccountStore struct {
	accounts        map[string]auth.Account
	accountsByName  map[string]string
	accountsByToken map[string]string
	mu              sync.RWMutex
}

// NewMemoryAccountStore creates a new in-memory account store
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts:        make(map[string]auth.Account),
		accountsByName:  make(map[string]string),
		accountsByToken: make(map[string]string),
	}
}

// SaveAccount persists an account
func (s *MemoryAccountStore) SaveAccount(account auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[account.ID] = account
	s.accountsByName[account.Username] = account.ID
	s.accountsByToken[account.APIToken] = account.ID

	return nil
}

// GetAccount retrieves an account
func (s *MemoryAccountStore) GetAccount(accountID string) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return auth.Account{}, ErrAccountNotFound
	}

	return account, nil
}

// GetAccountByUsername retrieves an account by username
func (s *MemoryAccountStore) GetAccountByUsername(username string) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.accountsByName[username]
	if !ok {
		return auth.Account{}, ErrAccountNotFound
	}

	return s.accounts[accountID], nil
}

// GetAccountByToken retrieves an account by API token
func (s *MemoryAccountStore) GetAccountByToken(token string) (auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accountID, ok := s.accountsByToken[token]
	if !ok {
		return auth.Account{}, ErrAccountNotFound
	}

	return s.accounts[accountID], nil
}
