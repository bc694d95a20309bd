package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/avnmr/ai-retail/pkg/auth"
)

// PostgreSQLProvider implements the StorageProvider interface using PostgreSQL
type PostgreSQLProvider struct {
	db           *sql.DB
	flowStore    *PostgreSQLFlowStore
	accountStore *PostgreSQLAccountStore
}

// PostgreSQLProviderConfig contains configuration for the PostgreSQL provider
type PostgreSQLProviderConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnString builds the lib/pq connection string
func (c PostgreSQLProviderConfig) ConnString() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.User, c.Password, c.Database, sslMode,
	)
}

// NewPostgreSQLProvider creates a new PostgreSQL storage provider
func NewPostgreSQLProvider(config PostgreSQLProviderConfig) (*PostgreSQLProvider, error) {
	db, err := sql.Open("postgres", config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return NewPostgreSQLProviderWithDB(db), nil
}

// NewPostgreSQLProviderWithDB creates a provider over an open database handle
func NewPostgreSQLProviderWithDB(db *sql.DB) *PostgreSQLProvider {
	return &PostgreSQLProvider{
		db:           db,
		flowStore:    NewPostgreSQLFlowStore(db),
		accountStore: NewPostgreSQLAccountStore(db),
	}
}

// Initialize sets up the storage backend
func (p *PostgreSQLProvider) Initialize() error {
	if err := p.flowStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize flow store: %w", err)
	}

	if err := p.accountStore.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize account store: %w", err)
	}

	return nil
}

// Close cleans up resources
func (p *PostgreSQLProvider) Close() error {
	return p.db.Close()
}

// GetFlowStore returns a store for flow definitions
func (p *PostgreSQLProvider) GetFlowStore() FlowStore {
	return p.flowStore
}

// GetAccountStore returns a store for account data
func (p *PostgreSQLProvider) GetAccountStore() AccountStore {
	return p.accountStore
}

// PostgreSQLFlowStore implements the FlowStore interface using PostgreSQL
type PostgreSQLFlowStore struct {
	db *sql.DB
}

// NewPostgreSQLFlowStore creates a new PostgreSQL flow store
func NewPostgreSQLFlowStore(db *sql.DB) *PostgreSQLFlowStore {
	return &PostgreSQLFlowStore{
		db: db,
	}
}

// Initialize creates the PostgreSQL tables if they don't exist
func (s *PostgreSQLFlowStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS flows (
			flow_id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			definition JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS flows_username_created_idx ON flows (username, created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create flows table: %w", err)
	}

	return nil
}

// SaveFlow inserts a flow or updates it in place, keeping created_at
func (s *PostgreSQLFlowStore) SaveFlow(flow FlowRecord) error {
	var definition interface{}
	if len(flow.Definition) > 0 {
		definition = string(flow.Definition)
	}

	_, err := s.db.Exec(`
		INSERT INTO flows (flow_id, username, name, description, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (flow_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			definition = EXCLUDED.definition,
			updated_at = EXCLUDED.updated_at
		WHERE flows.username = EXCLUDED.username`,
		flow.ID, flow.Username, flow.Name, flow.Description, definition, flow.CreatedAt, flow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	return nil
}

// GetFlow retrieves a flow
func (s *PostgreSQLFlowStore) GetFlow(username, flowID string) (FlowRecord, error) {
	var (
		flow       FlowRecord
		definition []byte
	)
	err := s.db.QueryRow(
		"SELECT flow_id, username, name, description, definition, created_at, updated_at FROM flows WHERE username = $1 AND flow_id = $2",
		username, flowID,
	).Scan(&flow.ID, &flow.Username, &flow.Name, &flow.Description, &definition, &flow.CreatedAt, &flow.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FlowRecord{}, ErrFlowNotFound
		}
		return FlowRecord{}, fmt.Errorf("failed to get flow: %w", err)
	}

	flow.Definition = definition
	return flow, nil
}

// ListFlows returns the user's flows in creation order
func (s *PostgreSQLFlowStore) ListFlows(username string) ([]FlowRecord, error) {
	rows, err := s.db.Query(
		"SELECT flow_id, username, name, description, created_at, updated_at FROM flows WHERE username = $1 ORDER BY created_at, flow_id",
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	flows := []FlowRecord{}
	for rows.Next() {
		var flow FlowRecord
		if err := rows.Scan(&flow.ID, &flow.Username, &flow.Name, &flow.Description, &flow.CreatedAt, &flow.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		flows = append(flows, flow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flow rows: %w", err)
	}

	return flows, nil
}

// DeleteFlow removes a flow
func (s *PostgreSQLFlowStore) DeleteFlow(username, flowID string) error {
	result, err := s.db.Exec(
		"DELETE FROM flows WHERE username = $1 AND flow_id = $2",
		username, flowID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrFlowNotFound
	}

	return nil
}

// PostgreSQLAccountStore implements the AccountStore interface using PostgreSQL
type PostgreSQLAccountStore struct {
	db *sql.DB
}

// NewPostgreSQLAccountStore creates a new PostgreSQL account store
func NewPostgreSQLAccountStore(db *sql.DB) *PostgreSQLAccountStore {
	return &PostgreSQLAccountStore{
		db: db,
	}
}

// Initialize creates the PostgreSQL tables if they don't exist
func (s *PostgreSQLAccountStore) Initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			api_token TEXT UNIQUE NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create accounts table: %w", err)
	}

	return nil
}

// SaveAccount persists an account
func (s *PostgreSQLAccountStore) SaveAccount(account auth.Account) error {
	_, err := s.db.Exec(`
		INSERT INTO accounts (id, username, password_hash, api_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			api_token = EXCLUDED.api_token,
			updated_at = EXCLUDED.updated_at`,
		account.ID, account.Username, account.PasswordHash, account.APIToken, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	return nil
}

// GetAccount retrieves an account
func (s *PostgreSQLAccountStore) GetAccount(accountID string) (auth.Account, error) {
	return s.getAccountBy("id", accountID)
}

// GetAccountByUsername retrieves an account by username
func (s *PostgreSQLAccountStore) GetAccountByUsername(username string) (auth.Account, error) {
	return s.getAccountBy("username", username)
}

// GetAccountByToken retrieves an account by API token
func (s *PostgreSQLAccountStore) GetAccountByToken(token string) (auth.Account, error) {
	return s.getAccountBy("api_token", token)
}

// getAccountBy looks an account up by one of its unique columns.
// column is never user input.
func (s *PostgreSQLAccountStore) getAccountBy(column, value string) (auth.Account, error) {
	var (
		account              auth.Account
		createdAt, updatedAt time.Time
	)
	err := s.db.QueryRow(
		"SELECT id, username, password_hash, api_token, created_at, updated_at FROM accounts WHERE "+column+" = $1",
		value,
	).Scan(&account.ID, &account.Username, &account.PasswordHash, &account.APIToken, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Account{}, ErrAccountNotFound
		}
		return auth.Account{}, fmt.Errorf("failed to get account by %s: %w", column, err)
	}

	account.CreatedAt = createdAt
	account.UpdatedAt = updatedAt
	return account, nil
}
