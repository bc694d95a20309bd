// Package services implements account management and token issuing.
package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/avnmr/ai-retail/pkg/auth"
	"github.com/avnmr/ai-retail/pkg/storage"
)

// usernamePattern keeps usernames valid inside vector index names
// ("flowise-ai-" prefix plus at most 34 lowercase alphanumerics or hyphens).
var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,33}$`)

// AccountService implements the auth.AccountService interface
type AccountService struct {
	store storage.AccountStore
	jwt   *JWTService
}

// NewAccountService creates a new account service with the given storage backend.
// jwtService may be nil, in which case Login returns the account's API token.
func NewAccountService(store storage.AccountStore, jwtService *JWTService) *AccountService {
	return &AccountService{
		store: store,
		jwt:   jwtService,
	}
}

// Authenticate verifies credentials and returns the account
func (s *AccountService) Authenticate(username, password string) (auth.Account, error) {
	if username == "" || password == "" {
		return auth.Account{}, auth.ErrInvalidCredentials
	}

	account, err := s.store.GetAccountByUsername(username)
	if err != nil {
		return auth.Account{}, auth.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return auth.Account{}, auth.ErrInvalidCredentials
	}

	return account, nil
}

// Login verifies credentials and issues a session token
func (s *AccountService) Login(username, password string) (string, auth.Account, error) {
	account, err := s.Authenticate(username, password)
	if err != nil {
		return "", auth.Account{}, err
	}

	if s.jwt == nil {
		return account.APIToken, account, nil
	}

	token, err := s.jwt.GenerateToken(account)
	if err != nil {
		return "", auth.Account{}, err
	}

	return token, account, nil
}

// ValidateToken accepts either a JWT issued by Login or an account API token
func (s *AccountService) ValidateToken(token string) (auth.Account, error) {
	if token == "" {
		return auth.Account{}, auth.ErrInvalidToken
	}

	// JWTs always carry two dots; API tokens are hex
	if s.jwt != nil && strings.Count(token, ".") == 2 {
		claims, err := s.jwt.ValidateToken(token)
		if err != nil {
			return auth.Account{}, err
		}
		account, err := s.store.GetAccount(claims.AccountID)
		if err != nil {
			return auth.Account{}, auth.ErrInvalidToken
		}
		return account, nil
	}

	account, err := s.store.GetAccountByToken(token)
	if err != nil {
		return auth.Account{}, auth.ErrInvalidToken
	}

	return account, nil
}

// CreateAccount creates a new account
func (s *AccountService) CreateAccount(username, password string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("username and password are required")
	}

	if !usernamePattern.MatchString(username) {
		return "", fmt.Errorf("%w: %q must be lowercase letters, digits or hyphens", auth.ErrInvalidUsername, username)
	}

	_, err := s.store.GetAccountByUsername(username)
	if err == nil {
		return "", auth.ErrUsernameTaken
	}
	if !errors.Is(err, storage.ErrAccountNotFound) {
		return "", fmt.Errorf("failed to check username availability: %w", err)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	apiToken, err := generateAPIToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate API token: %w", err)
	}

	accountID := uuid.New().String()
	now := time.Now()
	account := auth.Account{
		ID:           accountID,
		Username:     username,
		PasswordHash: string(passwordHash),
		APIToken:     apiToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.SaveAccount(account); err != nil {
		return "", fmt.Errorf("failed to save account: %w", err)
	}

	return accountID, nil
}

// GetAccount retrieves account information
func (s *AccountService) GetAccount(accountID string) (auth.Account, error) {
	if accountID == "" {
		return auth.Account{}, fmt.Errorf("account ID is required")
	}

	account, err := s.store.GetAccount(accountID)
	if err != nil {
		return auth.Account{}, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// generateAPIToken generates a secure random API token
func generateAPIToken() (string, error) {
	bytes := make([]byte, 32) // 256 bits
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
