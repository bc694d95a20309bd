// Package middleware provides HTTP middleware for the flowstudio API.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avnmr/ai-retail/pkg/auth"
)

// Key type for context values
type contextKey string

// Context keys
const (
	AccountIDKey contextKey = "account_id"
	UsernameKey  contextKey = "username"
)

// AuthMiddleware provides authentication middleware for HTTP handlers
type AuthMiddleware struct {
	accountService auth.AccountService
	rateLimiter    *RateLimiter
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(accountService auth.AccountService) *AuthMiddleware {
	return &AuthMiddleware{
		accountService: accountService,
		rateLimiter:    NewRateLimiter(5, 60*time.Second), // 5 failed attempts per minute
	}
}

// Authenticate is middleware that authenticates requests with HTTP Basic
// credentials or a bearer token (JWT or API token).
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS preflight carries no credentials
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		username, password, hasBasicAuth := r.BasicAuth()
		authHeader := r.Header.Get("Authorization")

		var (
			account auth.Account
			err     error
		)

		if hasBasicAuth {
			if m.rateLimiter.IsLimited(username) {
				http.Error(w, "Too many authentication attempts, please try again later", http.StatusTooManyRequests)
				return
			}

			account, err = m.accountService.Authenticate(username, password)
			if err != nil {
				m.rateLimiter.RecordAttempt(username)
				http.Error(w, "Invalid credentials", http.StatusUnauthorized)
				return
			}
		} else if strings.HasPrefix(authHeader, "Bearer ") {
			token := strings.TrimPrefix(authHeader, "Bearer ")

			tokenID := tokenKey(token)

			if m.rateLimiter.IsLimited(tokenID) {
				http.Error(w, "Too many authentication attempts, please try again later", http.StatusTooManyRequests)
				return
			}

			account, err = m.accountService.ValidateToken(token)
			if err != nil {
				m.rateLimiter.RecordAttempt(tokenID)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
		} else {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

// tokenKey is the rate limiter key of a bearer token. JWTs share their header
// prefix, so the whole token is digested and the raw token is never kept.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "token:" + hex.EncodeToString(sum[:])
}

// WithAccount stores the authenticated account's id and username in ctx
func WithAccount(ctx context.Context, account auth.Account) context.Context {
	ctx = context.WithValue(ctx, AccountIDKey, account.ID)
	return context.WithValue(ctx, UsernameKey, account.Username)
}

// GetAccountID retrieves the account ID from the request context
func GetAccountID(r *http.Request) (string, bool) {
	accountID, ok := r.Context().Value(AccountIDKey).(string)
	return accountID, ok
}

// GetUsername retrieves the authenticated username from the request context
func GetUsername(r *http.Request) (string, bool) {
	username, ok := r.Context().Value(UsernameKey).(string)
	return username, ok && username != ""
}

// RequireAccountID is middleware that ensures an account ID is present in the context
func RequireAccountID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetAccountID(r); !ok {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimiter counts failed attempts per key inside a sliding window
type RateLimiter struct {
	attempts     map[string][]time.Time
	maxAttempts  int
	windowPeriod time.Duration
	mu           sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxAttempts int, windowPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		attempts:     make(map[string][]time.Time),
		maxAttempts:  maxAttempts,
		windowPeriod: windowPeriod,
	}
}

// RecordAttempt records a failed authentication attempt
func (rl *RateLimiter) RecordAttempt(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.cleanupOldAttempts(key, now)
	rl.attempts[key] = append(rl.attempts[key], now)
}

// IsLimited checks if a key is rate limited
func (rl *RateLimiter) IsLimited(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupOldAttempts(key, time.Now())
	return len(rl.attempts[key]) >= rl.maxAttempts
}

// cleanupOldAttempts removes attempts outside the window period
func (rl *RateLimiter) cleanupOldAttempts(key string, now time.Time) {
	cutoff := now.Add(-rl.windowPeriod)
	attempts := rl.attempts[key]

	i := 0
	for ; i < len(attempts); i++ {
		if attempts[i].After(cutoff) {
			break
		}
	}

	switch {
	case i == len(attempts):
		delete(rl.attempts, key)
	case i > 0:
		rl.attempts[key] = attempts[i:]
	}
}
