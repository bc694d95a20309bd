// Package client is a Go client for the flowstudio HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avnmr/ai-retail/pkg/auth"
	"github.com/avnmr/ai-retail/pkg/flowise"
	"github.com/avnmr/ai-retail/pkg/logging"
	"github.com/avnmr/ai-retail/pkg/models"
	"github.com/avnmr/ai-retail/pkg/vectorindex"
)

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an APIError
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// LoginResponse is returned by a successful login
type LoginResponse struct {
	Token     string `json:"token"`
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
}

// Client calls the flowstudio API. Credentials are a bearer token or a
// username and password; the token wins when both are set.
type Client struct {
	baseURL  string
	token    string
	username string
	password string
	http     *http.Client
	logger   *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithToken authenticates with a JWT or API token
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithBasicAuth authenticates with HTTP Basic credentials
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used by event subscriptions
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)
	return c
}

// SetToken replaces the bearer token, for example after Login
func (c *Client) SetToken(token string) {
	c.token = token
}

// Login exchanges credentials for a session token
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	var resp LoginResponse
	body := map[string]string{"username": username, "password": password}
	err := c.do(ctx, http.MethodPost, "/api/login", false, body, &resp)
	return resp, err
}

// CreateAccount registers a new account
func (c *Client) CreateAccount(ctx context.Context, username, password string) (auth.Account, error) {
	var account auth.Account
	body := map[string]string{"username": username, "password": password}
	err := c.do(ctx, http.MethodPost, "/api/accounts", false, body, &account)
	return account, err
}

// Me returns the authenticated account
func (c *Client) Me(ctx context.Context) (auth.Account, error) {
	var account auth.Account
	err := c.do(ctx, http.MethodGet, "/api/accounts/me", true, nil, &account)
	return account, err
}

// ListFlows returns the flows of username in creation order
func (c *Client) ListFlows(ctx context.Context, username string) ([]models.FlowSummary, error) {
	var flows []models.FlowSummary
	path := "/api/flows?username=" + url.QueryEscape(username)
	if err := c.do(ctx, http.MethodGet, path, true, nil, &flows); err != nil {
		return nil, err
	}
	return flows, nil
}

// GetFlow returns a flow including its definition
func (c *Client) GetFlow(ctx context.Context, id string) (models.Flow, error) {
	var flow models.Flow
	err := c.do(ctx, http.MethodGet, "/api/flows/"+url.PathEscape(id), true, nil, &flow)
	return flow, err
}

// CreateFlow stores a new flow
func (c *Client) CreateFlow(ctx context.Context, input models.FlowInput) (models.Flow, error) {
	var flow models.Flow
	err := c.do(ctx, http.MethodPost, "/api/flows", true, input, &flow)
	return flow, err
}

// UpdateFlow replaces a flow's name, description and definition
func (c *Client) UpdateFlow(ctx context.Context, id string, input models.FlowInput) (models.Flow, error) {
	var flow models.Flow
	err := c.do(ctx, http.MethodPut, "/api/flows/"+url.PathEscape(id), true, input, &flow)
	return flow, err
}

// DeleteFlow removes a flow
func (c *Client) DeleteFlow(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/flows/"+url.PathEscape(id), true, nil, nil)
}

// ListIndexes returns the vector indexes visible to the server
func (c *Client) ListIndexes(ctx context.Context) (vectorindex.IndexList, error) {
	var list vectorindex.IndexList
	err := c.do(ctx, http.MethodGet, "/api/pinecone", true, nil, &list)
	return list, err
}

// CreateIndex asks the server to create a vector index
func (c *Client) CreateIndex(ctx context.Context, req vectorindex.CreateIndexRequest) (vectorindex.Index, error) {
	var idx vectorindex.Index
	err := c.do(ctx, http.MethodPost, "/api/pinecone/create-index", true, req, &idx)
	return idx, err
}

// Chat asks a chatflow a question through the server
func (c *Client) Chat(ctx context.Context, req flowise.ChatRequest) (flowise.ChatResponse, error) {
	var resp flowise.ChatResponse
	err := c.do(ctx, http.MethodPost, "/api/chat", true, req, &resp)
	return resp, err
}

func (c *Client) authorize(header http.Header) {
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
		return
	}
	if c.username != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
		header.Set("Authorization", "Basic "+credentials)
	}
}

func (c *Client) do(ctx context.Context, method, path string, authenticated bool, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if authenticated {
		c.authorize(req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage reads {"message": ...} bodies and falls back to the plain text
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}
