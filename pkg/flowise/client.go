// Package flowise is a client for the Flowise prediction API.
package flowise

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Message roles understood by Flowise
const (
	RoleUser = "userMessage"
	RoleAPI  = "apiMessage"
)

// ErrInvalidRequest is returned before any network call for malformed requests
var ErrInvalidRequest = errors.New("invalid chat request")

// Message is one turn of chat history
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body accepted by the chat endpoint
type ChatRequest struct {
	ChatflowID string    `json:"chatflowId"`
	Question   string    `json:"question"`
	History    []Message `json:"history,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
}

// ChatResponse is a Flowise prediction. Unknown fields are kept in Extra.
type ChatResponse struct {
	Text      string                     `json:"text"`
	ChatID    string                     `json:"chatId,omitempty"`
	SessionID string                     `json:"sessionId,omitempty"`
	Extra     map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps every field of the prediction so it can be proxied unchanged
func (r *ChatResponse) UnmarshalJSON(data []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	type plain ChatResponse
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = ChatResponse(p)

	delete(all, "text")
	delete(all, "chatId")
	delete(all, "sessionId")
	if len(all) > 0 {
		r.Extra = all
	}
	return nil
}

// MarshalJSON writes Extra fields back alongside the known ones
func (r ChatResponse) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Extra)+3)
	for k, v := range r.Extra {
		out[k] = v
	}
	out["text"] = r.Text
	if r.ChatID != "" {
		out["chatId"] = r.ChatID
	}
	if r.SessionID != "" {
		out["sessionId"] = r.SessionID
	}
	return json.Marshal(out)
}

// Error is a non-success response from Flowise
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("flowise returned %d: %s", e.StatusCode, e.Message)
}

// Client calls the Flowise prediction endpoint
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Flowise client. apiKey may be empty.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Predict sends a question to a chatflow
func (c *Client) Predict(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if req.ChatflowID == "" {
		return ChatResponse{}, fmt.Errorf("%w: chatflowId is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Question) == "" {
		return ChatResponse{}, fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}

	body := struct {
		Question  string    `json:"question"`
		History   []Message `json:"history,omitempty"`
		SessionID string    `json:"sessionId,omitempty"`
	}{req.Question, req.History, req.SessionID}

	data, err := json.Marshal(body)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to encode prediction request: %w", err)
	}

	endpoint := c.baseURL + "/api/v1/prediction/" + url.PathEscape(req.ChatflowID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("failed to read prediction response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ChatResponse{}, &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	var out ChatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return ChatResponse{}, fmt.Errorf("failed to decode prediction response: %w", err)
	}
	return out, nil
}
