package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderError is a non-success response from the index backend
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("index provider returned %d: %s", e.StatusCode, e.Message)
}

// PineconeConfig configures the Pinecone control-plane client
type PineconeConfig struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
}

// PineconeProvider implements Provider against the Pinecone control plane
type PineconeProvider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	httpClient *http.Client
}

// NewPineconeProvider creates a Pinecone provider
func NewPineconeProvider(cfg PineconeConfig) *PineconeProvider {
	p := &PineconeProvider{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		httpClient: cfg.HTTPClient,
	}
	if p.baseURL == "" {
		p.baseURL = "https://api.pinecone.io"
	}
	if p.apiVersion == "" {
		p.apiVersion = "2024-07"
	}
	if p.httpClient == nil {
		p.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return p
}

type pineconeCreateBody struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Spec      Spec   `json:"spec"`
}

// ListIndexes returns the indexes of the project
func (p *PineconeProvider) ListIndexes(ctx context.Context) (IndexList, error) {
	var list IndexList
	if err := p.do(ctx, http.MethodGet, "/indexes", nil, &list); err != nil {
		return IndexList{}, err
	}
	return list, nil
}

// CreateIndex creates a serverless index
func (p *PineconeProvider) CreateIndex(ctx context.Context, req CreateIndexRequest) (Index, error) {
	if err := req.Validate(); err != nil {
		return Index{}, err
	}

	body := pineconeCreateBody{
		Name:      req.IndexName,
		Dimension: req.Dimension,
		Metric:    req.Metric,
		Spec:      req.Spec,
	}

	var idx Index
	if err := p.do(ctx, http.MethodPost, "/indexes", body, &idx); err != nil {
		return Index{}, err
	}
	return idx, nil
}

func (p *PineconeProvider) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Api-Key", p.apiKey)
	req.Header.Set("X-Pinecone-API-Version", p.apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("index provider request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusConflict {
		return ErrIndexExists
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ProviderError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts {"error":{"message"}} or {"message"} bodies, else the raw text
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error.Message != "" {
			return body.Error.Message
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}
