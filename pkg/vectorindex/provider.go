// Package vectorindex manages the per-user vector indexes that back flow retrieval.
//
// A Provider talks to the index backend (Pinecone or memory). A Provisioner wraps a
// Provider and serialises creation of one index name across processes with a lock.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned by providers and the provisioner
var (
	// ErrIndexExists is returned when the index name is already taken
	ErrIndexExists = errors.New("index already exists")

	// ErrProvisioning is returned while another request is creating the same index
	ErrProvisioning = errors.New("index is being provisioned")

	// ErrInvalidRequest is returned for malformed create requests
	ErrInvalidRequest = errors.New("invalid create index request")
)

// IndexPrefix prefixes every per-user index name
const IndexPrefix = "flowise-ai-"

// Index creation defaults
const (
	DefaultDimension = 1536
	DefaultMetric    = "cosine"
	DefaultCloud     = "aws"
	DefaultRegion    = "us-east-1"
)

// IndexName returns the name of the user's vector index
func IndexName(username string) string {
	return IndexPrefix + username
}

// Index describes an existing vector index
type Index struct {
	Name      string       `json:"name"`
	Dimension int          `json:"dimension"`
	Metric    string       `json:"metric"`
	Host      string       `json:"host,omitempty"`
	Status    *IndexStatus `json:"status,omitempty"`
}

// IndexStatus is the readiness of an index
type IndexStatus struct {
	Ready bool   `json:"ready"`
	State string `json:"state"`
}

// IndexList is the body of an index listing
type IndexList struct {
	Indexes []Index `json:"indexes"`
}

// Contains reports whether an index with the given name is listed
func (l IndexList) Contains(name string) bool {
	for _, idx := range l.Indexes {
		if idx.Name == name {
			return true
		}
	}
	return false
}

// CreateIndexRequest asks for a new serverless index
type CreateIndexRequest struct {
	IndexName string `json:"indexName"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Spec      Spec   `json:"spec"`
}

// Spec places an index
type Spec struct {
	Serverless *ServerlessSpec `json:"serverless,omitempty"`
}

// ServerlessSpec places a serverless index in a cloud region
type ServerlessSpec struct {
	Cloud  string `json:"cloud"`
	Region string `json:"region"`
}

// NewCreateIndexRequest builds the default request for a user's index
func NewCreateIndexRequest(username string) CreateIndexRequest {
	return CreateIndexRequest{
		IndexName: IndexName(username),
		Dimension: DefaultDimension,
		Metric:    DefaultMetric,
		Spec: Spec{
			Serverless: &ServerlessSpec{Cloud: DefaultCloud, Region: DefaultRegion},
		},
	}
}

// Validate checks the request fields
func (r CreateIndexRequest) Validate() error {
	switch {
	case r.IndexName == "":
		return fmt.Errorf("%w: indexName is required", ErrInvalidRequest)
	case r.Dimension <= 0:
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidRequest)
	case r.Metric == "":
		return fmt.Errorf("%w: metric is required", ErrInvalidRequest)
	case r.Spec.Serverless == nil || r.Spec.Serverless.Cloud == "" || r.Spec.Serverless.Region == "":
		return fmt.Errorf("%w: serverless cloud and region are required", ErrInvalidRequest)
	}
	return nil
}

// Provider is a vector index backend
type Provider interface {
	// ListIndexes returns every index visible to the API key
	ListIndexes(ctx context.Context) (IndexList, error)

	// CreateIndex creates an index; ErrIndexExists when the name is taken
	CreateIndex(ctx context.Context, req CreateIndexRequest) (Index, error)
}
