// Package registry provides functionality for managing flow definitions.
package registry

import (
	"log/slog"
	"time"

	"github.com/avnmr/ai-retail/pkg/models"
)

// FlowRegistry manages a user's flow definitions
type FlowRegistry interface {
	// Create stores a new flow definition
	Create(username string, input models.FlowInput) (models.Flow, error)

	// Get retrieves a flow including its definition
	Get(username, id string) (models.Flow, error)

	// List returns the user's flows in creation order
	List(username string) ([]models.FlowSummary, error)

	// Update replaces the name, description and definition of a flow
	Update(username, id string, input models.FlowInput) (models.Flow, error)

	// Delete removes a flow
	Delete(username, id string) error
}

// EventPublisher fans flow events out to a user's subscribers
type EventPublisher interface {
	PublishFlowEvent(username string, event models.FlowEvent)
}

// FlowRegistryOptions configures a FlowRegistryService
type FlowRegistryOptions struct {
	// Publishers receive an event after every successful mutation
	Publishers []EventPublisher

	// Logger defaults to a discarding logger
	Logger *slog.Logger

	// Now defaults to time.Now
	Now func() time.Time

	// NewID defaults to a random UUID
	NewID func() string
}
