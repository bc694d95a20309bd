package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avnmr/ai-retail/pkg/loader"
	"github.com/avnmr/ai-retail/pkg/logging"
	"github.com/avnmr/ai-retail/pkg/models"
	"github.com/avnmr/ai-retail/pkg/storage"
)

// Errors returned by the flow registry
var (
	ErrFlowNotFound      = errors.New("flow not found")
	ErrInvalidDefinition = loader.ErrInvalidDefinition
	ErrNameRequired      = errors.New("flow name is required")
)

// FlowRegistryService implements the FlowRegistry interface
type FlowRegistryService struct {
	flowStore  storage.FlowStore
	publishers []EventPublisher
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

// NewFlowRegistry creates a new flow registry service
func NewFlowRegistry(flowStore storage.FlowStore, options FlowRegistryOptions) *FlowRegistryService {
	r := &FlowRegistryService{
		flowStore:  flowStore,
		publishers: options.Publishers,
		logger:     logging.OrDiscard(options.Logger),
		now:        options.Now,
		newID:      options.NewID,
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = func() string { return uuid.New().String() }
	}
	return r
}

// Create stores a new flow definition
func (r *FlowRegistryService) Create(username string, input models.FlowInput) (models.Flow, error) {
	record, err := r.prepare(input)
	if err != nil {
		return models.Flow{}, err
	}

	now := r.now().UTC()
	record.ID = r.newID()
	record.Username = username
	record.CreatedAt = now
	record.UpdatedAt = now

	if err := r.flowStore.SaveFlow(record); err != nil {
		return models.Flow{}, fmt.Errorf("failed to save flow: %w", err)
	}

	flow := toFlow(record)
	r.publish(username, models.FlowSaved, flow)
	return flow, nil
}

// Get retrieves a flow including its definition
func (r *FlowRegistryService) Get(username, id string) (models.Flow, error) {
	record, err := r.flowStore.GetFlow(username, id)
	if err != nil {
		return models.Flow{}, mapStoreError("failed to get flow", err)
	}

	return toFlow(record), nil
}

// List returns the user's flows in creation order
func (r *FlowRegistryService) List(username string) ([]models.FlowSummary, error) {
	records, err := r.flowStore.ListFlows(username)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	summaries := make([]models.FlowSummary, len(records))
	for i, record := range records {
		summaries[i] = toFlow(record).Summary()
	}

	return summaries, nil
}

// Update replaces the name, description and definition of an existing flow
func (r *FlowRegistryService) Update(username, id string, input models.FlowInput) (models.Flow, error) {
	existing, err := r.flowStore.GetFlow(username, id)
	if err != nil {
		return models.Flow{}, mapStoreError("failed to get flow", err)
	}

	record, err := r.prepare(input)
	if err != nil {
		return models.Flow{}, err
	}

	record.ID = id
	record.Username = username
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = r.now().UTC()

	if err := r.flowStore.SaveFlow(record); err != nil {
		return models.Flow{}, fmt.Errorf("failed to update flow: %w", err)
	}

	flow := toFlow(record)
	r.publish(username, models.FlowSaved, flow)
	return flow, nil
}

// Delete removes a flow
func (r *FlowRegistryService) Delete(username, id string) error {
	if err := r.flowStore.DeleteFlow(username, id); err != nil {
		return mapStoreError("failed to delete flow", err)
	}

	r.publish(username, models.FlowDeleted, models.Flow{ID: id})
	return nil
}

// prepare validates input and normalizes the definition
func (r *FlowRegistryService) prepare(input models.FlowInput) (storage.FlowRecord, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return storage.FlowRecord{}, ErrNameRequired
	}

	definition, err := loader.Normalize(input.Definition)
	if err != nil {
		return storage.FlowRecord{}, err
	}

	return storage.FlowRecord{
		Name:        name,
		Description: input.Description,
		Definition:  definition,
	}, nil
}

func (r *FlowRegistryService) publish(username, eventType string, flow models.Flow) {
	event := models.FlowEvent{
		Type:      eventType,
		FlowID:    flow.ID,
		Timestamp: r.now().UTC(),
	}
	if eventType == models.FlowSaved {
		summary := flow.Summary()
		event.Flow = &summary
	}

	r.logger.Debug("publishing flow event", "username", username, "type", eventType, "flow_id", flow.ID)
	for _, p := range r.publishers {
		p.PublishFlowEvent(username, event)
	}
}

func mapStoreError(msg string, err error) error {
	if errors.Is(err, storage.ErrFlowNotFound) {
		return ErrFlowNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func toFlow(record storage.FlowRecord) models.Flow {
	flow := models.Flow{
		ID:          record.ID,
		Name:        record.Name,
		Description: record.Description,
		Definition:  record.Definition,
		CreatedAt:   record.CreatedAt.UTC().Format(models.TimeFormat),
	}
	if !record.UpdatedAt.IsZero() {
		flow.UpdatedAt = record.UpdatedAt.UTC().Format(models.TimeFormat)
	}
	return flow
}
