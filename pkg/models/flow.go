// Package models holds the wire types shared by the API server and its clients.
package models

import (
	"encoding/json"
	"time"
)

// FlowSummary identifies a flow in list views
type FlowSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
}

// Flow is a full flow record including its definition
type Flow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Definition  json.RawMessage `json:"definition,omitempty"`
	CreatedAt   string          `json:"createdAt"`
	UpdatedAt   string          `json:"updatedAt,omitempty"`
}

// Summary returns the list view of the flow
func (f Flow) Summary() FlowSummary {
	return FlowSummary{ID: f.ID, Name: f.Name, CreatedAt: f.CreatedAt}
}

// FlowInput is the body of flow create and update requests
type FlowInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Definition  json.RawMessage `json:"definition,omitempty"`
}

// Flow event types
const (
	FlowSaved   = "flow.saved"
	FlowDeleted = "flow.deleted"
)

// FlowEvent notifies subscribers that a user's flow list changed
type FlowEvent struct {
	Type      string       `json:"type"`
	FlowID    string       `json:"flow_id"`
	Flow      *FlowSummary `json:"flow,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// TimeFormat is the layout of CreatedAt and UpdatedAt strings
const TimeFormat = time.RFC3339Nano
