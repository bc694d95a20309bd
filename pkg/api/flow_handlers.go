package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/avnmr/ai-retail/pkg/models"
	"github.com/avnmr/ai-retail/pkg/registry"
)

// handleListFlows handles GET /api/flows?username=U
func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	username, ok := caller(w, r)
	if !ok {
		return
	}

	if requested := r.URL.Query().Get("username"); requested != "" && requested != username {
		http.Error(w, "Cannot list flows of another user", http.StatusForbidden)
		return
	}

	flows, err := s.flowRegistry.List(username)
	if err != nil {
		s.logger.Error("failed to list flows", "username", username, "error", err)
		http.Error(w, "Failed to list flows", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, flows)
}

// handleCreateFlow handles POST /api/flows
func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	username, ok := caller(w, r)
	if !ok {
		return
	}

	var input models.FlowInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	flow, err := s.flowRegistry.Create(username, input)
	if err != nil {
		s.writeFlowError(w, "create", username, "", err)
		return
	}

	writeJSON(w, http.StatusCreated, flow)
}

// handleGetFlow handles GET /api/flows/{id}
func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	username, ok := caller(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	flow, err := s.flowRegistry.Get(username, id)
	if err != nil {
		s.writeFlowError(w, "get", username, id, err)
		return
	}

	writeJSON(w, http.StatusOK, flow)
}

// handleUpdateFlow handles PUT /api/flows/{id}
func (s *Server) handleUpdateFlow(w http.ResponseWriter, r *http.Request) {
	username, ok := caller(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	var input models.FlowInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	flow, err := s.flowRegistry.Update(username, id, input)
	if err != nil {
		s.writeFlowError(w, "update", username, id, err)
		return
	}

	writeJSON(w, http.StatusOK, flow)
}

// handleDeleteFlow handles DELETE /api/flows/{id}
func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	username, ok := caller(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	if err := s.flowRegistry.Delete(username, id); err != nil {
		s.writeFlowError(w, "delete", username, id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeFlowError(w http.ResponseWriter, op, username, id string, err error) {
	switch {
	case errors.Is(err, registry.ErrFlowNotFound):
		http.Error(w, "Flow not found", http.StatusNotFound)
	case errors.Is(err, registry.ErrNameRequired), errors.Is(err, registry.ErrInvalidDefinition):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("flow operation failed", "op", op, "username", username, "flow_id", id, "error", err)
		http.Error(w, "Failed to "+op+" flow", http.StatusInternalServerError)
	}
}
