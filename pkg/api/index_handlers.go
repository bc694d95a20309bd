package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/avnmr/ai-retail/pkg/flowise"
	"github.com/avnmr/ai-retail/pkg/vectorindex"
)

// handleListIndexes handles GET /api/pinecone
func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	list, err := s.indexes.ListIndexes(r.Context())
	if err != nil {
		s.logger.Error("failed to list indexes", "error", err)
		writeJSONError(w, providerStatus(err), "Failed to list indexes")
		return
	}
	if list.Indexes == nil {
		list.Indexes = []vectorindex.Index{}
	}

	writeJSON(w, http.StatusOK, list)
}

// handleCreateIndex handles POST /api/pinecone/create-index.
// Callers may only create their own index.
func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	username, ok := caller(w, r)
	if !ok {
		return
	}

	var req vectorindex.CreateIndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.IndexName != vectorindex.IndexName(username) {
		writeJSONError(w, http.StatusForbidden, "Index name must be "+vectorindex.IndexName(username))
		return
	}

	idx, err := s.indexes.CreateIndex(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, idx)
	case errors.Is(err, vectorindex.ErrIndexExists):
		writeJSONError(w, http.StatusConflict, "Index already exists")
	case errors.Is(err, vectorindex.ErrProvisioning):
		writeJSONError(w, http.StatusConflict, "Index is being provisioned")
	case errors.Is(err, vectorindex.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("failed to create index", "index", req.IndexName, "error", err)
		var perr *vectorindex.ProviderError
		if errors.As(err, &perr) {
			writeJSONError(w, providerStatus(err), perr.Message)
			return
		}
		writeJSONError(w, http.StatusBadGateway, "Failed to create index")
	}
}

// providerStatus passes 4xx and 5xx provider statuses through; transport failures are 502
func providerStatus(err error) int {
	var perr *vectorindex.ProviderError
	if errors.As(err, &perr) && perr.StatusCode >= 400 {
		return perr.StatusCode
	}
	return http.StatusBadGateway
}

// handleChat handles POST /api/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		http.Error(w, "Chat is not configured", http.StatusServiceUnavailable)
		return
	}

	var req flowise.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := s.chat.Predict(r.Context(), req)
	if err != nil {
		if errors.Is(err, flowise.ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("chat prediction failed", "chatflow_id", req.ChatflowID, "error", err)
		http.Error(w, "Chat backend error", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
