// Package api serves the flowstudio HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/avnmr/ai-retail/pkg/auth"
	"github.com/avnmr/ai-retail/pkg/config"
	"github.com/avnmr/ai-retail/pkg/flowise"
	"github.com/avnmr/ai-retail/pkg/logging"
	"github.com/avnmr/ai-retail/pkg/middleware"
	"github.com/avnmr/ai-retail/pkg/registry"
	"github.com/avnmr/ai-retail/pkg/vectorindex"
)

// ChatService answers chat questions against a chatflow
type ChatService interface {
	Predict(ctx context.Context, req flowise.ChatRequest) (flowise.ChatResponse, error)
}

// Dependencies are the services the server routes to
type Dependencies struct {
	FlowRegistry   registry.FlowRegistry
	AccountService auth.AccountService
	Indexes        vectorindex.Provider
	Chat           ChatService

	// Events and WebSocket fan flow events out; created when nil
	Events    *EventBroker
	WebSocket *WebSocketManager

	Logger *slog.Logger
}

// Server represents the HTTP API server
type Server struct {
	config         *config.Config
	router         *mux.Router
	server         *http.Server
	flowRegistry   registry.FlowRegistry
	accountService auth.AccountService
	indexes        vectorindex.Provider
	chat           ChatService
	events         *EventBroker
	ws             *WebSocketManager
	logger         *slog.Logger
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	logger := logging.OrDiscard(deps.Logger)
	s := &Server{
		config:         cfg,
		router:         mux.NewRouter(),
		flowRegistry:   deps.FlowRegistry,
		accountService: deps.AccountService,
		indexes:        deps.Indexes,
		chat:           deps.Chat,
		events:         deps.Events,
		ws:             deps.WebSocket,
		logger:         logger,
	}
	if s.events == nil {
		s.events = NewEventBroker(logger)
	}
	if s.ws == nil {
		s.ws = NewWebSocketManager(logger)
	}

	s.setupRoutes()
	return s
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Chat proxying waits on the model; streams clear their own deadline
		WriteTimeout: s.config.Chat.Timeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", addr, "tls", s.config.Server.TLS.Enabled)

	var err error
	if s.config.Server.TLS.Enabled {
		err = s.server.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	} else {
		err = s.server.ListenAndServe()
	}

	// If the server was shut down gracefully, this error is expected
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes event streams and shuts the HTTP server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.events.Close()
	s.ws.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	authMiddleware := middleware.NewAuthMiddleware(s.accountService)

	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(middleware.CORS)

	api := s.router.PathPrefix("/api").Subrouter()

	// Public routes (no authentication required)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/accounts", s.handleCreateAccount).Methods(http.MethodPost, http.MethodOptions)

	// Authenticated routes
	authenticated := api.PathPrefix("").Subrouter()
	authenticated.Use(authMiddleware.Authenticate)

	authenticated.HandleFunc("/accounts/me", s.handleGetCurrentAccount).Methods(http.MethodGet, http.MethodOptions)

	// Flow routes; events must be registered before {id}
	flows := authenticated.PathPrefix("/flows").Subrouter()
	flows.HandleFunc("", s.handleListFlows).Methods(http.MethodGet, http.MethodOptions)
	flows.HandleFunc("", s.handleCreateFlow).Methods(http.MethodPost, http.MethodOptions)
	flows.HandleFunc("/events", s.handleFlowEvents).Methods(http.MethodGet, http.MethodOptions)
	flows.HandleFunc("/{id}", s.handleGetFlow).Methods(http.MethodGet, http.MethodOptions)
	flows.HandleFunc("/{id}", s.handleUpdateFlow).Methods(http.MethodPut, http.MethodOptions)
	flows.HandleFunc("/{id}", s.handleDeleteFlow).Methods(http.MethodDelete, http.MethodOptions)

	authenticated.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)

	// Vector index routes
	authenticated.HandleFunc("/pinecone", s.handleListIndexes).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/pinecone/create-index", s.handleCreateIndex).Methods(http.MethodPost, http.MethodOptions)

	authenticated.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost, http.MethodOptions)
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeJSONError writes {"message": ...} bodies for clients that report the message
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// caller returns the authenticated username or writes 401
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, ok := middleware.GetUsername(r)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
	}
	return username, ok
}
