package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/r3labs/sse/v2"

	"github.com/avnmr/ai-retail/pkg/logging"
	"github.com/avnmr/ai-retail/pkg/models"
)

// EventBroker serves one Server-Sent Events stream per username
type EventBroker struct {
	server *sse.Server
	logger *slog.Logger
}

// NewEventBroker creates a broker with replay disabled; subscribers only see
// events published after they connect
func NewEventBroker(logger *slog.Logger) *EventBroker {
	server := sse.New()
	server.AutoReplay = false
	return &EventBroker{
		server: server,
		logger: logging.OrDiscard(logger),
	}
}

// PublishFlowEvent sends the event to the user's stream
func (b *EventBroker) PublishFlowEvent(username string, event models.FlowEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to encode flow event", "username", username, "error", err)
		return
	}

	b.server.CreateStream(username)
	b.server.Publish(username, &sse.Event{
		Event: []byte(event.Type),
		Data:  data,
	})
}

// ServeHTTP streams the events of username until the client disconnects
func (b *EventBroker) ServeHTTP(w http.ResponseWriter, r *http.Request, username string) {
	b.server.CreateStream(username)

	// Callers may only read their own stream
	q := r.URL.Query()
	q.Set("stream", username)
	r.URL.RawQuery = q.Encode()

	// Long-lived response; lift the server write timeout
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		b.logger.Debug("could not clear write deadline", "error", err)
	}

	b.server.ServeHTTP(w, r)
}

// Close ends every open stream
func (b *EventBroker) Close() {
	b.server.Close()
}

// handleFlowEvents handles GET /api/flows/events
func (s *Server) handleFlowEvents(w http.ResponseWriter, r *http.Request) {
	username, ok := caller(w, r)
	if !ok {
		return
	}
	s.logger.Debug("flow event stream opened", "username", username)
	s.events.ServeHTTP(w, r, username)
}
