package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/r3labs/sse/v2"

	"github.com/avnmr/ai-retail/pkg/models"
)

// EventHandler receives flow events in arrival order
type EventHandler func(models.FlowEvent)

// SubscribeSSE streams the caller's flow events from /api/flows/events until
// ctx is done. Dropped connections are re-established with exponential backoff.
func (c *Client) SubscribeSSE(ctx context.Context, handler EventHandler) error {
	// Fail fast on bad credentials; the stream itself would keep retrying
	if _, err := c.Me(ctx); err != nil {
		return err
	}

	sc := sse.NewClient(c.baseURL + "/api/flows/events")
	header := http.Header{}
	c.authorize(header)
	for key := range header {
		sc.Headers[key] = header.Get(key)
	}

	reconnect := backoff.NewExponentialBackOff()
	reconnect.MaxInterval = 30 * time.Second
	reconnect.MaxElapsedTime = 0
	sc.ReconnectStrategy = backoff.WithContext(reconnect, ctx)
	sc.OnDisconnect(func(*sse.Client) {
		c.logger.Warn("flow event stream disconnected, reconnecting")
	})

	for {
		err := sc.SubscribeWithContext(ctx, "", func(msg *sse.Event) {
			c.dispatch(msg.Data, handler)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("flow event stream failed: %w", err)
		}

		// The server ended the stream cleanly, e.g. on restart
		c.logger.Info("flow event stream closed by server, resubscribing")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}

// SubscribeWebSocket streams the caller's flow events from /api/ws until ctx
// is done or the connection drops
func (c *Client) SubscribeWebSocket(ctx context.Context, handler EventHandler) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/api/ws"
	header := http.Header{}
	c.authorize(header)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("failed to connect websocket: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("websocket closed by server: %w", err)
			}
			return fmt.Errorf("websocket read failed: %w", err)
		}
		c.dispatch(data, handler)
	}
}

// dispatch decodes a flow event and hands it over; other frames are skipped
func (c *Client) dispatch(data []byte, handler EventHandler) {
	var event models.FlowEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Warn("ignoring malformed flow event", "error", err)
		return
	}
	switch event.Type {
	case models.FlowSaved, models.FlowDeleted:
		handler(event)
	default:
		c.logger.Debug("ignoring event", "type", event.Type)
	}
}
