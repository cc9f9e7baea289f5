package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
	"github.com/gorilla/websocket"
)

const closeWriteTimeout = time.Second

type frame struct {
	Type      string              `json:"type"`
	ThreadID  string              `json:"thread_id,omitempty"`
	SenderID  string              `json:"sender_id,omitempty"`
	MessageID string              `json:"message_id,omitempty"`
	Body      string              `json:"body,omitempty"`
	State     domain.SessionState `json:"state,omitempty"`
}

// connection is one realtime websocket. A single goroutine reads frames and
// calls the handler, so events are delivered in arrival order.
type connection struct {
	ws      *websocket.Conn
	id      domain.ListenerID
	session *Session
	handler ports.EventHandler
	logger  *slog.Logger

	stopOnce sync.Once
	stopping chan struct{}
	done     chan struct{}
}

var _ ports.Connection = (*connection)(nil)

func newConnection(ws *websocket.Conn, id domain.ListenerID, session *Session, handler ports.EventHandler, pingInterval time.Duration, logger *slog.Logger) *connection {
	c := &connection{
		ws:       ws,
		id:       id,
		session:  session,
		handler:  handler,
		logger:   logger,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}

	if pingInterval > 0 {
		wait := 2 * pingInterval
		_ = ws.SetReadDeadline(time.Now().Add(wait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wait))
		})
		go c.pingLoop(pingInterval)
	}
	go c.readLoop(pingInterval)
	return c
}

func (c *connection) Done() <-chan struct{} {
	return c.done
}

// Stop closes the socket and waits for the read loop to exit, so the handler
// is never called after Stop returns.
func (c *connection) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopping)
		select {
		case <-c.done:
			return
		default:
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		if closeErr := c.ws.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = closeErr
		}
	})
	<-c.done
	return err
}

func (c *connection) readLoop(pingInterval time.Duration) {
	defer close(c.done)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.stopping:
			default:
				c.logger.Warn("realtime_read_error", "listener_id", c.id, "error", err)
				_ = c.ws.Close()
			}
			return
		}
		if pingInterval > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(2 * pingInterval))
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.logger.Warn("realtime_frame_invalid", "listener_id", c.id, "error", err)
			continue
		}

		switch domain.EventType(f.Type) {
		case domain.EventTypeMessage, domain.EventTypeReaction, domain.EventTypeEvent:
			c.handler(domain.Event{
				ListenerID: c.id,
				Type:       domain.EventType(f.Type),
				ThreadID:   f.ThreadID,
				SenderID:   f.SenderID,
				MessageID:  f.MessageID,
				Body:       f.Body,
				ReceivedAt: time.Now(),
				Raw:        json.RawMessage(raw),
			})
		default:
			if f.Type == "state" {
				if !c.session.replaceState(f.State) {
					c.logger.Warn("realtime_state_rejected", "listener_id", c.id)
				}
				continue
			}
			c.logger.Debug("realtime_frame_ignored", "listener_id", c.id, "type", f.Type)
		}
	}
}

func (c *connection) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeWriteTimeout)); err != nil {
				c.logger.Debug("realtime_ping_failed", "listener_id", c.id, "error", err)
			}
		}
	}
}
