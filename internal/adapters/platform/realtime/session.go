package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
	"github.com/gorilla/websocket"
)

// Session is an authenticated platform session. The app state it holds is
// replaced wholesale when the platform pushes a state frame.
type Session struct {
	client *Client
	userID string

	mu    sync.RWMutex
	state domain.SessionState
}

var _ ports.PlatformSession = (*Session)(nil)

func (s *Session) CurrentUserID() string {
	return s.userID
}

func (s *Session) AppState() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

func (s *Session) replaceState(state domain.SessionState) bool {
	if err := state.Validate(); err != nil {
		return false
	}
	s.mu.Lock()
	s.state = state.Clone()
	s.mu.Unlock()
	return true
}

type sendRequest struct {
	ThreadID string `json:"thread_id"`
	Body     string `json:"body"`
}

func (s *Session) Send(ctx context.Context, threadID string, body string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return errors.New("thread id is required")
	}

	raw, status, err := s.client.postJSON(ctx, "/messages", s.AppState(), sendRequest{ThreadID: threadID, Body: body})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("send message http %d: %w", status, ports.ErrInvalidSession)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("send message http %d: %s", status, strings.TrimSpace(string(raw)))
	}
	return nil
}

func (s *Session) Listen(ctx context.Context, id domain.ListenerID, handler ports.EventHandler) (ports.Connection, error) {
	if handler == nil {
		return nil, errors.New("listen requires an event handler")
	}

	header := http.Header{}
	header.Set(ListenerIDHeader, string(id))
	if cookie := cookieHeader(s.AppState()); cookie != "" {
		header.Set("Cookie", cookie)
	}

	dialer := *websocket.DefaultDialer
	conn, resp, err := dialer.DialContext(ctx, s.client.realtimeURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("realtime http %d: %w", resp.StatusCode, ports.ErrInvalidSession)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	c := newConnection(conn, id, s, handler, s.client.pingInterval, s.client.logger)
	s.client.logger.Debug("realtime_connected", "listener_id", id)
	return c, nil
}
