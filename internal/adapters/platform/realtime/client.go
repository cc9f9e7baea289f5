package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultPingInterval   = 30 * time.Second

	ListenerIDHeader = "X-Listener-ID"

	maxErrorBody = 4 << 10
)

type Options struct {
	// BaseURL serves /login and /messages.
	BaseURL string
	// RealtimeURL is the websocket endpoint. Defaults to BaseURL with a ws
	// scheme and the /realtime path.
	RealtimeURL    string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	// PingInterval of zero uses the default; negative disables pings.
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Client talks to the messaging platform over HTTP and a websocket.
type Client struct {
	baseURL      string
	realtimeURL  string
	http         *http.Client
	pingInterval time.Duration
	logger       *slog.Logger
}

var _ ports.Platform = (*Client)(nil)

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("invalid platform base url %q", opts.BaseURL)
	}

	realtimeURL := strings.TrimSpace(opts.RealtimeURL)
	if realtimeURL == "" {
		ws := *parsed
		ws.Scheme = "ws"
		if parsed.Scheme == "https" {
			ws.Scheme = "wss"
		}
		ws.Path = strings.TrimRight(ws.Path, "/") + "/realtime"
		realtimeURL = ws.String()
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	pingInterval := opts.PingInterval
	if pingInterval == 0 {
		pingInterval = DefaultPingInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:      baseURL,
		realtimeURL:  realtimeURL,
		http:         httpClient,
		pingInterval: pingInterval,
		logger:       logger,
	}, nil
}

type loginRequest struct {
	State   domain.SessionState `json:"state"`
	Options domain.LoginOptions `json:"options,omitempty"`
}

type loginResponse struct {
	UserID string              `json:"user_id"`
	State  domain.SessionState `json:"state,omitempty"`
}

func (c *Client) Login(ctx context.Context, state domain.SessionState, opts domain.LoginOptions) (ports.PlatformSession, error) {
	body, status, err := c.postJSON(ctx, "/login", state, loginRequest{State: state, Options: opts})
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, fmt.Errorf("login http %d: %w", status, ports.ErrInvalidSession)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("login http %d: %s", status, strings.TrimSpace(string(body)))
	}

	var out loginResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}
	if strings.TrimSpace(out.UserID) == "" {
		return nil, errors.New("login response has no user id")
	}

	next := state.Clone()
	if len(out.State) > 0 {
		if err := out.State.Validate(); err != nil {
			return nil, fmt.Errorf("login returned invalid state: %w", err)
		}
		next = out.State
	}

	return &Session{client: c, userID: strings.TrimSpace(out.UserID), state: next}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, state domain.SessionState, payload any) ([]byte, int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie := cookieHeader(state); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	limit := int64(-1)
	if resp.StatusCode >= 300 {
		limit = maxErrorBody
	}
	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// cookieHeader renders the session state as a Cookie header value.
func cookieHeader(state domain.SessionState) string {
	parts := make([]string, 0, len(state))
	for _, entry := range state {
		if entry.Key == "" {
			continue
		}
		parts = append(parts, entry.Key+"="+entry.Value)
	}
	return strings.Join(parts, "; ")
}
