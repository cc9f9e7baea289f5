package ports

import (
	"context"
	"errors"

	"github.com/bnema/botkeeper/internal/domain"
)

// ErrInvalidSession is returned by a Platform when the session state was
// rejected, as opposed to a transport failure.
var ErrInvalidSession = errors.New("platform rejected session state")

type Platform interface {
	Login(ctx context.Context, state domain.SessionState, opts domain.LoginOptions) (PlatformSession, error)
}

// PlatformSession is one authenticated session with the messaging platform.
type PlatformSession interface {
	CurrentUserID() string
	AppState() domain.SessionState
	// Listen opens a realtime connection. ctx bounds establishing it; the
	// connection then stays open until Stop is called or it fails.
	Listen(ctx context.Context, id domain.ListenerID, handler EventHandler) (Connection, error)
	Send(ctx context.Context, threadID string, body string) error
}

// EventHandler receives inbound events in arrival order.
type EventHandler func(event domain.Event)

// Connection is one open realtime connection.
type Connection interface {
	// Stop closes the connection. Calling it more than once is safe.
	Stop() error
	// Done is closed when the connection stopped, for whatever reason.
	Done() <-chan struct{}
}
