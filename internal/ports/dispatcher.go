package ports

import (
	"context"

	"github.com/bnema/botkeeper/internal/domain"
)

// EventDispatcher routes inbound events to registered commands. Dispatch must
// return quickly or hand the work off.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event domain.Event)
	Close()
}
