package domain

// ListenerID identifies one realtime connection. IDs are time-ordered and
// unique across rotations.
type ListenerID string

type ListenerState string

const (
	ListenerStateNone     ListenerState = "no_listener"
	ListenerStateActive   ListenerState = "active"
	ListenerStateRotating ListenerState = "rotating"
	ListenerStateStopped  ListenerState = "stopped"
)

// LoginOptions are platform-specific login settings passed through verbatim.
type LoginOptions map[string]any
