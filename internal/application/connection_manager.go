package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	// DefaultRelistenDelay is the first wait before reopening a listener that
	// failed to start or was lost. Later attempts back off up to
	// maxRelistenDelay.
	DefaultRelistenDelay = 5 * time.Second

	maxRelistenDelay = time.Minute
)

// ListenerHandle identifies the active realtime connection.
type ListenerHandle struct {
	ID        domain.ListenerID
	StartedAt time.Time
}

// ConnectionManager owns the single realtime listener of a platform session.
// Start, Rotate and Stop are serialized; at most one connection is open at
// any time.
type ConnectionManager struct {
	session    ports.PlatformSession
	dispatcher ports.EventDispatcher
	clock      ports.Clock
	metrics    ports.Metrics
	logger     *slog.Logger
	newID      func() (domain.ListenerID, error)

	relistenDelay time.Duration
	onListen      func(ListenerHandle)

	mu     sync.Mutex
	state  domain.ListenerState
	handle ListenerHandle
	conn   ports.Connection

	// relistening is set while a relisten goroutine owns recovery.
	relistening bool

	// activeID is read by connection goroutines and must not wait on mu,
	// which is held while a connection is being stopped.
	idMu     sync.RWMutex
	activeID domain.ListenerID

	ctx    context.Context
	cancel context.CancelFunc
}

func NewConnectionManager(session ports.PlatformSession, dispatcher ports.EventDispatcher, clock ports.Clock, metrics ports.Metrics, logger *slog.Logger) *ConnectionManager {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionManager{
		session:    session,
		dispatcher: dispatcher,
		clock:      clock,
		metrics:    metrics,
		logger:     logger,
		newID:      newListenerID,

		relistenDelay: DefaultRelistenDelay,

		state:  domain.ListenerStateNone,
		ctx:    ctx,
		cancel: cancel,
	}
}

// WithRelistenDelay sets the first wait before a lost or failed listener is
// reopened. A delay of zero or less turns reopening off, leaving recovery to
// the next Rotate.
func (m *ConnectionManager) WithRelistenDelay(d time.Duration) *ConnectionManager {
	m.relistenDelay = d
	return m
}

// WithListenHook registers fn to run whenever a listener is reopened in the
// background rather than by Start or Rotate. fn runs with the manager locked,
// so Stop cannot complete in between, and must not call back into it.
func (m *ConnectionManager) WithListenHook(fn func(ListenerHandle)) *ConnectionManager {
	m.onListen = fn
	return m
}

func newListenerID() (domain.ListenerID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate listener id: %w", err)
	}
	return domain.ListenerID(id.String()), nil
}

func (m *ConnectionManager) Start(ctx context.Context) (ListenerHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case domain.ListenerStateStopped:
		return ListenerHandle{}, fmt.Errorf("%w: connection manager is stopped", domain.ErrListener)
	case domain.ListenerStateActive:
		return ListenerHandle{}, fmt.Errorf("%w: listener %s is already active", domain.ErrListener, m.handle.ID)
	}

	handle, err := m.startLocked(ctx)
	if err != nil {
		m.state = domain.ListenerStateNone
		return ListenerHandle{}, err
	}

	return handle, nil
}

// Rotate replaces the active connection. The old connection is stopped before
// the new one is opened. If opening fails no listener is active afterwards
// and the manager keeps reopening one in the background until it succeeds,
// Rotate is called again, or Stop is called.
func (m *ConnectionManager) Rotate(ctx context.Context) (ListenerHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == domain.ListenerStateStopped {
		return ListenerHandle{}, fmt.Errorf("%w: connection manager is stopped", domain.ErrListener)
	}

	previous := m.handle.ID
	m.state = domain.ListenerStateRotating
	if m.conn != nil {
		if err := m.stopLocked(); err != nil {
			m.logger.Warn("listener_stop_failed", "listener_id", previous, "error", err)
		}
	}

	handle, err := m.startLocked(ctx)
	if err != nil {
		m.state = domain.ListenerStateNone
		m.metrics.Rotation(err)
		m.logger.Error("listener_rotation_failed", "previous_listener_id", previous, "error", err)
		if ctx.Err() == nil {
			m.relistenLocked()
		}
		return ListenerHandle{}, err
	}

	m.metrics.Rotation(nil)
	m.logger.Info("listener_rotated", "previous_listener_id", previous, "listener_id", handle.ID)
	return handle, nil
}

// Stop closes the active connection and refuses further starts. Calling it
// again is a no-op.
func (m *ConnectionManager) Stop() error {
	// Cancel first so a background reopen blocked in Listen lets go of mu.
	m.cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == domain.ListenerStateStopped {
		return nil
	}

	var err error
	if m.conn != nil {
		err = m.stopLocked()
	}
	m.state = domain.ListenerStateStopped

	if err != nil {
		return fmt.Errorf("%w: stop listener: %w", domain.ErrListener, err)
	}
	return nil
}

// Active returns the active listener, if any.
func (m *ConnectionManager) Active() (ListenerHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != domain.ListenerStateActive {
		return ListenerHandle{}, false
	}
	return m.handle, true
}

func (m *ConnectionManager) State() domain.ListenerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnectionManager) startLocked(ctx context.Context) (ListenerHandle, error) {
	id, err := m.newID()
	if err != nil {
		return ListenerHandle{}, fmt.Errorf("%w: %w", domain.ErrListener, err)
	}

	m.setActiveID(id)
	conn, err := m.session.Listen(ctx, id, m.handlerFor(id))
	if err == nil && conn == nil {
		err = errors.New("platform returned no connection")
	}
	if err != nil {
		m.setActiveID("")
		return ListenerHandle{}, fmt.Errorf("%w: start listener %s: %w", domain.ErrListener, id, err)
	}

	m.conn = conn
	m.handle = ListenerHandle{ID: id, StartedAt: m.clock.Now()}
	m.state = domain.ListenerStateActive
	m.metrics.ListenerStarted()
	m.logger.Info("listener_started", "listener_id", id)

	go m.watch(id, conn)
	return m.handle, nil
}

func (m *ConnectionManager) stopLocked() error {
	id := m.handle.ID
	m.setActiveID("")
	err := m.conn.Stop()
	m.conn = nil
	m.handle = ListenerHandle{}
	m.metrics.ListenerStopped()
	m.logger.Info("listener_stopped", "listener_id", id)
	return err
}

// watch notices connections that end without Stop being called.
func (m *ConnectionManager) watch(id domain.ListenerID, conn ports.Connection) {
	<-conn.Done()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != conn {
		return
	}
	m.setActiveID("")
	m.conn = nil
	m.handle = ListenerHandle{}
	m.state = domain.ListenerStateNone
	m.metrics.ListenerStopped()
	m.logger.Warn("listener_lost", "listener_id", id)
	m.relistenLocked()
}

// relistenLocked starts the background recovery unless one is already running.
func (m *ConnectionManager) relistenLocked() {
	if m.relistenDelay <= 0 || m.relistening || m.state == domain.ListenerStateStopped {
		return
	}
	m.relistening = true
	go m.relisten()
}

// relisten reopens the listener on an exponential schedule. Each attempt holds
// mu, so it never overlaps Start, Rotate or Stop. The loop ends as soon as a
// listener is active, whoever opened it, and Stop cancels the wait.
func (m *ConnectionManager) relisten() {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.relistenDelay
	policy.MaxInterval = max(maxRelistenDelay, m.relistenDelay)
	policy.RandomizationFactor = 0.2
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		m.mu.Lock()
		defer m.mu.Unlock()

		switch m.state {
		case domain.ListenerStateStopped:
			m.relistening = false
			return backoff.Permanent(fmt.Errorf("%w: connection manager is stopped", domain.ErrListener))
		case domain.ListenerStateActive, domain.ListenerStateRotating:
			m.relistening = false
			return nil
		}

		attempt++
		handle, err := m.startLocked(m.ctx)
		if err != nil {
			m.state = domain.ListenerStateNone
			return err
		}
		m.relistening = false
		m.logger.Info("listener_reopened", "listener_id", handle.ID, "attempt", attempt)
		if m.onListen != nil {
			m.onListen(handle)
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		m.logger.Warn("listener_reopen_failed", "attempt", attempt, "retry_in", next, "error", err)
	}

	// The first attempt runs only after the initial delay.
	first := time.NewTimer(m.relistenDelay)
	defer first.Stop()
	select {
	case <-first.C:
	case <-m.ctx.Done():
		return
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, m.ctx), notify); err != nil {
		m.logger.Debug("listener_reopen_abandoned", "error", err)
	}
}

func (m *ConnectionManager) handlerFor(id domain.ListenerID) ports.EventHandler {
	return func(event domain.Event) {
		if event.ListenerID == "" {
			event.ListenerID = id
		}

		active := m.currentID()
		if active == "" || event.ListenerID != active || id != active {
			m.metrics.LateEventDropped()
			m.logger.Debug("late_event_dropped", "listener_id", event.ListenerID, "active_listener_id", active)
			return
		}

		m.dispatcher.Dispatch(m.ctx, event)
		m.metrics.EventForwarded()
	}
}

func (m *ConnectionManager) setActiveID(id domain.ListenerID) {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	m.activeID = id
}

func (m *ConnectionManager) currentID() domain.ListenerID {
	m.idMu.RLock()
	defer m.idMu.RUnlock()
	return m.activeID
}
