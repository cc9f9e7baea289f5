package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
	"github.com/stretchr/testify/mock"
)

func mockAnyContext() interface{} {
	return mock.Anything
}

func mockAnyBytes() interface{} {
	return mock.AnythingOfType("[]uint8")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePlatform returns queued login results in order.
type fakePlatform struct {
	mu      sync.Mutex
	results []error
	calls   int
	session *fakeSession
	states  []domain.SessionState
}

func (p *fakePlatform) Login(ctx context.Context, state domain.SessionState, _ domain.LoginOptions) (ports.PlatformSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.states = append(p.states, state)
	if len(p.results) > 0 {
		err := p.results[0]
		p.results = p.results[1:]
		if err != nil {
			return nil, err
		}
	}
	if p.session == nil {
		p.session = newFakeSession(state)
	}
	return p.session, nil
}

func (p *fakePlatform) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeSession struct {
	mu          sync.Mutex
	state       domain.SessionState
	listenErr   error
	failListens int
	listenCalls int
	listenGate  chan struct{}
	connections []*fakeConnection
}

func newFakeSession(state domain.SessionState) *fakeSession {
	return &fakeSession{state: state}
}

func (s *fakeSession) CurrentUserID() string { return "1000001" }

func (s *fakeSession) AppState() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *fakeSession) SetAppState(state domain.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *fakeSession) Listen(ctx context.Context, id domain.ListenerID, handler ports.EventHandler) (ports.Connection, error) {
	s.mu.Lock()
	s.listenCalls++
	gate := s.listenGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listenErr != nil {
		return nil, s.listenErr
	}
	if s.failListens > 0 {
		s.failListens--
		return nil, errPlatformDown
	}

	conn := &fakeConnection{id: id, handler: handler, done: make(chan struct{})}
	s.connections = append(s.connections, conn)
	return conn, nil
}

// failNextListens makes the next n Listen calls fail with errPlatformDown.
func (s *fakeSession) failNextListens(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failListens = n
}

func (s *fakeSession) ListenCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenCalls
}

func (s *fakeSession) Send(context.Context, string, string) error { return nil }

func (s *fakeSession) setListenErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenErr = err
}

func (s *fakeSession) Connections() []*fakeConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*fakeConnection, len(s.connections))
	copy(out, s.connections)
	return out
}

// OpenConnections counts connections that have not been stopped.
func (s *fakeSession) OpenConnections() int {
	count := 0
	for _, conn := range s.Connections() {
		if !conn.Stopped() {
			count++
		}
	}
	return count
}

type fakeConnection struct {
	id      domain.ListenerID
	handler ports.EventHandler
	once    sync.Once
	done    chan struct{}
	stopErr error
}

func (c *fakeConnection) Stop() error {
	c.once.Do(func() { close(c.done) })
	return c.stopErr
}

func (c *fakeConnection) Done() <-chan struct{} { return c.done }

func (c *fakeConnection) Stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConnection) Emit(event domain.Event) {
	c.handler(event)
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.Event
	closed bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event domain.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *recordingDispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func (d *recordingDispatcher) Events() []domain.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Event, len(d.events))
	copy(out, d.events)
	return out
}

func (d *recordingDispatcher) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// countingMetrics records calls in memory.
type countingMetrics struct {
	mu             sync.Mutex
	loginSuccesses int
	loginFailures  int
	started        int
	stopped        int
	rotations      int
	rotationErrors int
	checkpoints    int
	checkpointErrs int
	lateDropped    int
	forwarded      int
}

var _ ports.Metrics = (*countingMetrics)(nil)

func (m *countingMetrics) LoginAttempt(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.loginSuccesses++
		return
	}
	m.loginFailures++
}

func (m *countingMetrics) ListenerStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *countingMetrics) ListenerStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
}

func (m *countingMetrics) Rotation(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.rotationErrors++
		return
	}
	m.rotations++
}

func (m *countingMetrics) Checkpoint(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.checkpointErrs++
		return
	}
	m.checkpoints++
}

func (m *countingMetrics) LateEventDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lateDropped++
}

func (m *countingMetrics) EventForwarded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forwarded++
}

func (m *countingMetrics) snapshot() countingMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return countingMetrics{
		loginSuccesses: m.loginSuccesses,
		loginFailures:  m.loginFailures,
		started:        m.started,
		stopped:        m.stopped,
		rotations:      m.rotations,
		rotationErrors: m.rotationErrors,
		checkpoints:    m.checkpoints,
		checkpointErrs: m.checkpointErrs,
		lateDropped:    m.lateDropped,
		forwarded:      m.forwarded,
	}
}

// recordingTimer implements backoff.Timer and fires immediately, keeping the
// requested delays.
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	t.c <- time.Time{}
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

func (t *recordingTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]time.Duration, len(t.delays))
	copy(out, t.delays)
	return out
}

var errPlatformDown = errors.New("platform unavailable")
