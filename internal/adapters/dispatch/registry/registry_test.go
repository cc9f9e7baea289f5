package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bnema/botkeeper/internal/clock"
	"github.com/bnema/botkeeper/internal/domain"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	threadID string
	body     string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *recordingSender) Send(_ context.Context, threadID string, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{threadID: threadID, body: body})
	return nil
}

func (s *recordingSender) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

type recordingMetrics struct {
	mu      sync.Mutex
	results map[string][]error
}

func (m *recordingMetrics) CommandHandled(command string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = map[string][]error{}
	}
	m.results[command] = append(m.results[command], err)
}

func (m *recordingMetrics) Results(command string) []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.results[command]...)
}

func newTestRegistry(t *testing.T, opts Options) (*Registry, *recordingSender) {
	t.Helper()

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	registry, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(registry.Close)

	sender := &recordingSender{}
	registry.BindSender(sender)
	return registry, sender
}

func message(body string) domain.Event {
	return domain.Event{ListenerID: "l-1", Type: domain.EventTypeMessage, ThreadID: "thread-1", Body: body}
}

func TestRegistryPingRepliesInThread(t *testing.T) {
	registry, sender := newTestRegistry(t, Options{})

	registry.Dispatch(context.Background(), message("!ping"))

	require.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, sentMessage{threadID: "thread-1", body: "pong"}, sender.Sent()[0])
}

func TestRegistryUptimeUsesClock(t *testing.T) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry, sender := newTestRegistry(t, Options{Prefix: "/", Clock: fake})

	fake.Advance(90*time.Minute + 1500*time.Millisecond)
	registry.Dispatch(context.Background(), message("/UPTIME"))

	require.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "up 1h30m1s", sender.Sent()[0].body)
}

func TestRegistryIgnoresUnrelatedEvents(t *testing.T) {
	registry, sender := newTestRegistry(t, Options{})

	registry.Dispatch(context.Background(), message("ping"))
	registry.Dispatch(context.Background(), message("!"))
	registry.Dispatch(context.Background(), message("!nosuchcommand"))
	registry.Dispatch(context.Background(), domain.Event{Type: domain.EventTypeReaction, ThreadID: "thread-1", Body: "!ping"})

	assert.Never(t, func() bool { return len(sender.Sent()) > 0 }, 30*time.Millisecond, 5*time.Millisecond)
}

func TestRegistryCustomCommandReceivesArgs(t *testing.T) {
	metrics := &recordingMetrics{}
	registry, sender := newTestRegistry(t, Options{Metrics: metrics})

	require.NoError(t, registry.Register(Command{
		Name: "Echo",
		Run: func(ctx context.Context, call Call) error {
			assert.Equal(t, "echo", call.Name)
			return call.Reply(ctx, call.Args[0]+"|"+call.Args[1])
		},
	}))

	registry.Dispatch(context.Background(), message("  !echo  hello   world "))

	require.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "hello|world", sender.Sent()[0].body)
	require.Eventually(t, func() bool { return len(metrics.Results("echo")) == 1 }, time.Second, time.Millisecond)
	assert.NoError(t, metrics.Results("echo")[0])
}

func TestRegistryRecoversFromPanickingCommand(t *testing.T) {
	metrics := &recordingMetrics{}
	registry, sender := newTestRegistry(t, Options{Metrics: metrics})

	require.NoError(t, registry.Register(Command{
		Name: "boom",
		Run: func(context.Context, Call) error {
			panic("kaboom")
		},
	}))

	registry.Dispatch(context.Background(), message("!boom"))
	require.Eventually(t, func() bool { return len(metrics.Results("boom")) == 1 }, time.Second, time.Millisecond)
	assert.ErrorContains(t, metrics.Results("boom")[0], "kaboom")

	registry.Dispatch(context.Background(), message("!ping"))
	require.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, time.Second, time.Millisecond)
}

func TestRegistryRegisterRejectsDuplicates(t *testing.T) {
	registry, _ := newTestRegistry(t, Options{})

	err := registry.Register(Command{Name: "PING", Run: func(context.Context, Call) error { return nil }})
	assert.ErrorIs(t, err, ErrDuplicateCommand)
	assert.Error(t, registry.Register(Command{Name: " "}))
}

func TestRegistryHelpListsCommands(t *testing.T) {
	registry, sender := newTestRegistry(t, Options{})

	registry.Dispatch(context.Background(), message("!help"))

	require.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "!help - list commands, or describe one\n!ping - reply with pong\n!uptime - show how long the bot has been running", sender.Sent()[0].body)
}

func TestRegistryHelpDescribesOneCommand(t *testing.T) {
	registry, sender := newTestRegistry(t, Options{})

	registry.Dispatch(context.Background(), message("!command help"))
	require.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "!help - list commands, or describe one\naliases: command", sender.Sent()[0].body)

	registry.Dispatch(context.Background(), message("!help nope"))
	require.Eventually(t, func() bool { return len(sender.Sent()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "Command not found.", sender.Sent()[1].body)
}

func TestRegistryAliasesAndNoPrefixCommands(t *testing.T) {
	registry, sender := newTestRegistry(t, Options{})

	require.NoError(t, registry.Register(Command{
		Name:     "ai",
		Aliases:  []string{"Ask", "ai"},
		NoPrefix: true,
		Run: func(ctx context.Context, call Call) error {
			return call.Reply(ctx, call.Name+":"+call.Args[0])
		},
	}))

	registry.Dispatch(context.Background(), message("AI hello"))
	require.Eventually(t, func() bool { return len(sender.Sent()) == 1 }, time.Second, time.Millisecond)
	registry.Dispatch(context.Background(), message("!ask there"))
	require.Eventually(t, func() bool { return len(sender.Sent()) == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, "ai:hello", sender.Sent()[0].body)
	assert.Equal(t, "ai:there", sender.Sent()[1].body)

	command, ok := registry.Lookup("ASK")
	require.True(t, ok)
	assert.Equal(t, []string{"ask"}, command.Aliases)

	err := registry.Register(Command{Name: "other", Aliases: []string{"ask"}, Run: func(context.Context, Call) error { return nil }})
	assert.ErrorIs(t, err, ErrDuplicateCommand)
	_, ok = registry.Lookup("other")
	assert.False(t, ok)
}

func TestRegistryCloseWaitsForRunningCommands(t *testing.T) {
	registry, _ := newTestRegistry(t, Options{CloseTimeout: time.Second})

	release := make(chan struct{})
	finished := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, registry.Register(Command{
		Name: "slow",
		Run: func(context.Context, Call) error {
			close(started)
			<-release
			close(finished)
			return nil
		},
	}))

	registry.Dispatch(context.Background(), message("!slow"))
	<-started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	registry.Close()

	select {
	case <-finished:
	default:
		t.Fatal("Close returned before the running command finished")
	}

	registry.Close()
}

func TestRegistryReplyWithoutSenderFails(t *testing.T) {
	registry, err := New(Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	defer registry.Close()

	result := make(chan error, 1)
	require.NoError(t, registry.Register(Command{
		Name: "greet",
		Run: func(ctx context.Context, call Call) error {
			err := call.Reply(ctx, "hi")
			result <- err
			return err
		},
	}))

	registry.Dispatch(context.Background(), message("!greet"))
	select {
	case err := <-result:
		assert.True(t, err != nil && !errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("command did not run")
	}
}

func TestRegistryQueuesCommandsWhileWorkersAreBusy(t *testing.T) {
	registry, sender := newTestRegistry(t, Options{PoolSize: 1, CloseTimeout: time.Second})

	release := make(chan struct{})
	started := make(chan struct{}, 3)
	require.NoError(t, registry.Register(Command{
		Name: "work",
		Run: func(ctx context.Context, call Call) error {
			started <- struct{}{}
			<-release
			return call.Reply(ctx, "done "+call.Args[0])
		},
	}))

	registry.Dispatch(context.Background(), message("!work 1"))
	<-started

	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		registry.Dispatch(context.Background(), message("!work 2"))
		registry.Dispatch(context.Background(), message("!work 3"))
	}()
	require.Eventually(t, func() bool {
		return registry.pool.Waiting() == 1
	}, time.Second, time.Millisecond, "second command should wait for the busy worker")

	close(release)
	<-dispatched
	require.Eventually(t, func() bool {
		return len(sender.Sent()) == 3
	}, time.Second, time.Millisecond)

	assert.Equal(t, []sentMessage{
		{threadID: "thread-1", body: "done 1"},
		{threadID: "thread-1", body: "done 2"},
		{threadID: "thread-1", body: "done 3"},
	}, sender.Sent())
}

func TestRegistryRejectsCommandsBeyondTheQueue(t *testing.T) {
	metrics := &recordingMetrics{}
	registry, _ := newTestRegistry(t, Options{PoolSize: 1, QueueSize: 1, CloseTimeout: time.Second, Metrics: metrics})

	release := make(chan struct{})
	started := make(chan struct{}, 3)
	require.NoError(t, registry.Register(Command{
		Name: "work",
		Run: func(context.Context, Call) error {
			started <- struct{}{}
			<-release
			return nil
		},
	}))

	registry.Dispatch(context.Background(), message("!work"))
	<-started
	go registry.Dispatch(context.Background(), message("!work"))
	require.Eventually(t, func() bool {
		return registry.pool.Waiting() == 1
	}, time.Second, time.Millisecond)

	registry.Dispatch(context.Background(), message("!work"))
	results := metrics.Results("work")
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0], ants.ErrPoolOverload)

	close(release)
	require.Eventually(t, func() bool {
		return len(metrics.Results("work")) == 3
	}, time.Second, time.Millisecond)
}
