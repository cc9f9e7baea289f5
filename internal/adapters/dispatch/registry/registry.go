package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
	"github.com/panjf2000/ants/v2"
)

const (
	DefaultPrefix       = "!"
	DefaultPoolSize     = 16
	DefaultQueueSize    = 64
	DefaultCloseTimeout = 10 * time.Second
)

var ErrDuplicateCommand = errors.New("command already registered")

// Sender posts a reply to a thread. A platform session is a Sender.
type Sender interface {
	Send(ctx context.Context, threadID string, body string) error
}

// CommandMetrics is optional; the prometheus adapter implements it.
type CommandMetrics interface {
	CommandHandled(command string, err error)
}

// Call is one command invocation.
type Call struct {
	Event domain.Event
	Name  string
	Args  []string
	reply func(ctx context.Context, body string) error
}

// Reply answers in the thread the command came from.
func (c Call) Reply(ctx context.Context, body string) error {
	return c.reply(ctx, body)
}

type Command struct {
	Name        string
	Aliases     []string
	Description string
	// NoPrefix commands also match when the message starts with the bare name.
	NoPrefix bool
	Run      func(ctx context.Context, call Call) error
}

type Options struct {
	Prefix   string
	PoolSize int

	// QueueSize bounds how many commands may wait for a free worker.
	// Dispatch blocks while they wait; beyond the bound a command is
	// rejected and counted as failed.
	QueueSize int

	CloseTimeout time.Duration
	Clock        ports.Clock
	Metrics      CommandMetrics
	Logger       *slog.Logger
}

// Registry dispatches prefixed message events to registered commands on a
// bounded goroutine pool. When every worker is busy Dispatch waits for one,
// which holds back the listener feeding it, up to Options.QueueSize waiting
// commands.
type Registry struct {
	prefix       string
	closeTimeout time.Duration
	clock        ports.Clock
	metrics      CommandMetrics
	logger       *slog.Logger
	startedAt    time.Time
	pool         *ants.Pool

	mu       sync.RWMutex
	commands map[string]Command
	aliases  map[string]string
	sender   Sender
	closed   bool
}

var _ ports.EventDispatcher = (*Registry)(nil)

func New(opts Options) (*Registry, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	if opts.Clock == nil {
		opts.Clock = ports.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	logger := opts.Logger
	pool, err := ants.NewPool(opts.PoolSize,
		ants.WithMaxBlockingTasks(opts.QueueSize),
		ants.WithPanicHandler(func(p any) {
			logger.Error("command_worker_panicked", "panic", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create command pool: %w", err)
	}

	r := &Registry{
		prefix:       opts.Prefix,
		closeTimeout: opts.CloseTimeout,
		clock:        opts.Clock,
		metrics:      opts.Metrics,
		logger:       logger,
		startedAt:    opts.Clock.Now(),
		pool:         pool,
		commands:     map[string]Command{},
		aliases:      map[string]string{},
	}
	r.registerBuiltins()
	return r, nil
}

// BindSender sets where replies go. It is called once the platform session
// exists.
func (r *Registry) BindSender(sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = sender
}

func (r *Registry) Register(command Command) error {
	name := strings.ToLower(strings.TrimSpace(command.Name))
	if name == "" || command.Run == nil {
		return errors.New("command needs a name and a run function")
	}

	aliases := make([]string, 0, len(command.Aliases))
	for _, alias := range command.Aliases {
		if alias = strings.ToLower(strings.TrimSpace(alias)); alias != "" && alias != name {
			aliases = append(aliases, alias)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, key := range append([]string{name}, aliases...) {
		if r.knownLocked(key) {
			return fmt.Errorf("%w: %s", ErrDuplicateCommand, key)
		}
	}
	command.Name = name
	command.Aliases = aliases
	r.commands[name] = command
	for _, alias := range aliases {
		r.aliases[alias] = name
	}
	return nil
}

func (r *Registry) knownLocked(key string) bool {
	_, isCommand := r.commands[key]
	_, isAlias := r.aliases[key]
	return isCommand || isAlias
}

// Lookup resolves a command by name or alias.
func (r *Registry) Lookup(name string) (Command, bool) {
	name = strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if target, ok := r.aliases[name]; ok {
		name = target
	}
	command, ok := r.commands[name]
	return command, ok
}

// Commands lists registered commands sorted by name.
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Command, 0, len(r.commands))
	for _, command := range r.commands {
		out = append(out, command)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Dispatch(ctx context.Context, event domain.Event) {
	if event.Type != domain.EventTypeMessage {
		return
	}
	name, args, prefixed, ok := r.parse(event.Body)
	if !ok {
		return
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return
	}

	command, found := r.Lookup(name)
	if !prefixed && (!found || !command.NoPrefix) {
		return
	}
	if !found {
		r.logger.Debug("unknown_command", "command", name, "thread_id", event.ThreadID)
		return
	}

	call := Call{Event: event, Name: command.Name, Args: args, reply: r.replier(event.ThreadID)}
	err := r.pool.Submit(func() {
		r.execute(ctx, command, call)
	})
	if err != nil {
		// ants.ErrPoolOverload when the wait queue is full, ants.ErrPoolClosed
		// once Close has run.
		r.logger.Warn("command_rejected", "command", command.Name, "error", err)
		r.record(command.Name, err)
	}
}

// Close waits for running commands up to the close timeout.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.pool.ReleaseTimeout(r.closeTimeout); err != nil {
		r.logger.Warn("command_pool_release_timeout", "error", err)
	}
}

// parse splits a message into command name and arguments. prefixed reports
// whether the message carried the command prefix.
func (r *Registry) parse(body string) (name string, args []string, prefixed bool, ok bool) {
	body = strings.TrimSpace(body)
	prefixed = strings.HasPrefix(body, r.prefix)

	fields := strings.Fields(strings.TrimPrefix(body, r.prefix))
	if len(fields) == 0 {
		return "", nil, false, false
	}
	return strings.ToLower(fields[0]), fields[1:], prefixed, true
}

func (r *Registry) execute(ctx context.Context, command Command, call Call) {
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("command %s panicked: %v", command.Name, p)
			r.logger.Error("command_panicked", "command", command.Name, "panic", p, "stack", string(debug.Stack()))
		}
		r.record(command.Name, err)
	}()

	err = command.Run(ctx, call)
	if err != nil {
		r.logger.Warn("command_failed", "command", command.Name, "thread_id", call.Event.ThreadID, "error", err)
	}
}

func (r *Registry) record(name string, err error) {
	if r.metrics != nil {
		r.metrics.CommandHandled(name, err)
	}
}

func (r *Registry) replier(threadID string) func(context.Context, string) error {
	return func(ctx context.Context, body string) error {
		r.mu.RLock()
		sender := r.sender
		r.mu.RUnlock()

		if sender == nil {
			return errors.New("no sender bound")
		}
		if threadID == "" {
			return errors.New("event has no thread to reply to")
		}
		return sender.Send(ctx, threadID, body)
	}
}
