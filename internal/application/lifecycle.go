package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
)

const (
	// AdminPasswordEnv exposes the one-time admin password to child
	// processes and operators.
	AdminPasswordEnv = "SERVER_ADMIN_PASSWORD"

	DefaultShutdownTimeout = 30 * time.Second

	adminPasswordBytes = 4
)

type LifecycleDeps struct {
	Runtime     ports.RuntimeRepository
	Control     ports.ControlSurface
	Credentials *CredentialStore
	Login       *LoginController
	Dispatcher  ports.EventDispatcher
	Clock       ports.Clock
	Metrics     ports.Metrics
	Logger      *slog.Logger

	// OnLogin, when set, is called once with the authenticated session before
	// the listener starts.
	OnLogin func(session ports.PlatformSession)
}

type LifecycleConfig struct {
	LoginOptions    domain.LoginOptions
	Intervals       RefreshIntervals
	ShutdownTimeout time.Duration

	// RelistenDelay of zero means DefaultRelistenDelay; a negative delay
	// leaves a lost listener down until the next rotation.
	RelistenDelay time.Duration

	// DiscardUnreadableState deletes a credential file that exists but cannot
	// be loaded and asks for a restart. Managed hosting turns it on so the
	// host can be handed a fresh export.
	DiscardUnreadableState bool
}

// Lifecycle wires the credential store, login, connection manager and
// scheduler together for one run of the agent.
type Lifecycle struct {
	deps   LifecycleDeps
	config LifecycleConfig

	setenv   func(key, value string) error
	password func() (string, error)

	mu     sync.Mutex
	record domain.RuntimeRecord
	conns  *ConnectionManager
}

func NewLifecycle(deps LifecycleDeps, config LifecycleConfig) (*Lifecycle, error) {
	switch {
	case deps.Runtime == nil:
		return nil, errors.New("lifecycle requires a runtime repository")
	case deps.Control == nil:
		return nil, errors.New("lifecycle requires a control surface")
	case deps.Credentials == nil:
		return nil, errors.New("lifecycle requires a credential store")
	case deps.Login == nil:
		return nil, errors.New("lifecycle requires a login controller")
	case deps.Dispatcher == nil:
		return nil, errors.New("lifecycle requires an event dispatcher")
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	if config.RelistenDelay == 0 {
		config.RelistenDelay = DefaultRelistenDelay
	}

	return &Lifecycle{
		deps:     deps,
		config:   config,
		setenv:   os.Setenv,
		password: generateAdminPassword,
	}, nil
}

// Run starts the agent and blocks until ctx is cancelled or the scheduled
// restart fires, in which case domain.ErrRestartRequested is returned.
// Whatever was started is torn down in reverse order before Run returns.
func (l *Lifecycle) Run(ctx context.Context) (err error) {
	if err := l.config.Intervals.Validate(); err != nil {
		return err
	}

	logger := l.deps.Logger
	var steps shutdownSteps
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.ShutdownTimeout)
		defer cancel()
		steps.run(shutdownCtx, logger)
		logger.Info("shutdown_complete", "error", err)
	}()

	steps.push("dispatcher", func(context.Context) error {
		l.deps.Dispatcher.Close()
		return nil
	})

	if err := l.openLedger(ctx); err != nil {
		return err
	}

	password, err := l.password()
	if err != nil {
		return fmt.Errorf("generate admin password: %w", err)
	}
	if err := l.setenv(AdminPasswordEnv, password); err != nil {
		return fmt.Errorf("export admin password: %w", err)
	}
	l.deps.Control.SetAdminPassword(password)
	if err := l.deps.Control.Start(ctx); err != nil {
		return fmt.Errorf("start control surface: %w", err)
	}
	steps.push("control surface", l.deps.Control.Shutdown)
	steps.push("runtime ledger", l.closeLedger)

	state, err := l.deps.Credentials.Load(ctx)
	if err != nil {
		return l.credentialsUnreadable(ctx, err)
	}
	logger.Info("credentials_loaded", "path", l.deps.Credentials.Path(), "encrypted", l.deps.Credentials.Encrypted())

	session, err := l.deps.Login.Authenticate(ctx, state, l.config.LoginOptions)
	if err != nil {
		return err
	}
	l.update(func(record *domain.RuntimeRecord) {
		record.BotID = session.CurrentUserID()
		record.LastLoginAt = l.deps.Clock.Now()
	})
	if l.deps.OnLogin != nil {
		l.deps.OnLogin(session)
	}
	steps.push("final checkpoint", func(ctx context.Context) error {
		return l.checkpoint(ctx, session)
	})

	conns := NewConnectionManager(session, l.deps.Dispatcher, l.deps.Clock, l.deps.Metrics, logger).
		WithRelistenDelay(l.config.RelistenDelay).
		WithListenHook(func(handle ListenerHandle) {
			l.update(func(record *domain.RuntimeRecord) {
				record.ListenerID = handle.ID
			})
			l.persist(context.WithoutCancel(ctx))
		})
	l.mu.Lock()
	l.conns = conns
	l.mu.Unlock()
	steps.push("listener", func(context.Context) error {
		return conns.Stop()
	})

	handle, err := conns.Start(ctx)
	if err != nil {
		return err
	}
	l.update(func(record *domain.RuntimeRecord) {
		record.ListenerID = handle.ID
	})

	restart := make(chan struct{}, 1)
	scheduler, err := NewRefreshScheduler(l.deps.Clock, l.config.Intervals, RefreshActions{
		Checkpoint: func(ctx context.Context) error {
			return l.checkpoint(ctx, session)
		},
		Rotate: func(ctx context.Context) error {
			return l.rotate(ctx, conns)
		},
		Restart: func() {
			select {
			case restart <- struct{}{}:
			default:
			}
		},
	}, l.deps.Metrics, logger)
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	steps.push("scheduler", func(context.Context) error {
		scheduler.Stop()
		return nil
	})

	l.persist(ctx)
	logger.Info("bot_running", "bot_id", session.CurrentUserID(), "listener_id", handle.ID)

	select {
	case <-ctx.Done():
		logger.Info("shutdown_requested", "reason", context.Cause(ctx))
		return nil
	case <-restart:
		logger.Info("restart_requested", "after", l.config.Intervals.RestartAfter)
		return domain.ErrRestartRequested
	}
}

// Snapshot returns the current runtime record.
func (l *Lifecycle) Snapshot() domain.RuntimeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.record
}

// Ready reports whether a listener is active.
func (l *Lifecycle) Ready() error {
	l.mu.Lock()
	conns := l.conns
	l.mu.Unlock()

	if conns == nil {
		return errors.New("not logged in")
	}
	if _, ok := conns.Active(); !ok {
		return fmt.Errorf("no active listener (%s)", conns.State())
	}
	return nil
}

func (l *Lifecycle) openLedger(ctx context.Context) error {
	record, err := l.deps.Runtime.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrRuntimeNotFound):
		record = domain.RuntimeRecord{}
	case err != nil:
		return fmt.Errorf("open runtime ledger: %w", err)
	}

	if !record.StartedAt.IsZero() {
		record.Restarts++
	}
	record.StartedAt = l.deps.Clock.Now()
	record.ListenerID = ""
	record.Encrypted = l.deps.Credentials.Encrypted()

	l.mu.Lock()
	l.record = record
	l.mu.Unlock()

	if err := l.deps.Runtime.Save(ctx, record); err != nil {
		return fmt.Errorf("open runtime ledger: %w", err)
	}
	return nil
}

func (l *Lifecycle) closeLedger(ctx context.Context) error {
	l.update(func(record *domain.RuntimeRecord) {
		record.ListenerID = ""
	})
	return l.deps.Runtime.Save(ctx, l.Snapshot())
}

// credentialsUnreadable handles a failed credential load. Only a file that is
// present but unusable is discarded; a missing file or an unreachable secret
// service is returned as is.
func (l *Lifecycle) credentialsUnreadable(ctx context.Context, err error) error {
	if !l.config.DiscardUnreadableState || errors.Is(err, os.ErrNotExist) || errors.Is(err, domain.ErrSecretService) || ctx.Err() != nil {
		return err
	}

	if discardErr := l.deps.Credentials.Discard(ctx); discardErr != nil {
		l.deps.Logger.Error("credential_discard_failed", "path", l.deps.Credentials.Path(), "error", discardErr)
		return errors.Join(err, discardErr)
	}
	l.deps.Logger.Warn("credential_file_discarded", "path", l.deps.Credentials.Path(), "error", err)
	return fmt.Errorf("%w: unreadable credential file discarded: %w", domain.ErrRestartRequested, err)
}

func (l *Lifecycle) checkpoint(ctx context.Context, session ports.PlatformSession) error {
	err := l.deps.Credentials.Save(ctx, session.AppState())
	l.update(func(record *domain.RuntimeRecord) {
		if err != nil {
			record.LastCheckpointError = err.Error()
			return
		}
		record.LastCheckpointAt = l.deps.Clock.Now()
		record.LastCheckpointError = ""
	})
	l.persist(ctx)
	return err
}

func (l *Lifecycle) rotate(ctx context.Context, conns *ConnectionManager) error {
	handle, err := conns.Rotate(ctx)
	l.update(func(record *domain.RuntimeRecord) {
		record.ListenerID = handle.ID
		if err == nil {
			record.LastRotationAt = handle.StartedAt
			record.Rotations++
		}
	})
	l.persist(ctx)
	return err
}

func (l *Lifecycle) update(fn func(record *domain.RuntimeRecord)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.record)
}

// persist saves the runtime record, logging failures only.
func (l *Lifecycle) persist(ctx context.Context) {
	if err := l.deps.Runtime.Save(ctx, l.Snapshot()); err != nil {
		l.deps.Logger.Warn("runtime_ledger_save_failed", "error", err)
	}
}

func generateAdminPassword() (string, error) {
	buf := make([]byte, adminPasswordBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

type shutdownStep struct {
	name string
	fn   func(context.Context) error
}

// shutdownSteps runs registered steps in reverse registration order.
type shutdownSteps []shutdownStep

func (s *shutdownSteps) push(name string, fn func(context.Context) error) {
	*s = append(*s, shutdownStep{name: name, fn: fn})
}

func (s shutdownSteps) run(ctx context.Context, logger *slog.Logger) {
	for i := len(s) - 1; i >= 0; i-- {
		step := s[i]
		if err := step.fn(ctx); err != nil {
			logger.Warn("shutdown_step_failed", "step", step.name, "error", err)
			continue
		}
		logger.Debug("shutdown_step_done", "step", step.name)
	}
}
