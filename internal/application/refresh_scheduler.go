package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
)

const (
	DefaultCheckpointInterval = 12 * time.Hour
	DefaultRotationInterval   = 2 * time.Hour
)

type RefreshIntervals struct {
	Checkpoint time.Duration
	Rotation   time.Duration
	// RestartAfter of zero disables the scheduled restart.
	RestartAfter time.Duration
}

func (i RefreshIntervals) Validate() error {
	if i.Checkpoint <= 0 {
		return fmt.Errorf("%w: checkpoint interval must be positive, got %s", domain.ErrConfig, i.Checkpoint)
	}
	if i.Rotation <= 0 {
		return fmt.Errorf("%w: rotation interval must be positive, got %s", domain.ErrConfig, i.Rotation)
	}
	if i.RestartAfter < 0 {
		return fmt.Errorf("%w: restart delay must not be negative, got %s", domain.ErrConfig, i.RestartAfter)
	}
	return nil
}

// RefreshActions are the periodic jobs. Restart is called at most once and
// must not block on the scheduler.
type RefreshActions struct {
	Checkpoint func(ctx context.Context) error
	Rotate     func(ctx context.Context) error
	Restart    func()
}

// RefreshScheduler runs checkpoint, rotation and restart on independent
// timers. A failing or panicking action is logged and does not affect the
// others.
type RefreshScheduler struct {
	clock     ports.Clock
	intervals RefreshIntervals
	actions   RefreshActions
	metrics   ports.Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRefreshScheduler(clock ports.Clock, intervals RefreshIntervals, actions RefreshActions, metrics ports.Metrics, logger *slog.Logger) (*RefreshScheduler, error) {
	if err := intervals.Validate(); err != nil {
		return nil, err
	}
	if actions.Checkpoint == nil || actions.Rotate == nil {
		return nil, errors.New("refresh scheduler requires checkpoint and rotate actions")
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RefreshScheduler{
		clock:     clock,
		intervals: intervals,
		actions:   actions,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

func (s *RefreshScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("refresh scheduler already started")
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	checkpointTicker := s.clock.NewTicker(s.intervals.Checkpoint)
	rotationTicker := s.clock.NewTicker(s.intervals.Rotation)

	s.wg.Add(2)
	go s.loop(ctx, "checkpoint", checkpointTicker, s.checkpoint)
	go s.loop(ctx, "rotation", rotationTicker, s.actions.Rotate)

	if s.intervals.RestartAfter > 0 && s.actions.Restart != nil {
		fired := make(chan struct{})
		timer := s.clock.AfterFunc(s.intervals.RestartAfter, func() { close(fired) })

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-fired:
				s.logger.Info("restart_timer_fired", "after", s.intervals.RestartAfter)
				_ = s.run(ctx, "restart", func(context.Context) error {
					s.actions.Restart()
					return nil
				})
			}
		}()
	}

	s.logger.Info("refresh_scheduler_started",
		"checkpoint_interval", s.intervals.Checkpoint,
		"rotation_interval", s.intervals.Rotation,
		"restart_after", s.intervals.RestartAfter,
	)
	return nil
}

// Stop cancels all timers and waits for running actions to return. It is safe
// to call more than once and before Start.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.started = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *RefreshScheduler) loop(ctx context.Context, name string, ticker ports.Ticker, action func(context.Context) error) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			if err := s.run(ctx, name, action); err != nil {
				s.logger.Error(name+"_failed", "error", err)
			}
		}
	}
}

func (s *RefreshScheduler) checkpoint(ctx context.Context) error {
	err := s.actions.Checkpoint(ctx)
	s.metrics.Checkpoint(err)
	if err == nil {
		s.logger.Info("checkpoint_saved")
	}
	return err
}

// run calls action and turns a panic into an error.
func (s *RefreshScheduler) run(ctx context.Context, name string, action func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("refresh_action_panicked", "action", name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()

	return action(ctx)
}
