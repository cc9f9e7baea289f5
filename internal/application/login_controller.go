package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultLoginMaxAttempts = 3
	DefaultLoginRetryDelay  = 10 * time.Second
)

// LoginPolicy bounds login retries. The delay between attempts is fixed.
type LoginPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

func (p LoginPolicy) normalized() LoginPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultLoginMaxAttempts
	}
	if p.RetryDelay < 0 {
		p.RetryDelay = 0
	}
	return p
}

type retryState struct {
	attempt     int
	maxAttempts int
	delay       time.Duration
}

// LoginController turns a SessionState into an authenticated platform session.
type LoginController struct {
	platform ports.Platform
	policy   LoginPolicy
	metrics  ports.Metrics
	logger   *slog.Logger
	timer    backoff.Timer
	onRetry  RetryHook
}

// RetryHook observes a failed attempt before the controller waits next.
type RetryHook func(attempt, maxAttempts int, next time.Duration, err error)

func NewLoginController(platform ports.Platform, policy LoginPolicy, metrics ports.Metrics, logger *slog.Logger) *LoginController {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &LoginController{
		platform: platform,
		policy:   policy.normalized(),
		metrics:  metrics,
		logger:   logger,
	}
}

// WithTimer replaces the timer used to wait between attempts.
func (c *LoginController) WithTimer(timer backoff.Timer) *LoginController {
	c.timer = timer
	return c
}

// WithRetryHook registers fn to run after every failed attempt that will be
// retried.
func (c *LoginController) WithRetryHook(fn RetryHook) *LoginController {
	c.onRetry = fn
	return c
}

func (c *LoginController) Policy() LoginPolicy {
	return c.policy
}

// Authenticate logs in, retrying failed attempts with a fixed delay. When all
// attempts fail the error wraps both domain.ErrFatalAuth and the last
// domain.ErrAuth. Cancelling ctx stops retrying at once.
func (c *LoginController) Authenticate(ctx context.Context, state domain.SessionState, opts domain.LoginOptions) (ports.PlatformSession, error) {
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFatalAuth, err)
	}

	retry := retryState{maxAttempts: c.policy.MaxAttempts, delay: c.policy.RetryDelay}

	var policy backoff.BackOff = backoff.NewConstantBackOff(retry.delay)
	policy = backoff.WithMaxRetries(policy, uint64(retry.maxAttempts-1))
	policy = backoff.WithContext(policy, ctx)

	var session ports.PlatformSession
	operation := func() error {
		retry.attempt++
		c.logger.Debug("login_attempt", "attempt", retry.attempt, "max_attempts", retry.maxAttempts)

		s, err := c.platform.Login(ctx, state.Clone(), opts)
		if err == nil && s == nil {
			err = errors.New("platform returned no session")
		}
		if err != nil {
			c.metrics.LoginAttempt(false)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return backoff.Permanent(ctxErr)
			}
			return fmt.Errorf("%w: attempt %d/%d: %w", domain.ErrAuth, retry.attempt, retry.maxAttempts, err)
		}

		c.metrics.LoginAttempt(true)
		session = s
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn("login_attempt_failed",
			"attempt", retry.attempt,
			"max_attempts", retry.maxAttempts,
			"retry_in", next,
			"error", err,
		)
		if c.onRetry != nil {
			c.onRetry(retry.attempt, retry.maxAttempts, next, err)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, policy, notify, c.timer)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("login interrupted after %d attempt(s): %w", retry.attempt, err)
		}

		c.logger.Error("login_failed", "attempts", retry.attempt, "error", err)
		return nil, fmt.Errorf("%w after %d attempt(s): %w", domain.ErrFatalAuth, retry.attempt, err)
	}

	c.logger.Info("login_succeeded", "user_id", session.CurrentUserID(), "attempts", retry.attempt)
	return session, nil
}
