package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bnema/botkeeper/internal/adapters/agesealer"
	"github.com/bnema/botkeeper/internal/adapters/control/httpserver"
	dispatchregistry "github.com/bnema/botkeeper/internal/adapters/dispatch/registry"
	metricsadapter "github.com/bnema/botkeeper/internal/adapters/metrics"
	"github.com/bnema/botkeeper/internal/adapters/platform/realtime"
	statusadapter "github.com/bnema/botkeeper/internal/adapters/render/status"
	tomlrepo "github.com/bnema/botkeeper/internal/adapters/repo/toml"
	chainstore "github.com/bnema/botkeeper/internal/adapters/secrets/chain"
	filestore "github.com/bnema/botkeeper/internal/adapters/secrets/file"
	kvstore "github.com/bnema/botkeeper/internal/adapters/secrets/kv"
	passstore "github.com/bnema/botkeeper/internal/adapters/secrets/pass"
	"github.com/bnema/botkeeper/internal/adapters/statefile"
	"github.com/bnema/botkeeper/internal/application"
	"github.com/bnema/botkeeper/internal/config"
	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/logging"
	"github.com/bnema/botkeeper/internal/ports"
	"github.com/spf13/cobra"
)

const secretServiceTimeout = 10 * time.Second

type appLoader func(cmd *cobra.Command) (*app, error)

type app struct {
	config         config.Config
	logger         *slog.Logger
	secretStore    ports.SecretStore
	sealer         ports.Sealer
	runtime        *tomlrepo.Repository
	statusRenderer func(domain.RuntimeRecord, statusadapter.RenderOptions) (string, error)
	now            func() time.Time
}

func wireApp(configFile string, logOutput io.Writer) (*app, error) {
	v, err := config.New(configFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
		Output:    logOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}

	secretStore, err := newSecretStore(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("wire secret store: %w", err)
	}

	runtime, err := tomlrepo.NewRepository(v)
	if err != nil {
		return nil, fmt.Errorf("wire runtime repository: %w", err)
	}

	return &app{
		config:         cfg,
		logger:         logger,
		secretStore:    secretStore,
		sealer:         agesealer.New(cfg.Secret.ScryptWorkFactor),
		runtime:        runtime,
		statusRenderer: statusadapter.Render,
		now:            time.Now,
	}, nil
}

func newSecretStore(cfg config.Secret) (ports.SecretStore, error) {
	httpClient := &http.Client{Timeout: secretServiceTimeout}

	switch cfg.Backend {
	case config.SecretBackendFile:
		return filestore.NewStore(cfg.FileRoot), nil
	case config.SecretBackendPass:
		return passstore.NewStore(passstore.DefaultNamespace), nil
	case config.SecretBackendKV:
		return kvstore.NewStore(cfg.KVURL, httpClient)
	default:
		if cfg.KVURL != "" {
			return chainstore.NewKVFirstWithFileFallback(cfg.KVURL, httpClient, cfg.FileRoot)
		}
		return chainstore.NewPassFirstWithFileFallback(cfg.FileRoot)
	}
}

// credentialStore opens the configured credential file. protect selects the
// encrypted form regardless of state.protection, for migrations.
func (a *app) credentialStore(protect bool) (*application.CredentialStore, error) {
	file, err := statefile.NewStore(a.config.State.Path)
	if err != nil {
		return nil, fmt.Errorf("wire state file: %w", err)
	}
	return application.NewCredentialStore(file, a.secretStore, a.sealer, a.config.Secret.Key, protect), nil
}

func (a *app) loginController(metrics ports.Metrics) (*application.LoginController, error) {
	if err := a.config.RequirePlatform(); err != nil {
		return nil, err
	}

	platform, err := realtime.New(realtime.Options{
		BaseURL:        a.config.Platform.BaseURL,
		RealtimeURL:    a.config.Platform.RealtimeURL,
		RequestTimeout: a.config.Platform.RequestTimeout,
		Logger:         a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfig, err)
	}

	policy := application.LoginPolicy{
		MaxAttempts: a.config.Login.MaxAttempts,
		RetryDelay:  a.config.Login.RetryDelay,
	}
	return application.NewLoginController(platform, policy, metrics, a.logger), nil
}

func (a *app) intervals() application.RefreshIntervals {
	return application.RefreshIntervals{
		Checkpoint:   a.config.Refresh.CheckpointInterval,
		Rotation:     a.config.Refresh.RotationInterval,
		RestartAfter: a.config.Refresh.RestartAfter,
	}
}

// newLifecycle wires one run of the bot. The returned dispatcher is closed by
// the lifecycle itself once Run starts; on error everything is released here.
func (a *app) newLifecycle() (*application.Lifecycle, *httpserver.Server, error) {
	registry := metricsadapter.NewRegistry()
	metrics, err := metricsadapter.New(registry)
	if err != nil {
		return nil, nil, fmt.Errorf("wire metrics: %w", err)
	}

	credentials, err := a.credentialStore(a.config.State.Protection)
	if err != nil {
		return nil, nil, err
	}
	login, err := a.loginController(metrics)
	if err != nil {
		return nil, nil, err
	}

	status := &lifecycleStatus{}
	control, err := httpserver.New(httpserver.Options{
		Listen:     a.config.Control.Listen,
		Status:     status,
		Registerer: registry,
		Gatherer:   registry,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire control surface: %w", err)
	}

	dispatcher, err := dispatchregistry.New(dispatchregistry.Options{
		Prefix:    a.config.Dispatch.Prefix,
		PoolSize:  a.config.Dispatch.PoolSize,
		QueueSize: a.config.Dispatch.QueueSize,
		Metrics:   metrics,
		Logger:    a.logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire dispatcher: %w", err)
	}

	lifecycle, err := application.NewLifecycle(application.LifecycleDeps{
		Runtime:     a.runtime,
		Control:     control,
		Credentials: credentials,
		Login:       login,
		Dispatcher:  dispatcher,
		Clock:       ports.SystemClock{},
		Metrics:     metrics,
		Logger:      a.logger,
		OnLogin: func(session ports.PlatformSession) {
			dispatcher.BindSender(session)
		},
	}, application.LifecycleConfig{
		LoginOptions:           domain.LoginOptions(a.config.Login.Options),
		Intervals:              a.intervals(),
		RelistenDelay:          a.config.Refresh.RelistenDelay,
		DiscardUnreadableState: a.config.State.Hosting == config.HostingManaged,
	})
	if err != nil {
		dispatcher.Close()
		return nil, nil, err
	}
	status.set(lifecycle)

	return lifecycle, control, nil
}

// lifecycleStatus breaks the construction cycle between the control surface
// and the lifecycle that owns it.
type lifecycleStatus struct {
	lifecycle atomic.Pointer[application.Lifecycle]
}

func (s *lifecycleStatus) set(lifecycle *application.Lifecycle) {
	s.lifecycle.Store(lifecycle)
}

func (s *lifecycleStatus) Snapshot() domain.RuntimeRecord {
	if lifecycle := s.lifecycle.Load(); lifecycle != nil {
		return lifecycle.Snapshot()
	}
	return domain.RuntimeRecord{}
}

func (s *lifecycleStatus) Ready() error {
	if lifecycle := s.lifecycle.Load(); lifecycle != nil {
		return lifecycle.Ready()
	}
	return errors.New("starting")
}
