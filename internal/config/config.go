package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/botkeeper/internal/adapters/statefile"
	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/logging"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "BOTKEEPER"

	HostingLocal   = "local"
	HostingManaged = "managed"

	SecretBackendAuto = "auto"
	SecretBackendFile = "file"
	SecretBackendPass = "pass"
	SecretBackendKV   = "kv"

	configDir  = ".botkeeper"
	configName = "config"

	defaultStatePath = "appstate.json"
)

type Config struct {
	State       State
	Secret      Secret
	Login       Login
	Platform    Platform
	Refresh     Refresh
	Control     Control
	Dispatch    Dispatch
	Logging     Logging
	RuntimePath string
}

type State struct {
	Path       string
	Protection bool
	Hosting    string
}

type Secret struct {
	Backend          string
	Key              string
	KVURL            string
	FileRoot         string
	ScryptWorkFactor int
}

type Login struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Options     map[string]any
}

type Platform struct {
	BaseURL        string
	RealtimeURL    string
	RequestTimeout time.Duration
}

type Refresh struct {
	CheckpointInterval time.Duration
	RotationInterval   time.Duration
	RestartAfter       time.Duration

	// RelistenDelay is the first wait before a lost listener is reopened.
	// Negative turns reopening off.
	RelistenDelay time.Duration
}

type Control struct {
	Listen string
}

type Dispatch struct {
	Prefix    string
	PoolSize  int
	QueueSize int
}

type Logging struct {
	Level     string
	Format    string
	AddSource bool
}

// SetDefaults registers a default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("state.path", "")
	v.SetDefault("state.protection", false)
	v.SetDefault("state.hosting", HostingLocal)
	v.SetDefault("secret.backend", SecretBackendAuto)
	v.SetDefault("secret.key", "APPSTATE_SECRET_KEY")
	v.SetDefault("secret.kv_url", "")
	v.SetDefault("secret.file_root", "")
	v.SetDefault("secret.scrypt_work_factor", 15)
	v.SetDefault("login.max_attempts", 3)
	v.SetDefault("login.retry_delay", 10*time.Second)
	v.SetDefault("login.options", map[string]any{})
	v.SetDefault("platform.base_url", "")
	v.SetDefault("platform.realtime_url", "")
	v.SetDefault("platform.request_timeout", 30*time.Second)
	v.SetDefault("refresh.checkpoint_interval", 12*time.Hour)
	v.SetDefault("refresh.rotation_interval", 2*time.Hour)
	v.SetDefault("refresh.restart_after", time.Duration(0))
	v.SetDefault("refresh.relisten_delay", 5*time.Second)
	v.SetDefault("control.listen", "127.0.0.1:8080")
	v.SetDefault("runtime.path", "")
	v.SetDefault("dispatch.prefix", "!")
	v.SetDefault("dispatch.pool_size", 16)
	v.SetDefault("dispatch.queue_size", 64)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logging.FormatText)
	v.SetDefault("logging.add_source", false)
}

// New builds a viper instance with defaults, environment overrides and the
// optional config file. An explicit configFile must exist; the default
// $HOME/.botkeeper/config.toml may be absent.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for key, legacy := range map[string]string{
		"state.path":       "APPSTATE_PATH",
		"state.protection": "APPSTATE_PROTECTION",
		"secret.kv_url":    "REPLIT_DB_URL",
	} {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("%w: bind %s: %w", domain.ErrConfig, key, err)
		}
	}

	configFile = strings.TrimSpace(configFile)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("toml")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, configDir))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: read config: %w", domain.ErrConfig, err)
		}
	}

	return v, nil
}

// Load decodes v into a Config, resolves derived paths and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		State: State{
			Path:       strings.TrimSpace(v.GetString("state.path")),
			Protection: v.GetBool("state.protection"),
			Hosting:    strings.ToLower(strings.TrimSpace(v.GetString("state.hosting"))),
		},
		Secret: Secret{
			Backend:          strings.ToLower(strings.TrimSpace(v.GetString("secret.backend"))),
			Key:              strings.TrimSpace(v.GetString("secret.key")),
			KVURL:            strings.TrimSpace(v.GetString("secret.kv_url")),
			FileRoot:         strings.TrimSpace(v.GetString("secret.file_root")),
			ScryptWorkFactor: v.GetInt("secret.scrypt_work_factor"),
		},
		Login: Login{
			MaxAttempts: v.GetInt("login.max_attempts"),
			RetryDelay:  v.GetDuration("login.retry_delay"),
			Options:     v.GetStringMap("login.options"),
		},
		Platform: Platform{
			BaseURL:        strings.TrimSpace(v.GetString("platform.base_url")),
			RealtimeURL:    strings.TrimSpace(v.GetString("platform.realtime_url")),
			RequestTimeout: v.GetDuration("platform.request_timeout"),
		},
		Refresh: Refresh{
			CheckpointInterval: v.GetDuration("refresh.checkpoint_interval"),
			RotationInterval:   v.GetDuration("refresh.rotation_interval"),
			RestartAfter:       v.GetDuration("refresh.restart_after"),
			RelistenDelay:      v.GetDuration("refresh.relisten_delay"),
		},
		Control: Control{
			Listen: strings.TrimSpace(v.GetString("control.listen")),
		},
		Dispatch: Dispatch{
			Prefix:    v.GetString("dispatch.prefix"),
			PoolSize:  v.GetInt("dispatch.pool_size"),
			QueueSize: v.GetInt("dispatch.queue_size"),
		},
		Logging: Logging{
			Level:     v.GetString("logging.level"),
			Format:    v.GetString("logging.format"),
			AddSource: v.GetBool("logging.add_source"),
		},
		RuntimePath: strings.TrimSpace(v.GetString("runtime.path")),
	}

	if err := cfg.resolvePaths(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths() error {
	if c.State.Path == "" {
		c.State.Path = defaultStatePath
		if c.State.Hosting == HostingManaged {
			c.State.Path = statefile.ManagedHostingPath(".")
		}
	}
	if c.Secret.FileRoot == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("%w: resolve home directory: %w", domain.ErrConfig, err)
		}
		c.Secret.FileRoot = filepath.Join(homeDir, configDir, "secrets")
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.State.Hosting {
	case HostingLocal, HostingManaged:
	default:
		add("state.hosting must be %q or %q, got %q", HostingLocal, HostingManaged, c.State.Hosting)
	}

	switch c.Secret.Backend {
	case SecretBackendAuto, SecretBackendFile, SecretBackendPass:
	case SecretBackendKV:
		if c.Secret.KVURL == "" {
			add("secret.kv_url is required for the kv backend")
		}
	default:
		add("unknown secret.backend %q", c.Secret.Backend)
	}
	if c.State.Protection && c.Secret.Key == "" {
		add("secret.key is required when state.protection is on")
	}
	if c.Secret.KVURL != "" {
		if err := validateHTTPURL(c.Secret.KVURL); err != nil {
			add("secret.kv_url: %v", err)
		}
	}
	if c.Secret.ScryptWorkFactor < 1 || c.Secret.ScryptWorkFactor > 22 {
		add("secret.scrypt_work_factor must be between 1 and 22")
	}

	if c.Login.MaxAttempts < 1 {
		add("login.max_attempts must be at least 1")
	}
	if c.Login.RetryDelay < 0 {
		add("login.retry_delay must not be negative")
	}

	if c.Platform.BaseURL != "" {
		if err := validateHTTPURL(c.Platform.BaseURL); err != nil {
			add("platform.base_url: %v", err)
		}
	}
	if c.Platform.RequestTimeout <= 0 {
		add("platform.request_timeout must be positive")
	}

	if c.Refresh.CheckpointInterval <= 0 {
		add("refresh.checkpoint_interval must be positive")
	}
	if c.Refresh.RotationInterval <= 0 {
		add("refresh.rotation_interval must be positive")
	}
	if c.Refresh.RestartAfter < 0 {
		add("refresh.restart_after must not be negative")
	}

	if _, _, err := net.SplitHostPort(c.Control.Listen); err != nil {
		add("control.listen: %v", err)
	}

	if strings.TrimSpace(c.Dispatch.Prefix) == "" {
		add("dispatch.prefix must not be empty")
	}
	if c.Dispatch.PoolSize < 1 {
		add("dispatch.pool_size must be at least 1")
	}
	if c.Dispatch.QueueSize < 1 {
		add("dispatch.queue_size must be at least 1")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("%v", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		add("unknown logging.format: %s", c.Logging.Format)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrConfig, errors.Join(errs...))
}

// RequirePlatform reports a config error when no platform endpoint is set.
func (c Config) RequirePlatform() error {
	if c.Platform.BaseURL == "" {
		return fmt.Errorf("%w: platform.base_url is required", domain.ErrConfig)
	}
	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%q is not an http(s) url", raw)
	}
	return nil
}
