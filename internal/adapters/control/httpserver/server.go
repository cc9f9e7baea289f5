package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bnema/botkeeper/internal/domain"
	"github.com/bnema/botkeeper/internal/ports"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultListen = "127.0.0.1:8080"
	AdminUser     = "admin"

	maxGoroutines = 1000
)

// StatusSource reports the state served on /ready and /admin/status.
type StatusSource interface {
	Snapshot() domain.RuntimeRecord
	Ready() error
}

type Options struct {
	Listen     string
	Status     StatusSource
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// Server is the HTTP control surface: health probes, metrics and the
// password-gated admin status.
type Server struct {
	listen  string
	status  StatusSource
	logger  *slog.Logger
	handler http.Handler

	mu       sync.Mutex
	password string
	server   *http.Server
	addr     net.Addr
}

var _ ports.ControlSurface = (*Server)(nil)

func New(opts Options) (*Server, error) {
	if opts.Status == nil {
		return nil, errors.New("control surface requires a status source")
	}
	if opts.Listen == "" {
		opts.Listen = DefaultListen
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{listen: opts.Listen, status: opts.Status, logger: opts.Logger}

	health := healthcheck.NewMetricsHandler(opts.Registerer, "botkeeper")
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	health.AddReadinessCheck("listener", opts.Status.Ready)

	mux := http.NewServeMux()
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/admin/status", s.adminStatus)
	s.handler = mux

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) SetAdminPassword(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.password = password
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("control surface already started")
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.listen, err)
	}

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = server
	s.addr = listener.Addr()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control_surface_failed", "error", err)
		}
	}()

	s.logger.Info("control_surface_started", "addr", s.addr.String())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

type statusResponse struct {
	BotID               string    `json:"bot_id"`
	StartedAt           time.Time `json:"started_at"`
	LastLoginAt         time.Time `json:"last_login_at"`
	LastCheckpointAt    time.Time `json:"last_checkpoint_at"`
	LastCheckpointError string    `json:"last_checkpoint_error,omitempty"`
	LastRotationAt      time.Time `json:"last_rotation_at"`
	ListenerID          string    `json:"listener_id,omitempty"`
	Rotations           int64     `json:"rotations"`
	Restarts            int64     `json:"restarts"`
	Encrypted           bool      `json:"encrypted"`
	Ready               bool      `json:"ready"`
}

func (s *Server) adminStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.checkAuth(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="botkeeper"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	record := s.status.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{
		BotID:               record.BotID,
		StartedAt:           record.StartedAt,
		LastLoginAt:         record.LastLoginAt,
		LastCheckpointAt:    record.LastCheckpointAt,
		LastCheckpointError: record.LastCheckpointError,
		LastRotationAt:      record.LastRotationAt,
		ListenerID:          string(record.ListenerID),
		Rotations:           record.Rotations,
		Restarts:            record.Restarts,
		Encrypted:           record.Encrypted,
		Ready:               s.status.Ready() == nil,
	})
}

func (s *Server) checkAuth(r *http.Request) bool {
	s.mu.Lock()
	password := s.password
	s.mu.Unlock()

	if password == "" {
		return false
	}
	user, got, ok := r.BasicAuth()
	if !ok || user != AdminUser {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(password)) == 1
}
