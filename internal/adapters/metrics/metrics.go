package metrics

import (
	"time"

	"github.com/bnema/botkeeper/internal/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "botkeeper"

// Metrics exports lifecycle counters to prometheus.
type Metrics struct {
	loginAttempts   *prometheus.CounterVec
	listenerStarts  prometheus.Counter
	listenerStops   prometheus.Counter
	activeListeners prometheus.Gauge
	rotations       *prometheus.CounterVec
	checkpoints     *prometheus.CounterVec
	lastCheckpoint  prometheus.Gauge
	lateEvents      prometheus.Counter
	forwardedEvents prometheus.Counter
	commands        *prometheus.CounterVec

	now func() time.Time
}

var _ ports.Metrics = (*Metrics)(nil)

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts against the messaging platform by result.",
		}, []string{"result"}),
		listenerStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_starts_total",
			Help:      "Realtime listeners opened.",
		}),
		listenerStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_stops_total",
			Help:      "Realtime listeners closed or lost.",
		}),
		activeListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listeners_active",
			Help:      "Realtime listeners currently open.",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_rotations_total",
			Help:      "Listener rotations by result.",
		}, []string{"result"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Session state checkpoints by result.",
		}, []string{"result"}),
		lastCheckpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_checkpoint_timestamp_seconds",
			Help:      "Unix time of the last successful checkpoint.",
		}),
		lateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_events_dropped_total",
			Help:      "Events received from a listener that was no longer active.",
		}),
		forwardedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_forwarded_total",
			Help:      "Events handed to the command dispatcher.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_handled_total",
			Help:      "Commands executed by name and result.",
		}, []string{"command", "result"}),
		now: time.Now,
	}

	for _, collector := range []prometheus.Collector{
		m.loginAttempts,
		m.listenerStarts,
		m.listenerStops,
		m.activeListeners,
		m.rotations,
		m.checkpoints,
		m.lastCheckpoint,
		m.lateEvents,
		m.forwardedEvents,
		m.commands,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) LoginAttempt(success bool) {
	m.loginAttempts.WithLabelValues(result(success)).Inc()
}

func (m *Metrics) ListenerStarted() {
	m.listenerStarts.Inc()
	m.activeListeners.Inc()
}

func (m *Metrics) ListenerStopped() {
	m.listenerStops.Inc()
	m.activeListeners.Dec()
}

func (m *Metrics) Rotation(err error) {
	m.rotations.WithLabelValues(result(err == nil)).Inc()
}

func (m *Metrics) Checkpoint(err error) {
	m.checkpoints.WithLabelValues(result(err == nil)).Inc()
	if err == nil {
		m.lastCheckpoint.Set(float64(m.now().Unix()))
	}
}

func (m *Metrics) LateEventDropped() {
	m.lateEvents.Inc()
}

func (m *Metrics) EventForwarded() {
	m.forwardedEvents.Inc()
}

// CommandHandled counts one dispatched command.
func (m *Metrics) CommandHandled(command string, err error) {
	m.commands.WithLabelValues(command, result(err == nil)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
