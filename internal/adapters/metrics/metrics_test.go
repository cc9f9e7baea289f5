package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCountLifecycleEvents(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)
	m.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	m.LoginAttempt(false)
	m.LoginAttempt(true)
	m.ListenerStarted()
	m.ListenerStopped()
	m.ListenerStarted()
	m.Rotation(nil)
	m.Rotation(errors.New("dial failed"))
	m.Checkpoint(nil)
	m.Checkpoint(errors.New("disk full"))
	m.LateEventDropped()
	m.EventForwarded()
	m.EventForwarded()
	m.CommandHandled("ping", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginAttempts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.loginAttempts.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.listenerStarts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeListeners))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rotations.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkpoints.WithLabelValues("success")))
	assert.Equal(t, 1_700_000_000.0, testutil.ToFloat64(m.lastCheckpoint))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lateEvents))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.forwardedEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("ping", "success")))
}

func TestMetricsExposition(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	require.NoError(t, err)

	m.LateEventDropped()

	expected := `
# HELP botkeeper_late_events_dropped_total Events received from a listener that was no longer active.
# TYPE botkeeper_late_events_dropped_total counter
botkeeper_late_events_dropped_total 1
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "botkeeper_late_events_dropped_total"))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := New(registry)
	require.NoError(t, err)

	_, err = New(registry)
	assert.Error(t, err)
}

func TestNewRegistryIncludesRuntimeCollectors(t *testing.T) {
	families, err := NewRegistry().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}
	assert.Contains(t, names, "go_goroutines")
}
