package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAdvanceMovesNow(t *testing.T) {
	t.Parallel()

	c := NewFake(epoch)
	c.Advance(90 * time.Minute)
	assert.Equal(t, epoch.Add(90*time.Minute), c.Now())
}

func TestFakeTickerDeliversOncePerInterval(t *testing.T) {
	t.Parallel()

	c := NewFake(epoch)
	ticker := c.NewTicker(time.Hour)

	c.Advance(59 * time.Minute)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(time.Minute)
	select {
	case at := <-ticker.C():
		assert.Equal(t, epoch.Add(time.Hour), at)
	default:
		t.Fatal("ticker did not fire")
	}
}

func TestFakeTickerDropsTicksWhenConsumerLags(t *testing.T) {
	t.Parallel()

	c := NewFake(epoch)
	ticker := c.NewTicker(time.Hour)
	c.Advance(5 * time.Hour)

	<-ticker.C()
	select {
	case <-ticker.C():
		t.Fatal("expected buffered ticks to be dropped")
	default:
	}
}

func TestFakeTickerStop(t *testing.T) {
	t.Parallel()

	c := NewFake(epoch)
	ticker := c.NewTicker(time.Hour)
	require.Equal(t, 1, c.Pending())

	ticker.Stop()
	c.Advance(2 * time.Hour)
	assert.Equal(t, 0, c.Pending())
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeAfterFuncFiresOnceAndStopReportsState(t *testing.T) {
	t.Parallel()

	c := NewFake(epoch)
	var calls atomic.Int32
	timer := c.AfterFunc(30*time.Minute, func() { calls.Add(1) })

	c.Advance(time.Hour)
	c.Advance(time.Hour)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, timer.Stop())

	stopped := c.AfterFunc(time.Minute, func() { calls.Add(1) })
	assert.True(t, stopped.Stop())
	c.Advance(time.Hour)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFakeAfterFuncNonPositiveRunsImmediately(t *testing.T) {
	t.Parallel()

	c := NewFake(epoch)
	ran := false
	c.AfterFunc(0, func() { ran = true })
	assert.True(t, ran)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeWaitForWaiters(t *testing.T) {
	t.Parallel()

	c := NewFake(epoch)
	done := make(chan struct{})
	go func() {
		c.WaitForWaiters(2)
		close(done)
	}()

	c.NewTicker(time.Hour)
	c.AfterFunc(time.Hour, func() {})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForWaiters did not return")
	}
}
