package ports

type Metrics interface {
	LoginAttempt(success bool)
	ListenerStarted()
	ListenerStopped()
	Rotation(err error)
	Checkpoint(err error)
	LateEventDropped()
	EventForwarded()
}

type NopMetrics struct{}

func (NopMetrics) LoginAttempt(bool) {}
func (NopMetrics) ListenerStarted() {}
func (NopMetrics) ListenerStopped() {}
func (NopMetrics) Rotation(error) {}
func (NopMetrics) Checkpoint(error) {}
func (NopMetrics) LateEventDropped() {}
func (NopMetrics) EventForwarded() {}
