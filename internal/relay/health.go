package relay

import (
	"sync/atomic"
	"time"
)

// HealthTracker exposes the relay's liveness to the operational surface using
// atomics only; health probes never contend with the relay loop.
type HealthTracker struct {
	running         atomic.Bool
	healthy         atomic.Bool
	eventsProcessed atomic.Int64
	lastEventNano   atomic.Int64
	startedNano     atomic.Int64
	stalenessWindow time.Duration
}

// HealthStatus is the snapshot returned to health endpoints
type HealthStatus struct {
	Running            bool          `json:"running"`
	Healthy            bool          `json:"healthy"`
	Stale              bool          `json:"stale"`
	EventsProcessed    int64         `json:"events_processed"`
	LastEventTime      time.Time     `json:"last_event_time,omitempty"`
	TimeSinceLastEvent time.Duration `json:"time_since_last_event,omitempty"`
}

// NewHealthTracker creates a tracker with the given staleness window
func NewHealthTracker(stalenessWindow time.Duration) *HealthTracker {
	t := &HealthTracker{stalenessWindow: stalenessWindow}
	t.healthy.Store(true)
	return t
}

// MarkRunning records that the relay loop started
func (t *HealthTracker) MarkRunning() {
	t.startedNano.Store(time.Now().UnixNano())
	t.running.Store(true)
}

// MarkStopped records that the relay loop exited
func (t *HealthTracker) MarkStopped() {
	t.running.Store(false)
}

// RecordSuccess records a successfully relayed event
func (t *HealthTracker) RecordSuccess() {
	t.eventsProcessed.Add(1)
	t.lastEventNano.Store(time.Now().UnixNano())
	t.healthy.Store(true)
}

// RecordFailure marks the relay unhealthy until the next successful publish
func (t *HealthTracker) RecordFailure() {
	t.healthy.Store(false)
}

// Status returns a point-in-time snapshot. Stale means no event has been
// relayed within the staleness window; before the first event the window is
// measured from startup, so a relay that never manages to publish anything
// still trips the probe instead of reporting healthy forever.
func (t *HealthTracker) Status() HealthStatus {
	status := HealthStatus{
		Running:         t.running.Load(),
		Healthy:         t.healthy.Load(),
		EventsProcessed: t.eventsProcessed.Load(),
	}

	if nano := t.lastEventNano.Load(); nano > 0 {
		status.LastEventTime = time.Unix(0, nano)
		status.TimeSinceLastEvent = time.Since(status.LastEventTime)
		status.Stale = status.TimeSinceLastEvent > t.stalenessWindow
	} else if started := t.startedNano.Load(); started > 0 {
		status.Stale = time.Since(time.Unix(0, started)) > t.stalenessWindow
	}

	return status
}

// IsHealthy is the boolean the readiness probe keys on
func (t *HealthTracker) IsHealthy() bool {
	status := t.Status()
	return status.Running && status.Healthy && !status.Stale
}
