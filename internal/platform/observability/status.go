package observability

import (
	"sync"
	"time"
)

// RunStatus is a snapshot of the processing loop state served on /status.
type RunStatus struct {
	Running     bool      `json:"running"`
	CurrentStep string    `json:"current_step,omitempty"`
	LastRun     time.Time `json:"last_run,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	Interval    string    `json:"interval,omitempty"`
	Funnel      string    `json:"funnel,omitempty"`
}

// StatusTracker holds the mutable run state behind a lock so that the
// HTTP handler and the worker loop can share it.
type StatusTracker struct {
	mu     sync.Mutex
	status RunStatus
}

func NewStatusTracker() *StatusTracker {
	return &StatusTracker{}
}

func (t *StatusTracker) SetRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Running = running
	if !running {
		t.status.CurrentStep = ""
	}
}

func (t *StatusTracker) SetStep(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.CurrentStep = step
}

func (t *StatusTracker) SetRunInfo(lastRun, startedAt time.Time, interval time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.LastRun = lastRun
	t.status.StartedAt = startedAt
	t.status.Interval = interval.String()
}

func (t *StatusTracker) SetFunnel(funnel string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.status.Funnel = funnel
}

// Snapshot returns a copy of the current status.
func (t *StatusTracker) Snapshot() RunStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.status
}
