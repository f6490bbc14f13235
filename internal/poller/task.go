// Package poller runs periodic fetches of router state. Each task has at most
// one fetch outstanding; ticks that arrive while it is busy are dropped.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/homeguard/internal/metrics"
)

// ErrInFlight is returned by Trigger when the task already has a fetch
// outstanding.
var ErrInFlight = errors.New("fetch already in flight")

// FetchFunc retrieves one resource.
type FetchFunc func(ctx context.Context) error

// Task is one periodically fetched resource.
type Task struct {
	Name     string
	Interval time.Duration // <= 0 means the task only runs on demand
	Fetch    FetchFunc
	Enabled  func() bool // nil means always enabled

	inFlight atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
	runs    uint64
	skipped uint64
}

// TaskStatus is a snapshot of a task's recent activity.
type TaskStatus struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	InFlight  bool          `json:"in_flight"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	Runs      uint64        `json:"runs"`
	Skipped   uint64        `json:"skipped"`
}

// IsEnabled reports whether the task should run now.
func (t *Task) IsEnabled() bool {
	return t.Enabled == nil || t.Enabled()
}

// Trigger runs one fetch synchronously. It returns ErrInFlight without
// fetching when another fetch of this task is outstanding.
func (t *Task) Trigger(ctx context.Context) error {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.mu.Lock()
		t.skipped++
		t.mu.Unlock()
		metrics.PollSkipped.WithLabelValues(t.Name).Inc()
		return ErrInFlight
	}
	defer t.inFlight.Store(false)

	err := t.Fetch(ctx)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.PollTotal.WithLabelValues(t.Name, result).Inc()

	t.mu.Lock()
	t.lastRun = time.Now()
	t.lastErr = err
	t.runs++
	t.mu.Unlock()

	return err
}

// InFlight reports whether a fetch is outstanding.
func (t *Task) InFlight() bool {
	return t.inFlight.Load()
}

// Status returns a snapshot of the task's activity.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := TaskStatus{
		Name:     t.Name,
		Interval: t.Interval,
		InFlight: t.inFlight.Load(),
		LastRun:  t.lastRun,
		Runs:     t.runs,
		Skipped:  t.skipped,
	}
	if t.lastErr != nil {
		s.LastError = t.lastErr.Error()
	}
	return s
}
