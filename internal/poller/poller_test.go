package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestTask_TriggerSkipsWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var calls atomic.Int32

	task := &Task{
		Name: "stats",
		Fetch: func(ctx context.Context) error {
			calls.Add(1)
			entered <- struct{}{}
			<-release
			return nil
		},
	}

	done := make(chan error, 1)
	go func() { done <- task.Trigger(context.Background()) }()
	<-entered

	if !task.InFlight() {
		t.Error("Expected task to be in flight")
	}
	if err := task.Trigger(context.Background()); !errors.Is(err, ErrInFlight) {
		t.Errorf("Expected ErrInFlight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Trigger failed: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("Expected 1 fetch, got %d", calls.Load())
	}
	status := task.Status()
	if status.Runs != 1 || status.Skipped != 1 || status.InFlight {
		t.Errorf("Unexpected status: %+v", status)
	}
}

func TestTask_RecordsLastError(t *testing.T) {
	task := &Task{
		Name:  "status",
		Fetch: func(ctx context.Context) error { return errors.New("router unreachable") },
	}

	if err := task.Trigger(context.Background()); err == nil {
		t.Fatal("Expected fetch error")
	}
	if got := task.Status().LastError; got != "router unreachable" {
		t.Errorf("Expected last error to be recorded, got %q", got)
	}
}

func TestScheduler_OverlappingTicksAreSkipped(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32

	task := &Task{
		Name:     "slow",
		Interval: 5 * time.Millisecond,
		Fetch: func(ctx context.Context) error {
			calls.Add(1)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	}

	s := NewScheduler(zerolog.Nop(), task)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Several intervals pass while the first fetch is outstanding
	time.Sleep(50 * time.Millisecond)

	if got := calls.Load(); got != 1 {
		t.Errorf("Expected exactly 1 outstanding fetch, got %d", got)
	}
	if task.Status().Skipped == 0 {
		t.Error("Expected skipped ticks to be counted")
	}

	close(release)
	s.Stop()
}

func TestScheduler_ImmediateTickAndStop(t *testing.T) {
	var calls atomic.Int32
	task := &Task{
		Name:     "status",
		Interval: time.Hour,
		Fetch: func(ctx context.Context) error {
			calls.Add(1)
			return nil
		},
	}

	s := NewScheduler(zerolog.Nop(), task)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected an immediate first fetch")
		}
		time.Sleep(time.Millisecond)
	}

	s.Stop()
	s.Stop()
}

func TestScheduler_StopCancelsInFlightFetch(t *testing.T) {
	entered := make(chan struct{}, 1)
	cancelled := make(chan struct{})

	task := &Task{
		Name:     "hung",
		Interval: time.Hour,
		Fetch: func(ctx context.Context) error {
			entered <- struct{}{}
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	}

	s := NewScheduler(zerolog.Nop(), task)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	<-entered

	s.Stop()

	select {
	case <-cancelled:
	default:
		t.Error("Expected Stop to cancel and wait for the in-flight fetch")
	}
}

func TestScheduler_DisabledTaskDoesNotRun(t *testing.T) {
	var enabled atomic.Bool
	var calls atomic.Int32

	task := &Task{
		Name:     "adblock",
		Interval: 5 * time.Millisecond,
		Enabled:  enabled.Load,
		Fetch: func(ctx context.Context) error {
			calls.Add(1)
			return nil
		},
	}

	s := NewScheduler(zerolog.Nop(), task)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	time.Sleep(30 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("Expected no fetches while disabled, got %d", calls.Load())
	}

	enabled.Store(true)
	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected fetches once enabled")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScheduler_RefreshAll(t *testing.T) {
	var statusCalls, statsCalls, disabledCalls atomic.Int32

	s := NewScheduler(zerolog.Nop(),
		&Task{Name: "status", Fetch: func(ctx context.Context) error { statusCalls.Add(1); return nil }},
		&Task{Name: "stats", Fetch: func(ctx context.Context) error { statsCalls.Add(1); return errors.New("boom") }},
		&Task{
			Name:    "adblock",
			Enabled: func() bool { return false },
			Fetch:   func(ctx context.Context) error { disabledCalls.Add(1); return nil },
		},
	)

	err := s.RefreshAll(context.Background())
	if err == nil {
		t.Fatal("Expected error from failing task")
	}
	if statusCalls.Load() != 1 || statsCalls.Load() != 1 {
		t.Errorf("Expected each enabled task once, got status=%d stats=%d", statusCalls.Load(), statsCalls.Load())
	}
	if disabledCalls.Load() != 0 {
		t.Error("Expected disabled task to be skipped")
	}
	if s.Task("stats") == nil || s.Task("nope") != nil {
		t.Error("Task lookup by name is broken")
	}
}
