package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Scheduler drives a fixed set of tasks.
type Scheduler struct {
	tasks  []*Task
	logger zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a scheduler for tasks
func NewScheduler(logger zerolog.Logger, tasks ...*Task) *Scheduler {
	return &Scheduler{
		tasks:  tasks,
		logger: logger.With().Str("component", "poller").Logger(),
	}
}

// Tasks returns the scheduled tasks
func (s *Scheduler) Tasks() []*Task {
	return append([]*Task(nil), s.tasks...)
}

// Task returns the task with name, or nil.
func (s *Scheduler) Task(name string) *Task {
	for _, t := range s.tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Start begins polling. Every task with a positive interval fires once
// immediately and then once per interval until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, t := range s.tasks {
		if t.Interval <= 0 {
			s.logger.Debug().Str("task", t.Name).Msg("Task has no interval, on-demand only")
			continue
		}
		s.wg.Add(1)
		go s.run(runCtx, t)
	}

	s.logger.Info().Int("tasks", len(s.tasks)).Msg("Poller started")
	return nil
}

// Stop cancels all timers and in-flight fetches and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("Poller stopped")
}

// RefreshAll triggers every enabled task concurrently and waits for them.
// Tasks that are already fetching are not triggered again.
func (s *Scheduler) RefreshAll(ctx context.Context) error {
	var g errgroup.Group

	for _, t := range s.tasks {
		if !t.IsEnabled() {
			continue
		}
		g.Go(func() error {
			err := t.Trigger(ctx)
			if err == nil || errors.Is(err, ErrInFlight) {
				return nil
			}
			return fmt.Errorf("%s: %w", t.Name, err)
		})
	}

	return g.Wait()
}

// run is the per-task loop
func (s *Scheduler) run(ctx context.Context, t *Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	var fetches sync.WaitGroup
	defer fetches.Wait()

	tick := func() {
		if !t.IsEnabled() {
			return
		}
		fetches.Add(1)
		go func() {
			defer fetches.Done()
			err := t.Trigger(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrInFlight):
				s.logger.Debug().Str("task", t.Name).Msg("Previous fetch still running, tick skipped")
			case ctx.Err() != nil:
			default:
				s.logger.Warn().Err(err).Str("task", t.Name).Msg("Poll failed, keeping last known state")
			}
		}()
	}

	tick()
	for {
		select {
		case <-ticker.C:
			tick()
		case <-ctx.Done():
			return
		}
	}
}
