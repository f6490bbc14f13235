package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/homeguard/internal/metrics"
	"github.com/goodtune/homeguard/internal/notify"
	"github.com/goodtune/homeguard/internal/router"
	"github.com/rs/zerolog"
)

var (
	// ErrApplyInProgress is returned when Apply is called while another apply
	// is still waiting for the router.
	ErrApplyInProgress = errors.New("apply already in progress")
	// ErrReconcileDeferred is returned when a router snapshot arrives while
	// local edits are unconfirmed.
	ErrReconcileDeferred = errors.New("reconcile deferred: local changes pending")
)

// Engine is the optimistic rule editor. User edits change the local view
// immediately and are recorded in the ledger; Apply sends the ledger to the
// router in one all-or-nothing submission. The current view always equals
// the confirmed baseline replayed with the ledger.
type Engine struct {
	mu          sync.Mutex
	rules       *RuleStore
	ledger      *Ledger
	confirmed   map[List][]Rule
	applying    bool
	lastErr     string
	lastApplied time.Time

	applier Applier
	hub     *notify.Hub[Event]
	dirty   chan struct{}
	clock   Clock
	logger  zerolog.Logger
}

// NewEngine creates an engine with empty lists
func NewEngine(applier Applier, logger zerolog.Logger) *Engine {
	return &Engine{
		rules:     NewRuleStore(),
		ledger:    NewLedger(),
		confirmed: make(map[List][]Rule),
		applier:   applier,
		hub:       notify.NewHub[Event](),
		dirty:     make(chan struct{}, 1),
		clock:     RealClock{}, // Use real time by default
		logger:    logger.With().Str("component", "policy").Logger(),
	}
}

// SetClock sets the clock used to stamp events (for testing)
func (e *Engine) SetClock(clock Clock) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// Add appends an active rule for domain to list and records an add.
func (e *Engine) Add(list List, domain string) (Rule, error) {
	e.mu.Lock()
	rule, err := e.rules.Add(list, domain)
	if err != nil {
		e.mu.Unlock()
		return Rule{}, err
	}
	change := e.ledger.Append(list, ActionAdd, rule.Domain, rule.ID)
	ev := e.eventLocked(EventRuleAdded, LevelSuccess, fmt.Sprintf("%s added to pending changes", rule.Domain))
	e.mu.Unlock()

	e.logger.Debug().
		Str("list", string(list)).
		Str("domain", rule.Domain).
		Uint64("sequence", change.Sequence).
		Msg("Rule added")
	e.hub.Publish(ev)
	return rule, nil
}

// Remove deletes the rule with id from list and records a remove. An unknown
// id is a no-op and reports false.
func (e *Engine) Remove(list List, id RuleID) (bool, error) {
	if err := checkList(list); err != nil {
		return false, err
	}

	e.mu.Lock()
	rule, ok := e.rules.Remove(list, id)
	if !ok {
		e.mu.Unlock()
		return false, nil
	}
	change := e.ledger.Append(list, ActionRemove, rule.Domain, rule.ID)
	ev := e.eventLocked(EventRuleRemoved, LevelSuccess, fmt.Sprintf("%s removed (pending apply)", rule.Domain))
	e.mu.Unlock()

	e.logger.Debug().
		Str("list", string(list)).
		Str("domain", rule.Domain).
		Uint64("sequence", change.Sequence).
		Msg("Rule removed")
	e.hub.Publish(ev)
	return true, nil
}

// Toggle flips the rule with id and records enable or disable. An unknown id
// is a no-op and reports false.
func (e *Engine) Toggle(list List, id RuleID) (Rule, bool, error) {
	if err := checkList(list); err != nil {
		return Rule{}, false, err
	}

	e.mu.Lock()
	rule, ok := e.rules.Toggle(list, id)
	if !ok {
		e.mu.Unlock()
		return Rule{}, false, nil
	}
	action := ActionDisable
	if rule.Active {
		action = ActionEnable
	}
	change := e.ledger.Append(list, action, rule.Domain, rule.ID)
	ev := e.eventLocked(EventRuleToggled, LevelSuccess, fmt.Sprintf("%s %sd (pending apply)", rule.Domain, action))
	e.mu.Unlock()

	e.logger.Debug().
		Str("list", string(list)).
		Str("domain", rule.Domain).
		Str("action", string(action)).
		Uint64("sequence", change.Sequence).
		Msg("Rule toggled")
	e.hub.Publish(ev)
	return rule, true, nil
}

// Rules returns the current (optimistic) content of list.
func (e *Engine) Rules(list List) []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rules.Rules(list)
}

// Snapshot returns the current content of every list.
func (e *Engine) Snapshot() map[List][]Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rules.Snapshot()
}

// Confirmed returns the last router-confirmed baseline.
func (e *Engine) Confirmed() map[List][]Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneLists(e.confirmed)
}

// Changes returns the pending ledger in sequence order.
func (e *Engine) Changes() []PendingChange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Entries()
}

// State returns the current sync state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Apply submits the whole ledger to the router and returns how many entries
// were confirmed. On success the submitted entries leave the ledger and
// become part of the confirmed baseline; edits made while the request was
// outstanding stay pending. On failure nothing is rolled back and the ledger
// is kept for the next attempt.
//
// Once the request is sent it runs to completion even if ctx is cancelled.
func (e *Engine) Apply(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.applying {
		e.mu.Unlock()
		return 0, ErrApplyInProgress
	}
	if e.ledger.Len() == 0 {
		e.mu.Unlock()
		return 0, nil
	}
	submitted := e.ledger.Entries()
	e.applying = true
	started := e.eventLocked(EventApplyStarted, LevelInfo, fmt.Sprintf("Applying %d changes", len(submitted)))
	e.mu.Unlock()

	e.hub.Publish(started)
	e.logger.Info().Int("changes", len(submitted)).Msg("Applying pending changes")

	start := time.Now()
	err := submit(context.WithoutCancel(ctx), e.applier, submitted)
	metrics.ApplyDuration.Observe(time.Since(start).Seconds())

	e.mu.Lock()
	e.applying = false

	if err != nil {
		e.lastErr = err.Error()
		ev := e.eventLocked(EventApplyFailed, LevelError, "Failed to apply changes")
		e.mu.Unlock()

		metrics.ApplyTotal.WithLabelValues(applyResult(err)).Inc()
		e.logger.Error().Err(err).Int("changes", len(submitted)).Msg("Apply failed, changes kept pending")
		e.hub.Publish(ev)
		return 0, fmt.Errorf("failed to apply changes: %w", err)
	}

	last := submitted[len(submitted)-1].Sequence
	e.ledger.DropThrough(last)
	e.confirmed = Replay(e.confirmed, submitted)
	e.lastErr = ""
	e.lastApplied = e.clock.Now()
	remaining := e.ledger.Len()
	ev := e.eventLocked(EventApplySucceeded, LevelSuccess, "Changes applied successfully! DNS reloading...")
	e.mu.Unlock()

	metrics.ApplyTotal.WithLabelValues("ok").Inc()
	e.logger.Info().
		Int("applied", len(submitted)).
		Int("remaining", remaining).
		Msg("Pending changes applied")
	e.hub.Publish(ev)
	return len(submitted), nil
}

// Reconcile replaces lists with a router snapshot. Lists missing from
// snapshot are left alone. Local IDs are kept for domains already present.
// It is refused with ErrReconcileDeferred while edits are unconfirmed.
func (e *Engine) Reconcile(snapshot map[List][]Rule) error {
	for list := range snapshot {
		if err := checkList(list); err != nil {
			return err
		}
	}

	e.mu.Lock()
	if e.applying || e.ledger.Len() > 0 {
		e.mu.Unlock()
		return ErrReconcileDeferred
	}

	current := e.rules.Snapshot()
	next := cloneLists(current)
	if next == nil {
		next = make(map[List][]Rule)
	}
	for list, records := range snapshot {
		next[list] = e.adoptLocked(current[list], records)
	}

	if EqualLists(current, next) {
		e.confirmed = cloneLists(next)
		e.mu.Unlock()
		return nil
	}

	e.rules.Load(next)
	e.confirmed = cloneLists(next)
	ev := e.eventLocked(EventReconciled, LevelInfo, "")
	e.mu.Unlock()

	e.logger.Debug().Msg("Rules reconciled from router")
	e.hub.Publish(ev)
	return nil
}

// adoptLocked builds a list from router records, reusing local IDs by domain.
// Invalid and duplicate domains from the router are dropped.
func (e *Engine) adoptLocked(local []Rule, records []Rule) []Rule {
	out := make([]Rule, 0, len(records))
	for _, rec := range records {
		domain, err := NormalizeDomain(rec.Domain)
		if err != nil {
			e.logger.Warn().Str("domain", rec.Domain).Msg("Ignoring invalid domain from router")
			continue
		}
		if _, dup := indexOfDomain(out, domain); dup {
			continue
		}

		id := e.rules.newID()
		if i, ok := indexOfDomain(local, domain); ok {
			id = local[i].ID
		}
		out = append(out, Rule{ID: id, Domain: domain, Active: rec.Active})
	}
	return out
}

// Subscribe returns a channel of engine events and a cancel func.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	return e.hub.Subscribe(buffer)
}

// Notify publishes a notice that is not tied to a rule edit, stamped with
// the current state.
func (e *Engine) Notify(kind EventKind, level Level, notice string) {
	e.mu.Lock()
	ev := e.eventLocked(kind, level, notice)
	e.mu.Unlock()
	e.hub.Publish(ev)
}

// Dirty receives once after any change to the persisted draft. Changes made
// before the receive are coalesced into one signal, so a slow reader never
// misses the latest state. It has a single reader.
func (e *Engine) Dirty() <-chan struct{} {
	return e.dirty
}

// Close closes every subscription.
func (e *Engine) Close() {
	e.hub.Close()
}

func (e *Engine) stateLocked() State {
	s := State{
		Phase:       PhaseConfirmed,
		Pending:     e.ledger.Len(),
		Applying:    e.applying,
		LastError:   e.lastErr,
		LastApplied: e.lastApplied,
	}
	if s.Pending > 0 {
		s.Phase = PhaseOptimistic
	}
	return s
}

func (e *Engine) eventLocked(kind EventKind, level Level, notice string) Event {
	state := e.stateLocked()
	metrics.PendingChanges.Set(float64(state.Pending))
	if persistable(kind) {
		select {
		case e.dirty <- struct{}{}:
		default:
		}
	}
	return Event{
		Kind:   kind,
		Level:  level,
		Notice: notice,
		State:  state,
		At:     e.clock.Now(),
	}
}

func applyResult(err error) string {
	switch {
	case router.IsRejected(err):
		return "rejected"
	case router.IsTransport(err):
		return "transport"
	default:
		return "error"
	}
}
