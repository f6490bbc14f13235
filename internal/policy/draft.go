package policy

import (
	"errors"
	"fmt"

	"github.com/goodtune/homeguard/internal/storage"
)

// ErrInvalidDraft is returned by Restore when a persisted draft is not
// internally consistent.
var ErrInvalidDraft = errors.New("invalid draft")

// Export captures the engine state for persistence. Revision is left zero.
func (e *Engine) Export() storage.Draft {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.ledger.Entries()
	ledger := make([]storage.DraftChange, len(entries))
	for i, c := range entries {
		ledger[i] = storage.DraftChange{
			Sequence: c.Sequence,
			List:     string(c.List),
			Action:   string(c.Action),
			Domain:   c.Domain,
			RuleID:   string(c.RuleID),
		}
	}

	return storage.Draft{
		Confirmed:    toDraftRules(e.confirmed),
		Current:      toDraftRules(e.rules.Snapshot()),
		Ledger:       ledger,
		NextSequence: e.ledger.NextSequence(),
		SavedAt:      e.clock.Now(),
	}
}

// Restore loads a persisted draft. The draft must satisfy
// Current == Replay(Confirmed, Ledger); otherwise it is refused and the
// engine is left unchanged.
func (e *Engine) Restore(d storage.Draft) error {
	confirmed, err := fromDraftRules(d.Confirmed)
	if err != nil {
		return err
	}
	current, err := fromDraftRules(d.Current)
	if err != nil {
		return err
	}

	ledger := make([]PendingChange, len(d.Ledger))
	var prev uint64
	for i, c := range d.Ledger {
		list, err := ParseList(c.List)
		if err != nil {
			return fmt.Errorf("%w: ledger entry %d: %v", ErrInvalidDraft, c.Sequence, err)
		}
		action := Action(c.Action)
		switch action {
		case ActionAdd, ActionRemove, ActionEnable, ActionDisable:
		default:
			return fmt.Errorf("%w: ledger entry %d: unknown action %q", ErrInvalidDraft, c.Sequence, c.Action)
		}
		if c.Sequence <= prev {
			return fmt.Errorf("%w: ledger sequence %d out of order", ErrInvalidDraft, c.Sequence)
		}
		prev = c.Sequence
		ledger[i] = PendingChange{
			Sequence: c.Sequence,
			List:     list,
			Action:   action,
			Domain:   c.Domain,
			RuleID:   RuleID(c.RuleID),
		}
	}

	next := d.NextSequence
	if next == 0 && len(ledger) == 0 {
		next = 1
	}
	if next <= prev {
		return fmt.Errorf("%w: next sequence %d not after %d", ErrInvalidDraft, next, prev)
	}

	for list, rules := range current {
		seen := make(map[string]struct{}, len(rules))
		for _, r := range rules {
			if _, dup := seen[r.Domain]; dup {
				return fmt.Errorf("%w: duplicate domain %s in %s list", ErrInvalidDraft, r.Domain, list)
			}
			seen[r.Domain] = struct{}{}
		}
	}

	if !EqualLists(Replay(confirmed, ledger), current) {
		return fmt.Errorf("%w: current rules do not match confirmed rules plus ledger", ErrInvalidDraft)
	}

	e.mu.Lock()
	if e.applying {
		e.mu.Unlock()
		return ErrApplyInProgress
	}
	e.confirmed = confirmed
	e.rules.Load(current)
	e.ledger.restore(ledger, next)
	notice := ""
	if len(ledger) > 0 {
		notice = fmt.Sprintf("Restored %d pending changes", len(ledger))
	}
	ev := e.eventLocked(EventRestored, LevelInfo, notice)
	e.mu.Unlock()

	e.logger.Info().Int("pending", len(ledger)).Msg("Draft restored")
	e.hub.Publish(ev)
	return nil
}

func toDraftRules(in map[List][]Rule) map[string][]storage.DraftRule {
	out := make(map[string][]storage.DraftRule, len(in))
	for list, rules := range in {
		dr := make([]storage.DraftRule, len(rules))
		for i, r := range rules {
			dr[i] = storage.DraftRule{ID: string(r.ID), Domain: r.Domain, Active: r.Active}
		}
		out[string(list)] = dr
	}
	return out
}

func fromDraftRules(in map[string][]storage.DraftRule) (map[List][]Rule, error) {
	out := make(map[List][]Rule, len(in))
	for name, rules := range in {
		list, err := ParseList(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
		}
		rs := make([]Rule, len(rules))
		for i, r := range rules {
			rs[i] = Rule{ID: RuleID(r.ID), Domain: r.Domain, Active: r.Active}
		}
		out[list] = rs
	}
	return out, nil
}
