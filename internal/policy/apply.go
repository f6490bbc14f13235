package policy

import (
	"context"
	"fmt"

	"github.com/goodtune/homeguard/internal/router"
)

// Applier pushes pending changes to the router. The batch endpoint only
// edits the block list, so allow-list changes go through the allow-list
// endpoints one record at a time.
type Applier interface {
	ApplyChanges(ctx context.Context, changes []router.Change) error
	Allowlist(ctx context.Context) ([]router.RuleRecord, error)
	AllowDomain(ctx context.Context, domain string) error
	RemoveAllow(ctx context.Context, id string) ([]router.RuleRecord, error)
	ToggleAllow(ctx context.Context, id string) ([]router.RuleRecord, error)
}

// submit sends block-list changes as one batch, then replays allow-list
// changes in sequence order. Each allow step compares against the router's
// current record first, so resubmitting after a partial failure does not
// repeat steps that already landed.
func submit(ctx context.Context, applier Applier, changes []PendingChange) error {
	var block, allow []PendingChange
	for _, c := range changes {
		switch c.List {
		case ListAllow:
			allow = append(allow, c)
		default:
			block = append(block, c)
		}
	}

	if len(block) > 0 {
		if err := applier.ApplyChanges(ctx, toWire(block)); err != nil {
			return err
		}
	}
	if len(allow) > 0 {
		return applyAllow(ctx, applier, allow)
	}
	return nil
}

func applyAllow(ctx context.Context, applier Applier, changes []PendingChange) error {
	records, err := applier.Allowlist(ctx)
	if err != nil {
		return err
	}
	current := indexAllow(records)

	for _, c := range changes {
		rec, exists := current[c.Domain]
		if exists && rec.ID == "" {
			// Added earlier in this batch; /api/allow does not return the id
			if records, err = applier.Allowlist(ctx); err != nil {
				return err
			}
			current = indexAllow(records)
			rec, exists = current[c.Domain]
		}

		switch c.Action {
		case ActionAdd, ActionEnable:
			if !exists {
				if err := applier.AllowDomain(ctx, c.Domain); err != nil {
					return fmt.Errorf("allow %s: %w", c.Domain, err)
				}
				current[c.Domain] = router.RuleRecord{Domain: c.Domain, Active: true}
				continue
			}
			if rec.Active {
				continue
			}
			records, err = applier.ToggleAllow(ctx, string(rec.ID))
		case ActionDisable:
			if !exists || !rec.Active {
				continue
			}
			records, err = applier.ToggleAllow(ctx, string(rec.ID))
		case ActionRemove:
			if !exists {
				continue
			}
			records, err = applier.RemoveAllow(ctx, string(rec.ID))
		default:
			return fmt.Errorf("unknown action %q for %s", c.Action, c.Domain)
		}
		if err != nil {
			return fmt.Errorf("%s allow %s: %w", c.Action, c.Domain, err)
		}
		current = indexAllow(records)
	}
	return nil
}

// indexAllow keys allow records by normalized domain.
func indexAllow(records []router.RuleRecord) map[string]router.RuleRecord {
	out := make(map[string]router.RuleRecord, len(records))
	for _, r := range records {
		domain, err := NormalizeDomain(r.Domain)
		if err != nil {
			continue
		}
		out[domain] = r
	}
	return out
}

func toWire(changes []PendingChange) []router.Change {
	out := make([]router.Change, len(changes))
	for i, c := range changes {
		out[i] = router.Change{
			Sequence: c.Sequence,
			List:     string(c.List),
			Action:   string(c.Action),
			Domain:   c.Domain,
		}
	}
	return out
}
