package policy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// List selects one of the two rule collections.
type List string

const (
	ListBlock List = "block"
	ListAllow List = "allow"
)

// Lists returns every known list in display order.
func Lists() []List {
	return []List{ListBlock, ListAllow}
}

// ParseList normalizes s and validates it as a list name.
func ParseList(s string) (List, error) {
	l := List(strings.ToLower(strings.TrimSpace(s)))
	switch l {
	case ListBlock, ListAllow:
		return l, nil
	default:
		return "", fmt.Errorf("unknown list: %q (must be block or allow)", s)
	}
}

// RuleID identifies a rule locally. IDs are time-ordered UUIDv7 strings and
// are not the backend's own identifiers.
type RuleID string

// Rule is one domain entry in a list.
type Rule struct {
	ID     RuleID `json:"id"`
	Domain string `json:"domain"`
	Active bool   `json:"active"`
}

// Action is the kind of a pending change.
type Action string

const (
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
)

// UnmarshalJSON implements json.Unmarshaler to normalize action to lowercase.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Action(strings.ToLower(s))

	switch normalized {
	case ActionAdd, ActionRemove, ActionEnable, ActionDisable:
		*a = normalized
		return nil
	default:
		return fmt.Errorf("invalid action: %s (must be add, remove, enable or disable)", s)
	}
}

// PendingChange is one ledger entry: a user edit not yet confirmed by the
// router.
type PendingChange struct {
	Sequence uint64 `json:"sequence"`
	List     List   `json:"list"`
	Action   Action `json:"action"`
	Domain   string `json:"domain"`
	RuleID   RuleID `json:"rule_id,omitempty"`
}

// Phase tells whether the local view matches the router.
type Phase string

const (
	PhaseConfirmed  Phase = "confirmed"
	PhaseOptimistic Phase = "optimistic"
)

// State is the sync state shown next to the rule lists.
type State struct {
	Phase       Phase     `json:"phase"`
	Pending     int       `json:"pending"`
	Applying    bool      `json:"applying"`
	LastError   string    `json:"last_error,omitempty"`
	LastApplied time.Time `json:"last_applied,omitempty"`
}

// EventKind classifies an Event.
type EventKind string

const (
	EventRuleAdded      EventKind = "rule_added"
	EventRuleRemoved    EventKind = "rule_removed"
	EventRuleToggled    EventKind = "rule_toggled"
	EventApplyStarted   EventKind = "apply_started"
	EventApplySucceeded EventKind = "apply_succeeded"
	EventApplyFailed    EventKind = "apply_failed"
	EventReconciled     EventKind = "reconciled"
	EventRestored       EventKind = "restored"
	EventStatus         EventKind = "status"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Event is published to subscribers after every state change. Notice is a
// short human-readable message.
type Event struct {
	Kind   EventKind `json:"kind"`
	Level  Level     `json:"level"`
	Notice string    `json:"notice,omitempty"`
	State  State     `json:"state"`
	At     time.Time `json:"at"`
}
