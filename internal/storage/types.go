package storage

import (
	"sort"
	"time"
)

// DraftRule is a persisted rule entry.
type DraftRule struct {
	ID     string `json:"id"`
	Domain string `json:"domain"`
	Active bool   `json:"active"`
}

// DraftChange is a persisted pending-change ledger entry.
type DraftChange struct {
	Sequence uint64 `json:"sequence"`
	List     string `json:"list"`
	Action   string `json:"action"`
	Domain   string `json:"domain"`
	RuleID   string `json:"rule_id,omitempty"`
}

// Draft is a snapshot of the optimistic edit state: the confirmed baseline
// per list, the current view per list and the ledger between them.
type Draft struct {
	Revision     int64                  `json:"revision"`
	Confirmed    map[string][]DraftRule `json:"confirmed"`
	Current      map[string][]DraftRule `json:"current"`
	Ledger       []DraftChange          `json:"ledger"`
	NextSequence uint64                 `json:"next_sequence"`
	SavedAt      time.Time              `json:"saved_at"`
}

// Clone returns a deep copy of the draft.
func (d Draft) Clone() Draft {
	out := d
	out.Confirmed = cloneRules(d.Confirmed)
	out.Current = cloneRules(d.Current)
	if d.Ledger != nil {
		out.Ledger = append([]DraftChange(nil), d.Ledger...)
	}
	return out
}

func cloneRules(in map[string][]DraftRule) map[string][]DraftRule {
	if in == nil {
		return nil
	}
	out := make(map[string][]DraftRule, len(in))
	for list, rules := range in {
		out[list] = append([]DraftRule(nil), rules...)
	}
	return out
}

// Lease is a cached device record keyed by MAC address.
type Lease struct {
	MAC       string    `json:"mac"`
	IP        string    `json:"ip"`
	Hostname  string    `json:"hostname"`
	ExpiresAt time.Time `json:"expires_at"` // zero when the router reports no expiry
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired checks if the lease has expired
func (l *Lease) IsExpired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && now.After(l.ExpiresAt)
}

// SortLeases orders leases by MAC so listings are stable across backends.
func SortLeases(leases []Lease) {
	sort.Slice(leases, func(i, j int) bool {
		return leases[i].MAC < leases[j].MAC
	})
}
