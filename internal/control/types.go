package control

import (
	"github.com/goodtune/homeguard/internal/policy"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// AddRuleRequest is the body of POST /api/rules/{list}.
type AddRuleRequest struct {
	Domain string `json:"domain"`
}

// RulesResponse carries the current lists and the sync state.
type RulesResponse struct {
	Lists map[policy.List][]policy.Rule `json:"lists"`
	State policy.State                  `json:"state"`
}

// RuleResponse is returned by add and toggle.
type RuleResponse struct {
	Rule  policy.Rule  `json:"rule"`
	State policy.State `json:"state"`
}

// ChangesResponse lists the pending ledger.
type ChangesResponse struct {
	Changes []policy.PendingChange `json:"changes"`
	State   policy.State           `json:"state"`
}

// ApplyResponse reports the outcome of an apply.
type ApplyResponse struct {
	Applied int          `json:"applied"`
	State   policy.State `json:"state"`
}
