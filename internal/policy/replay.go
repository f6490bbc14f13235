package policy

import "sort"

// Replay applies ledger to confirmed in sequence order and returns the
// resulting lists. Changes match rules by domain within their list, the same
// way the router applies them. Inputs are not modified.
func Replay(confirmed map[List][]Rule, ledger []PendingChange) map[List][]Rule {
	out := cloneLists(confirmed)
	if out == nil {
		out = make(map[List][]Rule)
	}

	changes := append([]PendingChange(nil), ledger...)
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Sequence < changes[j].Sequence
	})

	for _, c := range changes {
		rules := out[c.List]
		i, found := indexOfDomain(rules, c.Domain)

		switch c.Action {
		case ActionAdd:
			if !found {
				rules = append(rules, Rule{ID: c.RuleID, Domain: c.Domain, Active: true})
			}
		case ActionRemove:
			if found {
				rules = append(rules[:i:i], rules[i+1:]...)
			}
		case ActionEnable:
			if found {
				rules[i].Active = true
			}
		case ActionDisable:
			if found {
				rules[i].Active = false
			}
		}

		out[c.List] = rules
	}

	return out
}

// EqualLists reports whether a and b hold the same rules in the same order.
// A missing list and an empty list are equal.
func EqualLists(a, b map[List][]Rule) bool {
	for _, list := range Lists() {
		if !equalRules(a[list], b[list]) {
			return false
		}
	}
	return true
}

func equalRules(a, b []Rule) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
