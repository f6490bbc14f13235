package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/miekg/dns"
)

var (
	// ErrEmptyDomain is returned when an add is given a blank domain.
	ErrEmptyDomain = errors.New("domain is empty")
	// ErrInvalidDomain is returned when an add is given something that is not a host name.
	ErrInvalidDomain = errors.New("domain is not a valid host name")
	// ErrDuplicateDomain is returned when the domain is already in the list.
	ErrDuplicateDomain = errors.New("domain already in list")
	// ErrUnknownList is returned for a list other than block or allow.
	ErrUnknownList = errors.New("unknown list")
)

// NormalizeDomain trims, lowercases and strips the trailing root dot, then
// checks that what remains is a host name.
func NormalizeDomain(raw string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimSuffix(d, ".")
	if d == "" {
		return "", ErrEmptyDomain
	}

	if strings.ContainsAny(d, " \t/\\:@") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	if _, ok := dns.IsDomainName(d); !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	return d, nil
}

// NewRuleID returns a fresh time-ordered rule identifier.
func NewRuleID() RuleID {
	id, err := uuid.NewV7()
	if err != nil {
		return RuleID(uuid.NewString())
	}
	return RuleID(id.String())
}

// RuleStore holds the two rule collections in insertion order. It is not
// safe for concurrent use; Engine serializes access.
type RuleStore struct {
	lists map[List][]Rule
	newID func() RuleID
}

// NewRuleStore creates an empty store
func NewRuleStore() *RuleStore {
	return &RuleStore{
		lists: make(map[List][]Rule),
		newID: NewRuleID,
	}
}

// Add appends an active rule for domain and returns it.
func (s *RuleStore) Add(list List, domain string) (Rule, error) {
	if err := checkList(list); err != nil {
		return Rule{}, err
	}

	d, err := NormalizeDomain(domain)
	if err != nil {
		return Rule{}, err
	}
	if _, ok := s.indexOfDomain(list, d); ok {
		return Rule{}, fmt.Errorf("%w: %s", ErrDuplicateDomain, d)
	}

	rule := Rule{ID: s.newID(), Domain: d, Active: true}
	s.lists[list] = append(s.lists[list], rule)
	return rule, nil
}

// Remove deletes the rule with id. It reports false when no such rule exists.
func (s *RuleStore) Remove(list List, id RuleID) (Rule, bool) {
	i, ok := s.indexOfID(list, id)
	if !ok {
		return Rule{}, false
	}

	rules := s.lists[list]
	removed := rules[i]
	s.lists[list] = append(rules[:i:i], rules[i+1:]...)
	return removed, true
}

// Toggle flips the active flag of the rule with id and returns the updated rule.
func (s *RuleStore) Toggle(list List, id RuleID) (Rule, bool) {
	i, ok := s.indexOfID(list, id)
	if !ok {
		return Rule{}, false
	}

	s.lists[list][i].Active = !s.lists[list][i].Active
	return s.lists[list][i], true
}

// Rules returns a copy of one list.
func (s *RuleStore) Rules(list List) []Rule {
	return append([]Rule{}, s.lists[list]...)
}

// Snapshot returns a deep copy of every list.
func (s *RuleStore) Snapshot() map[List][]Rule {
	return cloneLists(s.lists)
}

// Load replaces the contents without recording anything in a ledger.
func (s *RuleStore) Load(lists map[List][]Rule) {
	s.lists = cloneLists(lists)
	if s.lists == nil {
		s.lists = make(map[List][]Rule)
	}
}

func (s *RuleStore) indexOfID(list List, id RuleID) (int, bool) {
	for i, r := range s.lists[list] {
		if r.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (s *RuleStore) indexOfDomain(list List, domain string) (int, bool) {
	return indexOfDomain(s.lists[list], domain)
}

func indexOfDomain(rules []Rule, domain string) (int, bool) {
	for i, r := range rules {
		if r.Domain == domain {
			return i, true
		}
	}
	return -1, false
}

func checkList(list List) error {
	switch list {
	case ListBlock, ListAllow:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownList, list)
	}
}

func cloneLists(in map[List][]Rule) map[List][]Rule {
	if in == nil {
		return nil
	}
	out := make(map[List][]Rule, len(in))
	for list, rules := range in {
		out[list] = append([]Rule(nil), rules...)
	}
	return out
}
