package policy

// Ledger is the ordered, append-only record of unconfirmed edits. Entries are
// never merged; the only way to shrink it is DropThrough after a confirmed
// apply.
type Ledger struct {
	entries []PendingChange
	next    uint64
}

// NewLedger creates an empty ledger whose first entry gets sequence 1.
func NewLedger() *Ledger {
	return &Ledger{next: 1}
}

// Append records one change and returns it with its sequence number.
func (l *Ledger) Append(list List, action Action, domain string, id RuleID) PendingChange {
	change := PendingChange{
		Sequence: l.next,
		List:     list,
		Action:   action,
		Domain:   domain,
		RuleID:   id,
	}
	l.next++
	l.entries = append(l.entries, change)
	return change
}

// Len returns the number of pending changes.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the pending changes in sequence order.
func (l *Ledger) Entries() []PendingChange {
	return append([]PendingChange{}, l.entries...)
}

// NextSequence returns the sequence the next Append will use.
func (l *Ledger) NextSequence() uint64 {
	return l.next
}

// DropThrough removes every entry with sequence <= seq and returns how many
// were dropped. Entries appended after seq are kept.
func (l *Ledger) DropThrough(seq uint64) int {
	n := 0
	for n < len(l.entries) && l.entries[n].Sequence <= seq {
		n++
	}
	l.entries = append([]PendingChange(nil), l.entries[n:]...)
	return n
}

// restore replaces the ledger wholesale.
func (l *Ledger) restore(entries []PendingChange, next uint64) {
	l.entries = append([]PendingChange(nil), entries...)
	l.next = next
}
