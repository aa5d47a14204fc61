// Package ledger tracks which message UIDs have already been picked up for
// notification during one watcher run.
package ledger

import "sync"

// Ledger is a set of reserved UIDs. Entries are only ever added; the whole set
// is dropped with Clear when the watcher stops.
type Ledger struct {
	mu   sync.Mutex
	seen map[uint32]struct{}
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{seen: make(map[uint32]struct{})}
}

// Reserve returns the UIDs from uids that were not yet in the ledger and adds
// them in the same step, so two callers can never both receive the same UID.
// Order is preserved and duplicates within uids are collapsed.
func (l *Ledger) Reserve(uids []uint32) []uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var fresh []uint32
	for _, uid := range uids {
		if _, ok := l.seen[uid]; ok {
			continue
		}
		l.seen[uid] = struct{}{}
		fresh = append(fresh, uid)
	}

	return fresh
}

// Contains reports whether uid has been reserved.
func (l *Ledger) Contains(uid uint32) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.seen[uid]
	return ok
}

// Len returns the number of reserved UIDs.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.seen)
}

// Clear forgets every reservation.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seen = make(map[uint32]struct{})
}
