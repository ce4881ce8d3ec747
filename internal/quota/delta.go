package quota

import (
	"sync"

	"github.com/shopspring/decimal"
)

type userDelta struct {
	mu      sync.Mutex
	pending decimal.Decimal
}

// DeltaTable coalesces spend in process so the hot path never writes
// to the store. Each user gets their own lock; the table lock only
// guards entry creation.
type DeltaTable struct {
	mu      sync.RWMutex
	entries map[string]*userDelta
}

func NewDeltaTable() *DeltaTable {
	return &DeltaTable{entries: make(map[string]*userDelta)}
}

// Accumulate adds cost to the user's pending total.
func (t *DeltaTable) Accumulate(username string, cost decimal.Decimal) {
	entry := t.entry(username)
	entry.mu.Lock()
	entry.pending = entry.pending.Add(cost)
	entry.mu.Unlock()
}

// Pending returns the user's unflushed total.
func (t *DeltaTable) Pending(username string) decimal.Decimal {
	t.mu.RLock()
	entry, ok := t.entries[username]
	t.mu.RUnlock()
	if !ok {
		return decimal.Zero
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.pending
}

// Usernames snapshots the users the table has seen. Entries are never
// removed; the set is bounded by the active user population.
func (t *DeltaTable) Usernames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	return names
}

// flush calls persist with the pending amount under the user's lock and
// zeroes it only if persist succeeds. Holding the lock across the write
// keeps concurrent accumulates from being lost or double counted.
func (t *DeltaTable) flush(username string, persist func(decimal.Decimal) error) error {
	entry := t.entry(username)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.pending.IsZero() {
		return nil
	}
	if err := persist(entry.pending); err != nil {
		return err
	}
	entry.pending = decimal.Zero
	return nil
}

func (t *DeltaTable) entry(username string) *userDelta {
	t.mu.RLock()
	entry, ok := t.entries[username]
	t.mu.RUnlock()
	if ok {
		return entry
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok = t.entries[username]; ok {
		return entry
	}
	entry = &userDelta{pending: decimal.Zero}
	t.entries[username] = entry
	return entry
}
