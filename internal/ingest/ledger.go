package ingest

import (
	"container/list"
	"sync"
)

// DefaultLedgerCapacity bounds how many transaction IDs are remembered.
const DefaultLedgerCapacity = 500

// Ledger is a bounded set of seen transaction IDs. Once full, the oldest
// inserted ID is forgotten first; lookups do not refresh an ID's position.
type Ledger struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewLedger creates an empty ledger. capacity <= 0 selects DefaultLedgerCapacity.
func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultLedgerCapacity
	}
	return &Ledger{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity+1),
	}
}

// Admit records id and returns true if it has not been seen. It returns
// false, with no side effects, for an id already in the ledger.
func (l *Ledger) Admit(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[id]; ok {
		return false
	}

	l.index[id] = l.order.PushBack(id)
	if l.order.Len() > l.capacity {
		oldest := l.order.Front()
		l.order.Remove(oldest)
		delete(l.index, oldest.Value.(string))
	}
	return true
}

// Contains reports whether id is currently remembered.
func (l *Ledger) Contains(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.index[id]
	return ok
}

// Len returns the number of remembered IDs.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// Capacity returns the eviction bound.
func (l *Ledger) Capacity() int {
	return l.capacity
}
