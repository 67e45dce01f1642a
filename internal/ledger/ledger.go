// Package ledger holds the authoritative per-product available quantity.
package ledger

import (
	"sort"
	"sync"
)

// Ledger maps product id to available quantity. Quantities never go
// negative. Reserve and Release are the only paths the cart uses; Set is
// reserved for out-of-band corrections such as an admin restock.
type Ledger struct {
	mu    sync.Mutex
	stock map[string]int
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{stock: make(map[string]int)}
}

// Get returns the available quantity, 0 for unknown products
func (l *Ledger) Get(productID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stock[productID]
}

// Has reports whether the product has an entry
func (l *Ledger) Has(productID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.stock[productID]
	return ok
}

// Init creates an entry only when none exists. It returns true when the
// entry was created, so re-scans never reset known counts.
func (l *Ledger) Init(productID string, quantity int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.stock[productID]; ok {
		return false
	}
	l.stock[productID] = clamp(quantity)
	return true
}

// Set overwrites the available quantity, clamped to >= 0
func (l *Ledger) Set(productID string, quantity int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stock[productID] = clamp(quantity)
}

// Reserve decrements the available quantity if and only if enough is
// available. Non-positive quantities are rejected.
func (l *Ledger) Reserve(productID string, quantity int) bool {
	if quantity <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	available, ok := l.stock[productID]
	if !ok || quantity > available {
		return false
	}
	l.stock[productID] = available - quantity
	return true
}

// Release returns quantity to the ledger. Releasing for an unknown product
// creates its entry.
func (l *Ledger) Release(productID string, quantity int) {
	if quantity <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.stock[productID] += quantity
}

// Snapshot returns a copy of every entry
func (l *Ledger) Snapshot() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]int, len(l.stock))
	for id, qty := range l.stock {
		out[id] = qty
	}
	return out
}

// Restore replaces the whole ledger, clamping negative values
func (l *Ledger) Restore(stock map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stock = make(map[string]int, len(stock))
	for id, qty := range stock {
		l.stock[id] = clamp(qty)
	}
}

// IDs returns the known product ids in sorted order
func (l *Ledger) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]string, 0, len(l.stock))
	for id := range l.stock {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func clamp(quantity int) int {
	if quantity < 0 {
		return 0
	}
	return quantity
}
