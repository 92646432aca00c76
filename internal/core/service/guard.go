package service

import (
	"sync"

	"github.com/rl1809/stock-reserve/internal/core/domain"
)

type guardKey struct {
	userID    string
	productID string
}

// IdempotencyGuard tracks (user, product) pairs currently mid-purchase in
// this process so duplicate submissions are rejected before storage is
// touched. Best effort only: a second service instance is still serialized
// by the storage-level lock.
type IdempotencyGuard struct {
	mu        sync.Mutex
	inflight  map[guardKey]struct{}
	byProduct map[string]int
}

func NewIdempotencyGuard() *IdempotencyGuard {
	return &IdempotencyGuard{
		inflight:  make(map[guardKey]struct{}),
		byProduct: make(map[string]int),
	}
}

// TryRegister atomically claims the slot for the pair, returning false if an
// attempt for it is already in flight.
func (g *IdempotencyGuard) TryRegister(userID, productID string) bool {
	k := guardKey{userID: userID, productID: productID}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.inflight[k]; held {
		return false
	}
	g.inflight[k] = struct{}{}
	g.byProduct[productID]++
	return true
}

// Unregister releases the slot. Safe to call for a pair that was never
// registered.
func (g *IdempotencyGuard) Unregister(userID, productID string) {
	k := guardKey{userID: userID, productID: productID}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.inflight[k]; !held {
		return
	}
	delete(g.inflight, k)
	if g.byProduct[productID]--; g.byProduct[productID] <= 0 {
		delete(g.byProduct, productID)
	}
}

// Stats snapshots the attempts currently in flight.
func (g *IdempotencyGuard) Stats() domain.PurchaseStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	byProduct := make(map[string]int, len(g.byProduct))
	for product, count := range g.byProduct {
		byProduct[product] = count
	}
	return domain.PurchaseStats{
		ActiveCount: len(g.inflight),
		ByProduct:   byProduct,
	}
}
