package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/stock-reserve/internal/adapter/storage"
	"github.com/rl1809/stock-reserve/internal/core/domain"
	"github.com/rl1809/stock-reserve/internal/port"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingAdapter counts every storage round-trip made through it.
type countingAdapter struct {
	port.StorageAdapter
	calls atomic.Int64
}

func (a *countingAdapter) AcquireLock(ctx context.Context, txn port.TransactionHandle, key string) (*domain.InventoryItem, port.LockToken, error) {
	a.calls.Add(1)
	return a.StorageAdapter.AcquireLock(ctx, txn, key)
}

func (a *countingAdapter) UpdateQuantity(ctx context.Context, txn port.TransactionHandle, key string, token port.LockToken, delta int) error {
	a.calls.Add(1)
	return a.StorageAdapter.UpdateQuantity(ctx, txn, key, token, delta)
}

func (a *countingAdapter) AdjustReserved(ctx context.Context, txn port.TransactionHandle, key string, delta int) error {
	a.calls.Add(1)
	return a.StorageAdapter.AdjustReserved(ctx, txn, key, delta)
}

func (a *countingAdapter) InsertReservation(ctx context.Context, txn port.TransactionHandle, res *domain.Reservation) error {
	a.calls.Add(1)
	return a.StorageAdapter.InsertReservation(ctx, txn, res)
}

// blockingAdapter parks the first AcquireLock until released, so tests can
// hold an attempt mid-flight deterministically.
type blockingAdapter struct {
	port.StorageAdapter
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingAdapter(inner port.StorageAdapter) *blockingAdapter {
	return &blockingAdapter{
		StorageAdapter: inner,
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
}

func (a *blockingAdapter) AcquireLock(ctx context.Context, txn port.TransactionHandle, key string) (*domain.InventoryItem, port.LockToken, error) {
	blocked := false
	a.once.Do(func() {
		blocked = true
		close(a.entered)
	})
	if blocked {
		<-a.release
	}
	return a.StorageAdapter.AcquireLock(ctx, txn, key)
}

// casFailAdapter simulates an optimistic store whose compare-and-swap always
// loses.
type casFailAdapter struct {
	port.StorageAdapter
	reads atomic.Int64
}

func (a *casFailAdapter) AcquireLock(ctx context.Context, txn port.TransactionHandle, key string) (*domain.InventoryItem, port.LockToken, error) {
	a.reads.Add(1)
	return a.StorageAdapter.AcquireLock(ctx, txn, key)
}

func (a *casFailAdapter) UpdateQuantity(context.Context, port.TransactionHandle, string, port.LockToken, int) error {
	return domain.ErrConcurrentModification
}

// stubFilter is a canned DuplicateFilter.
type stubFilter struct {
	claimOK  bool
	claimErr error
	released []string
	mu       sync.Mutex
}

func (f *stubFilter) Claim(ctx context.Context, key string) (bool, error) {
	return f.claimOK, f.claimErr
}

func (f *stubFilter) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, key)
	return nil
}

type testEngine struct {
	adapter     *storage.MemoryAdapter
	clock       *fakeClock
	manager     *ReservationManager
	guard       *IdempotencyGuard
	coordinator *PurchaseCoordinator
}

func newTestEngine(lockTimeout, ttl time.Duration) *testEngine {
	adapter := storage.NewMemoryAdapter(lockTimeout)
	clock := newFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	manager := NewReservationManager(adapter, clock, ttl)
	guard := NewIdempotencyGuard()
	coordinator := NewPurchaseCoordinator(adapter, manager, guard, CoordinatorOptions{})
	return &testEngine{
		adapter:     adapter,
		clock:       clock,
		manager:     manager,
		guard:       guard,
		coordinator: coordinator,
	}
}

func attemptFor(userID, productID string, quantity int) domain.PurchaseAttempt {
	return domain.PurchaseAttempt{
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		SessionID: "session-" + userID,
		Timestamp: time.Now(),
	}
}
