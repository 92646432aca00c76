package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/stock-reserve/internal/core/domain"
	"github.com/rl1809/stock-reserve/internal/port"
)

// MemoryAdapter is a fully in-process StorageAdapter with row-lock
// semantics: per-key exclusivity held for the transaction's lifetime and
// rollback that undoes every write. It backs the engine's tests and serves
// as the reference implementation of the adapter contract.
type MemoryAdapter struct {
	mu           sync.Mutex
	items        map[string]*domain.InventoryItem
	reservations map[string]*domain.Reservation
	locks        map[string]chan struct{}
	lockTimeout  time.Duration
}

func NewMemoryAdapter(lockTimeout time.Duration) *MemoryAdapter {
	return &MemoryAdapter{
		items:        make(map[string]*domain.InventoryItem),
		reservations: make(map[string]*domain.Reservation),
		locks:        make(map[string]chan struct{}),
		lockTimeout:  lockTimeout,
	}
}

// SeedItem installs or resets an inventory item.
func (a *MemoryAdapter) SeedItem(key string, current, reserved int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items[key] = &domain.InventoryItem{
		Key:           key,
		CurrentStock:  current,
		ReservedStock: reserved,
		UpdatedAt:     time.Now(),
	}
}

// ItemSnapshot returns a copy of the item's current persisted state.
func (a *MemoryAdapter) ItemSnapshot(key string) (domain.InventoryItem, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	item, ok := a.items[key]
	if !ok {
		return domain.InventoryItem{}, false
	}
	return *item, true
}

// ActiveReservedTotal sums the quantities of ACTIVE reservations for key.
func (a *MemoryAdapter) ActiveReservedTotal(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for _, res := range a.reservations {
		if res.InventoryKey == key && res.State == domain.ReservationActive {
			total += res.Quantity
		}
	}
	return total
}

// MemoryTxn journals every write so Rollback can restore the adapter to the
// state it saw at Begin, and releases held key locks on either outcome.
type MemoryTxn struct {
	adapter *MemoryAdapter
	mu      sync.Mutex
	undo    []func()
	unlocks []func()
	held    map[string]struct{}
	done    bool
}

func (a *MemoryAdapter) Begin(context.Context) (port.TransactionHandle, error) {
	return &MemoryTxn{adapter: a, held: make(map[string]struct{})}, nil
}

func (t *MemoryTxn) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.releaseLocks()
	return nil
}

func (t *MemoryTxn) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true

	t.adapter.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.adapter.mu.Unlock()

	t.releaseLocks()
	return nil
}

func (t *MemoryTxn) releaseLocks() {
	for i := len(t.unlocks) - 1; i >= 0; i-- {
		t.unlocks[i]()
	}
	t.unlocks = nil
}

func (t *MemoryTxn) record(undo func()) {
	t.mu.Lock()
	t.undo = append(t.undo, undo)
	t.mu.Unlock()
}

func (a *MemoryAdapter) txn(txn port.TransactionHandle) (*MemoryTxn, error) {
	t, ok := txn.(*MemoryTxn)
	if !ok {
		return nil, fmt.Errorf("memory adapter requires a *storage.MemoryTxn handle, got %T", txn)
	}
	return t, nil
}

func (a *MemoryAdapter) AcquireLock(ctx context.Context, txn port.TransactionHandle, key string) (*domain.InventoryItem, port.LockToken, error) {
	t, err := a.txn(txn)
	if err != nil {
		return nil, port.LockToken{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, port.LockToken{}, fmt.Errorf("lock %s: %w", key, err)
	}

	// Reentrant within the transaction, like a row lock already held.
	t.mu.Lock()
	_, already := t.held[key]
	t.mu.Unlock()

	if !already {
		a.mu.Lock()
		ch, ok := a.locks[key]
		if !ok {
			ch = make(chan struct{}, 1)
			a.locks[key] = ch
		}
		a.mu.Unlock()

		timer := time.NewTimer(a.lockTimeout)
		defer timer.Stop()

		select {
		case ch <- struct{}{}:
		case <-timer.C:
			return nil, port.LockToken{}, fmt.Errorf("lock %s: %w", key, domain.ErrLockTimeout)
		case <-ctx.Done():
			return nil, port.LockToken{}, fmt.Errorf("lock %s: %w", key, ctx.Err())
		}

		t.mu.Lock()
		t.held[key] = struct{}{}
		t.unlocks = append(t.unlocks, func() { <-ch })
		t.mu.Unlock()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	item, ok := a.items[key]
	if !ok {
		return nil, port.LockToken{}, domain.ErrItemNotFound
	}
	snapshot := *item
	return &snapshot, port.LockToken{Version: item.Version}, nil
}

func (a *MemoryAdapter) UpdateQuantity(ctx context.Context, txn port.TransactionHandle, key string, _ port.LockToken, delta int) error {
	t, err := a.txn(txn)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	item, ok := a.items[key]
	if !ok {
		return domain.ErrItemNotFound
	}
	if item.CurrentStock+delta < 0 {
		return domain.ErrInsufficientStock
	}

	item.CurrentStock += delta
	item.Version++
	t.record(func() {
		item.CurrentStock -= delta
		item.Version--
	})
	return nil
}

func (a *MemoryAdapter) AdjustReserved(ctx context.Context, txn port.TransactionHandle, key string, delta int) error {
	t, err := a.txn(txn)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	item, ok := a.items[key]
	if !ok {
		return domain.ErrItemNotFound
	}
	if item.ReservedStock+delta < 0 {
		return fmt.Errorf("adjust reserved %s: reserved stock would go negative", key)
	}

	item.ReservedStock += delta
	t.record(func() { item.ReservedStock -= delta })
	return nil
}

func (a *MemoryAdapter) InsertReservation(ctx context.Context, txn port.TransactionHandle, res *domain.Reservation) error {
	t, err := a.txn(txn)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.reservations[res.ID]; exists {
		return fmt.Errorf("reservation %s already exists", res.ID)
	}

	stored := *res
	a.reservations[res.ID] = &stored
	t.record(func() { delete(a.reservations, res.ID) })
	return nil
}

func (a *MemoryAdapter) GetReservation(ctx context.Context, txn port.TransactionHandle, id string) (*domain.Reservation, error) {
	if _, err := a.txn(txn); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	res, ok := a.reservations[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	snapshot := *res
	return &snapshot, nil
}

func (a *MemoryAdapter) TransitionReservation(ctx context.Context, txn port.TransactionHandle, id string, from, to domain.ReservationState) (*domain.Reservation, error) {
	t, err := a.txn(txn)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	res, ok := a.reservations[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	if res.State != from {
		return nil, domain.ErrInvalidTransition
	}

	prev := res.State
	res.State = to
	t.record(func() { res.State = prev })

	snapshot := *res
	return &snapshot, nil
}

func (a *MemoryAdapter) ListExpiredReservations(ctx context.Context, txn port.TransactionHandle, cutoff time.Time, limit int) ([]*domain.Reservation, error) {
	if _, err := a.txn(txn); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	var expired []*domain.Reservation
	for _, res := range a.reservations {
		if res.State == domain.ReservationActive && res.ExpiresAt.Before(cutoff) {
			snapshot := *res
			expired = append(expired, &snapshot)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}
