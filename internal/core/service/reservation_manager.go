package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/stock-reserve/internal/core/domain"
	"github.com/rl1809/stock-reserve/internal/port"
)

// ReservationManager creates, commits, cancels and expires reservations.
// Every reserved-stock adjustment it makes is paired with the state
// transition that caused it, inside the caller's transaction:
// create +quantity, cancel/expire -quantity, commit -quantity alongside the
// permanent decrement the coordinator already applied.
type ReservationManager struct {
	storage port.StorageAdapter
	clock   port.Clock
	ttl     time.Duration
}

func NewReservationManager(storage port.StorageAdapter, clock port.Clock, ttl time.Duration) *ReservationManager {
	return &ReservationManager{storage: storage, clock: clock, ttl: ttl}
}

// Create writes an ACTIVE reservation expiring at now + ttl and raises
// reserved stock by its quantity.
func (m *ReservationManager) Create(ctx context.Context, txn port.TransactionHandle, attempt domain.PurchaseAttempt, key string) (*domain.Reservation, error) {
	res := domain.NewReservation(attempt, key, m.clock.Now(), m.ttl)

	if err := m.storage.InsertReservation(ctx, txn, res); err != nil {
		return nil, fmt.Errorf("create reservation: %w", err)
	}
	if err := m.storage.AdjustReserved(ctx, txn, key, res.Quantity); err != nil {
		return nil, fmt.Errorf("reserve stock: %w", err)
	}
	return res, nil
}

// Commit marks the reservation COMMITTED and releases its hold on reserved
// stock. Idempotent: committing an already-committed reservation is a no-op.
func (m *ReservationManager) Commit(ctx context.Context, txn port.TransactionHandle, id string) error {
	current, err := m.storage.GetReservation(ctx, txn, id)
	if err != nil {
		return fmt.Errorf("commit reservation %s: %w", id, err)
	}
	if current.State == domain.ReservationCommitted {
		return nil
	}

	res, err := m.storage.TransitionReservation(ctx, txn, id, domain.ReservationActive, domain.ReservationCommitted)
	if err != nil {
		return fmt.Errorf("commit reservation %s: %w", id, err)
	}
	if err := m.storage.AdjustReserved(ctx, txn, res.InventoryKey, -res.Quantity); err != nil {
		return fmt.Errorf("commit reservation %s: %w", id, err)
	}
	return nil
}

// Cancel marks the reservation CANCELLED and restores reserved stock by its
// quantity.
func (m *ReservationManager) Cancel(ctx context.Context, txn port.TransactionHandle, id string) error {
	res, err := m.storage.TransitionReservation(ctx, txn, id, domain.ReservationActive, domain.ReservationCancelled)
	if err != nil {
		return fmt.Errorf("cancel reservation %s: %w", id, err)
	}
	if err := m.storage.AdjustReserved(ctx, txn, res.InventoryKey, -res.Quantity); err != nil {
		return fmt.Errorf("cancel reservation %s: %w", id, err)
	}
	return nil
}

// Expire is Cancel's reaper-driven sibling.
func (m *ReservationManager) Expire(ctx context.Context, txn port.TransactionHandle, id string) error {
	res, err := m.storage.TransitionReservation(ctx, txn, id, domain.ReservationActive, domain.ReservationExpired)
	if err != nil {
		return fmt.Errorf("expire reservation %s: %w", id, err)
	}
	if err := m.storage.AdjustReserved(ctx, txn, res.InventoryKey, -res.Quantity); err != nil {
		return fmt.Errorf("expire reservation %s: %w", id, err)
	}
	return nil
}
