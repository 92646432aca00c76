package port

import (
	"context"
	"time"

	"github.com/rl1809/stock-reserve/internal/core/domain"
)

// TransactionHandle is the host-owned transaction scope, passed through to
// the storage layer. The engine never opens its own transaction on the
// purchase path, so transactional scope is the host's responsibility.
type TransactionHandle interface {
	Commit() error
	Rollback() error
}

// TxnSource opens transactions of the host's flavor. Background work (the
// expiry reaper) uses it; request-driven work receives its handle from the
// caller instead.
type TxnSource interface {
	Begin(ctx context.Context) (TransactionHandle, error)
}

// Clock is injectable for deterministic testing of expiry logic.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// LockToken represents held exclusivity over an inventory item for the
// duration of one attempt. For row-locking stores the database lock itself
// is the token and Version is zero; for optimistic stores Version is the
// observed stamp used in the compare-and-swap write.
type LockToken struct {
	Version int64
}

// StorageAdapter is the only component that issues raw reads and writes
// against a transaction handle. Two implementations ship with the engine:
// a row-locking adapter for relational stores and an optimistic-versioned
// adapter for document stores, selected once at construction time.
type StorageAdapter interface {
	// AcquireLock establishes exclusivity over the item identified by key
	// and returns the item as observed under that exclusivity. Row-locking
	// implementations block up to the configured lock timeout and return
	// domain.ErrLockTimeout when it elapses; optimistic implementations
	// never block and return the observed version in the token.
	AcquireLock(ctx context.Context, txn TransactionHandle, key string) (*domain.InventoryItem, LockToken, error)

	// UpdateQuantity applies delta to current stock, guarded at the store so
	// stock can never go negative regardless of what the caller checked.
	// Optimistic implementations additionally require the token's version to
	// still match and return domain.ErrConcurrentModification when it does
	// not; the caller must then retry from AcquireLock.
	UpdateQuantity(ctx context.Context, txn TransactionHandle, key string, token LockToken, delta int) error

	// AdjustReserved applies delta to reserved stock. Callers pair every
	// adjustment with the reservation state transition that caused it,
	// inside the same transaction.
	AdjustReserved(ctx context.Context, txn TransactionHandle, key string, delta int) error

	InsertReservation(ctx context.Context, txn TransactionHandle, res *domain.Reservation) error

	GetReservation(ctx context.Context, txn TransactionHandle, id string) (*domain.Reservation, error)

	// TransitionReservation moves a reservation from one state to another
	// and returns the updated record. domain.ErrInvalidTransition when the
	// reservation exists but is not in the from state.
	TransitionReservation(ctx context.Context, txn TransactionHandle, id string, from, to domain.ReservationState) (*domain.Reservation, error)

	// ListExpiredReservations returns up to limit ACTIVE reservations whose
	// expiry lies before cutoff. The bound keeps reaper sweeps from holding
	// locks against live purchase traffic.
	ListExpiredReservations(ctx context.Context, txn TransactionHandle, cutoff time.Time, limit int) ([]*domain.Reservation, error)
}
