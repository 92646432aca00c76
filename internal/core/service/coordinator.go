package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/rl1809/stock-reserve/internal/core/domain"
	"github.com/rl1809/stock-reserve/internal/port"
	"github.com/rl1809/stock-reserve/internal/telemetry"
)

const (
	defaultRetryLimit = 3

	// retryBaseBackoff is the unit of jittered sleep between optimistic
	// retry rounds.
	retryBaseBackoff = 20 * time.Millisecond
)

// PurchaseCoordinator is the engine's public façade. One instance per
// process owns its idempotency guard; it is safe for concurrent use from
// many goroutines.
type PurchaseCoordinator struct {
	storage      port.StorageAdapter
	reservations *ReservationManager
	guard        *IdempotencyGuard
	reaper       *ExpiryReaper
	dedupe       port.DuplicateFilter
	retryLimit   int
	logger       *slog.Logger
	metrics      *telemetry.Metrics
}

type CoordinatorOptions struct {
	// Reaper backs CleanupExpiredReservations; optional when the host runs
	// its own sweep loop.
	Reaper *ExpiryReaper

	// Dedupe is the optional shared duplicate filter; the in-process guard
	// runs regardless.
	Dedupe port.DuplicateFilter

	// RetryLimit bounds optimistic storage round-trips per attempt.
	// Default 3.
	RetryLimit int

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

func NewPurchaseCoordinator(storage port.StorageAdapter, reservations *ReservationManager, guard *IdempotencyGuard, opts CoordinatorOptions) *PurchaseCoordinator {
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = defaultRetryLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PurchaseCoordinator{
		storage:      storage,
		reservations: reservations,
		guard:        guard,
		reaper:       opts.Reaper,
		dedupe:       opts.Dedupe,
		retryLimit:   opts.RetryLimit,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
}

// AttemptPurchase turns a purchase intent into either a durable stock
// decrement or a clean rejection. The caller owns txn: it must commit on a
// successful result and may roll back otherwise. Storage failures after the
// lock step roll the transaction back here, best effort.
func (c *PurchaseCoordinator) AttemptPurchase(ctx context.Context, attempt domain.PurchaseAttempt, txn port.TransactionHandle) domain.PurchaseResult {
	if attempt.Quantity <= 0 {
		return c.observe(domain.PurchaseResult{
			Message:   "quantity must be positive",
			ErrorCode: domain.CodeInternalError,
		})
	}

	if !c.guard.TryRegister(attempt.UserID, attempt.ProductID) {
		return c.observe(duplicateResult())
	}
	// Covers every exit path, including panics.
	defer c.guard.Unregister(attempt.UserID, attempt.ProductID)

	claimed, dedupeKey := c.claimShared(ctx, attempt)
	if c.dedupe != nil && !claimed {
		return c.observe(duplicateResult())
	}

	result := c.run(ctx, attempt, txn)
	if !result.Success && claimed {
		if err := c.dedupe.Release(ctx, dedupeKey); err != nil {
			c.logger.Debug("duplicate filter release failed", "key", dedupeKey, "error", err)
		}
	}
	return c.observe(result)
}

// claimShared consults the optional cross-instance duplicate filter. Filter
// outages degrade to in-process-only dedupe rather than failing the attempt.
func (c *PurchaseCoordinator) claimShared(ctx context.Context, attempt domain.PurchaseAttempt) (bool, string) {
	if c.dedupe == nil {
		return false, ""
	}
	key := attempt.UserID + ":" + attempt.ProductID
	claimed, err := c.dedupe.Claim(ctx, key)
	if err != nil {
		c.logger.Debug("duplicate filter unavailable", "key", key, "error", err)
		return true, key
	}
	return claimed, key
}

// run is the lock → check → reserve → decrement pipeline, with the bounded
// optimistic retry as an explicit loop. Row-locking adapters never return
// ErrConcurrentModification, so for them the loop body executes once.
func (c *PurchaseCoordinator) run(ctx context.Context, attempt domain.PurchaseAttempt, txn port.TransactionHandle) domain.PurchaseResult {
	key := attempt.LockKey()

	for round := 0; ; round++ {
		item, token, err := c.storage.AcquireLock(ctx, txn, key)
		switch {
		case errors.Is(err, domain.ErrItemNotFound):
			return domain.PurchaseResult{
				Message:   "no stock recorded for item",
				ErrorCode: domain.CodeInsufficientStock,
			}
		case errors.Is(err, domain.ErrLockTimeout):
			return domain.PurchaseResult{
				Message:   "item is contended, try again",
				ErrorCode: domain.CodeLockTimeout,
			}
		case err != nil:
			return c.internalFailure(txn, key, "acquire lock", err)
		}

		if !item.CanFulfill(attempt.Quantity) {
			c.logger.Debug("insufficient stock",
				"key", key, "requested", attempt.Quantity, "available", item.Available())
			return domain.PurchaseResult{
				Message:        "insufficient stock",
				RemainingStock: max(item.Available(), 0),
				ErrorCode:      domain.CodeInsufficientStock,
			}
		}

		// The authoritative decrement. On the optimistic path this is the
		// compare-and-swap that may lose the race.
		err = c.storage.UpdateQuantity(ctx, txn, key, token, -attempt.Quantity)
		if errors.Is(err, domain.ErrConcurrentModification) {
			if round+1 >= c.retryLimit {
				return domain.PurchaseResult{
					Message:   "item is contended, try again",
					ErrorCode: domain.CodeConcurrentModification,
				}
			}
			if !c.backoff(ctx, round) {
				return c.internalFailure(txn, key, "retry backoff", ctx.Err())
			}
			continue
		}
		if errors.Is(err, domain.ErrInsufficientStock) {
			// Guarded update tripped under our own lock; treat like the
			// availability check.
			return domain.PurchaseResult{
				Message:   "insufficient stock",
				ErrorCode: domain.CodeInsufficientStock,
			}
		}
		if err != nil {
			return c.internalFailure(txn, key, "update quantity", err)
		}

		reservation, err := c.reservations.Create(ctx, txn, attempt, key)
		if err != nil {
			return c.internalFailure(txn, key, "create reservation", err)
		}
		if err := c.reservations.Commit(ctx, txn, reservation.ID); err != nil {
			return c.internalFailure(txn, key, "commit reservation", err)
		}

		return domain.PurchaseResult{
			Success:        true,
			PurchaseID:     reservation.ID,
			Message:        "purchase completed",
			RemainingStock: item.Available() - attempt.Quantity,
		}
	}
}

// CleanupExpiredReservations sweeps one batch of expired reservations inside
// the caller's transaction and returns the number reclaimed.
func (c *PurchaseCoordinator) CleanupExpiredReservations(ctx context.Context, txn port.TransactionHandle) (int, error) {
	if c.reaper == nil {
		return 0, errors.New("no reaper configured")
	}
	return c.reaper.Sweep(ctx, txn)
}

// ActivePurchaseStats snapshots the attempts currently mid-flight in this
// process.
func (c *PurchaseCoordinator) ActivePurchaseStats() domain.PurchaseStats {
	return c.guard.Stats()
}

// backoff sleeps a jittered, exponentially growing duration. Returns false
// when ctx was cancelled instead.
func (c *PurchaseCoordinator) backoff(ctx context.Context, round int) bool {
	base := retryBaseBackoff << round
	sleep := base/2 + time.Duration(rand.Int63n(int64(base)))

	timer := time.NewTimer(sleep)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *PurchaseCoordinator) internalFailure(txn port.TransactionHandle, key, op string, err error) domain.PurchaseResult {
	c.logger.Error("purchase attempt failed", "key", key, "op", op, "error", err)
	if txn != nil {
		_ = txn.Rollback()
	}
	// Surfaced generically so storage details never leak to buyers.
	return domain.PurchaseResult{
		Message:   "internal error",
		ErrorCode: domain.CodeInternalError,
	}
}

func duplicateResult() domain.PurchaseResult {
	return domain.PurchaseResult{
		Message:   "a purchase for this item is already in flight",
		ErrorCode: domain.CodeDuplicateAttempt,
	}
}

func (c *PurchaseCoordinator) observe(result domain.PurchaseResult) domain.PurchaseResult {
	outcome := "success"
	if !result.Success {
		outcome = string(result.ErrorCode)
	}
	c.metrics.ObserveAttempt(outcome)
	return result
}
