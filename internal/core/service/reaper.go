package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rl1809/stock-reserve/internal/core/domain"
	"github.com/rl1809/stock-reserve/internal/port"
	"github.com/rl1809/stock-reserve/internal/telemetry"
)

const (
	defaultReapInterval  = 60 * time.Second
	defaultReapBatchSize = 100
)

// ExpiryReaper reclaims stock held by reservations whose TTL elapsed without
// a completed purchase. It runs independently of purchase traffic; a failed
// sweep only delays stock from becoming available again, so errors are
// logged and retried on the next tick, never propagated to purchase paths.
type ExpiryReaper struct {
	storage   port.StorageAdapter
	manager   *ReservationManager
	txns      port.TxnSource
	clock     port.Clock
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *telemetry.Metrics
}

type ReaperOptions struct {
	Interval  time.Duration // default 60s
	BatchSize int           // default 100
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

func NewExpiryReaper(storage port.StorageAdapter, manager *ReservationManager, txns port.TxnSource, clock port.Clock, opts ReaperOptions) *ExpiryReaper {
	if opts.Interval <= 0 {
		opts.Interval = defaultReapInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultReapBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ExpiryReaper{
		storage:   storage,
		manager:   manager,
		txns:      txns,
		clock:     clock,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Sweep transitions one bounded batch of expired ACTIVE reservations to
// EXPIRED and restores the corresponding reserved stock, all inside the
// caller's transaction. Returns the number reclaimed.
func (r *ExpiryReaper) Sweep(ctx context.Context, txn port.TransactionHandle) (int, error) {
	now := r.clock.Now()

	expired, err := r.storage.ListExpiredReservations(ctx, txn, now, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}

	reclaimed := 0
	for _, res := range expired {
		err := r.manager.Expire(ctx, txn, res.ID)
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Raced with a commit or an explicit cancel between the list and
			// this transition; the hold is already accounted for.
			continue
		}
		if err != nil {
			return reclaimed, err
		}
		reclaimed++
	}
	return reclaimed, nil
}

// Run sweeps on a fixed interval until ctx is cancelled. Each tick drains
// batch-sized pages in their own transactions so locks stay short-held.
func (r *ExpiryReaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepTick(ctx)
		}
	}
}

func (r *ExpiryReaper) sweepTick(ctx context.Context) {
	for {
		n, err := r.sweepOnce(ctx)
		if err != nil {
			r.logger.Error("reservation sweep failed", "error", err)
			return
		}
		if n > 0 {
			r.logger.Info("reclaimed expired reservations", "count", n)
			r.metrics.AddReclaimed(n)
		}
		if n < r.batchSize {
			return
		}
	}
}

func (r *ExpiryReaper) sweepOnce(ctx context.Context) (int, error) {
	txn, err := r.txns.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin sweep tx: %w", err)
	}

	n, err := r.Sweep(ctx, txn)
	if err != nil {
		_ = txn.Rollback()
		return 0, err
	}
	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("commit sweep tx: %w", err)
	}
	return n, nil
}
