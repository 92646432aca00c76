package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-reserve/internal/core/domain"
	"github.com/rl1809/stock-reserve/internal/port"
)

func newTestReaper(eng *testEngine, batchSize int) *ExpiryReaper {
	return NewExpiryReaper(eng.adapter, eng.manager, eng.adapter, eng.clock, ReaperOptions{
		Interval:  time.Minute,
		BatchSize: batchSize,
	})
}

func createActiveReservation(t *testing.T, eng *testEngine, key, user string, qty int) *domain.Reservation {
	t.Helper()
	var res *domain.Reservation
	inTxn(t, eng, func(txn port.TransactionHandle) error {
		var err error
		res, err = eng.manager.Create(context.Background(), txn, attemptFor(user, "item-1", qty), key)
		return err
	})
	return res
}

func TestSweep_ReclaimsExpiredReservations(t *testing.T) {
	eng := newTestEngine(time.Second, 15*time.Minute)
	key := domain.GenerateLockKey("item-1", "", "")
	eng.adapter.SeedItem(key, 10, 0)
	reaper := newTestReaper(eng, 100)
	ctx := context.Background()

	r1 := createActiveReservation(t, eng, key, "user-1", 2)
	r2 := createActiveReservation(t, eng, key, "user-2", 3)

	item, _ := eng.adapter.ItemSnapshot(key)
	require.Equal(t, 5, item.ReservedStock)

	// Just before the deadline nothing is reclaimed.
	eng.clock.Advance(15*time.Minute - time.Second)
	inTxn(t, eng, func(txn port.TransactionHandle) error {
		n, err := reaper.Sweep(ctx, txn)
		assert.Zero(t, n)
		return err
	})

	// Just after it, both holds are released.
	eng.clock.Advance(2 * time.Second)
	inTxn(t, eng, func(txn port.TransactionHandle) error {
		n, err := reaper.Sweep(ctx, txn)
		assert.Equal(t, 2, n)
		return err
	})

	item, _ = eng.adapter.ItemSnapshot(key)
	assert.Equal(t, 0, item.ReservedStock)
	assert.Equal(t, 10, item.Available(), "expired stock is purchasable again")

	for _, id := range []string{r1.ID, r2.ID} {
		inTxn(t, eng, func(txn port.TransactionHandle) error {
			res, err := eng.adapter.GetReservation(ctx, txn, id)
			require.NoError(t, err)
			assert.Equal(t, domain.ReservationExpired, res.State)
			return nil
		})
	}
}

func TestSweep_RespectsBatchBound(t *testing.T) {
	eng := newTestEngine(time.Second, time.Minute)
	key := domain.GenerateLockKey("item-1", "", "")
	eng.adapter.SeedItem(key, 10, 0)
	reaper := newTestReaper(eng, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createActiveReservation(t, eng, key, "user", 1)
	}
	eng.clock.Advance(2 * time.Minute)

	counts := []int{}
	for {
		var n int
		inTxn(t, eng, func(txn port.TransactionHandle) error {
			var err error
			n, err = reaper.Sweep(ctx, txn)
			return err
		})
		if n == 0 {
			break
		}
		counts = append(counts, n)
	}
	assert.Equal(t, []int{2, 2, 1}, counts)

	item, _ := eng.adapter.ItemSnapshot(key)
	assert.Equal(t, 0, item.ReservedStock)
}

func TestSweep_IgnoresCommittedAndFresh(t *testing.T) {
	eng := newTestEngine(time.Second, 15*time.Minute)
	key := domain.GenerateLockKey("item-1", "", "")
	eng.adapter.SeedItem(key, 10, 0)
	reaper := newTestReaper(eng, 100)
	ctx := context.Background()

	committed := createActiveReservation(t, eng, key, "user-1", 1)
	inTxn(t, eng, func(txn port.TransactionHandle) error {
		return eng.manager.Commit(ctx, txn, committed.ID)
	})

	eng.clock.Advance(10 * time.Minute)
	fresh := createActiveReservation(t, eng, key, "user-2", 1)

	eng.clock.Advance(10 * time.Minute) // committed past TTL, fresh within it
	inTxn(t, eng, func(txn port.TransactionHandle) error {
		n, err := reaper.Sweep(ctx, txn)
		assert.Zero(t, n)
		return err
	})

	inTxn(t, eng, func(txn port.TransactionHandle) error {
		res, err := eng.adapter.GetReservation(ctx, txn, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ReservationActive, res.State)
		return nil
	})
}

func TestCleanupExpiredReservationsFacade(t *testing.T) {
	eng := newTestEngine(time.Second, time.Minute)
	key := domain.GenerateLockKey("item-1", "", "")
	eng.adapter.SeedItem(key, 10, 0)
	reaper := newTestReaper(eng, 100)
	eng.coordinator = NewPurchaseCoordinator(eng.adapter, eng.manager, eng.guard, CoordinatorOptions{
		Reaper: reaper,
	})
	ctx := context.Background()

	createActiveReservation(t, eng, key, "user-1", 2)
	eng.clock.Advance(2 * time.Minute)

	inTxn(t, eng, func(txn port.TransactionHandle) error {
		n, err := eng.coordinator.CleanupExpiredReservations(ctx, txn)
		assert.Equal(t, 1, n)
		return err
	})
}

func TestRunStopsOnContextCancel(t *testing.T) {
	eng := newTestEngine(time.Second, time.Minute)
	reaper := NewExpiryReaper(eng.adapter, eng.manager, eng.adapter, eng.clock, ReaperOptions{
		Interval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop after cancellation")
	}
}
