package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/stock-reserve/internal/adapter/storage"
	"github.com/rl1809/stock-reserve/internal/core/domain"
	"github.com/rl1809/stock-reserve/internal/core/service"
	"github.com/rl1809/stock-reserve/internal/port"
)

const (
	productID     = "flash-sale-item"
	initialStock  = 20
	totalRequests = 50
	lockTimeout   = 2 * time.Second
)

// Drives the full coordinator pipeline against the in-memory adapter to
// demonstrate the no-oversell guarantee under concurrency without any
// backing infrastructure.
func main() {
	ctx := context.Background()

	adapter := storage.NewMemoryAdapter(lockTimeout)
	adapter.SeedItem(domain.GenerateLockKey(productID, "", ""), initialStock, 0)

	clock := port.SystemClock{}
	manager := service.NewReservationManager(adapter, clock, 15*time.Minute)
	coordinator := service.NewPurchaseCoordinator(adapter, manager, service.NewIdempotencyGuard(), service.CoordinatorOptions{})

	var successCount, failCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			txn, err := adapter.Begin(ctx)
			if err != nil {
				log.Printf("begin failed: %v", err)
				failCount.Add(1)
				return
			}

			result := coordinator.AttemptPurchase(ctx, domain.PurchaseAttempt{
				UserID:    fmt.Sprintf("user-%d", userID),
				ProductID: productID,
				Quantity:  1,
				SessionID: fmt.Sprintf("session-%d", userID),
				Timestamp: time.Now(),
			}, txn)

			if result.Success {
				if err := txn.Commit(); err != nil {
					log.Printf("commit failed: %v", err)
					failCount.Add(1)
					return
				}
				successCount.Add(1)
			} else {
				txn.Rollback()
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	item, _ := adapter.ItemSnapshot(domain.GenerateLockKey(productID, "", ""))

	fmt.Println("=== Stress Results ===")
	fmt.Printf("Requests:   %d\n", totalRequests)
	fmt.Printf("Successes:  %d\n", successCount.Load())
	fmt.Printf("Failures:   %d\n", failCount.Load())
	fmt.Printf("Remaining:  %d (reserved %d)\n", item.CurrentStock, item.ReservedStock)
	fmt.Printf("Elapsed:    %s\n", elapsed)

	if int(successCount.Load()) != initialStock {
		log.Fatalf("OVERSELL OR UNDERSELL: expected %d successes", initialStock)
	}
	fmt.Println("no oversell: OK")
}
