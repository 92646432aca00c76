package domain

import (
	"errors"
	"time"
)

// ErrorCode classifies a failed purchase attempt for the host. Only
// CodeInternalError hides detail; the rest are expected business outcomes.
type ErrorCode string

const (
	CodeInsufficientStock      ErrorCode = "INSUFFICIENT_STOCK"
	CodeLockTimeout            ErrorCode = "LOCK_TIMEOUT"
	CodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	CodeDuplicateAttempt       ErrorCode = "DUPLICATE_ATTEMPT"
	CodeInternalError          ErrorCode = "INTERNAL_ERROR"
)

var (
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrLockTimeout            = errors.New("lock acquisition timed out")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrDuplicateAttempt       = errors.New("duplicate purchase attempt")
	ErrItemNotFound           = errors.New("inventory item not found")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrInvalidTransition      = errors.New("invalid reservation state transition")
)

// PurchaseAttempt is the ephemeral input of one purchase. It is owned by the
// single in-flight call and never persisted past the attempt's lifetime.
type PurchaseAttempt struct {
	UserID      string
	ProductID   string
	VariantID   string
	Quantity    int
	WarehouseID string // empty addresses the default stock pool
	SessionID   string
	Timestamp   time.Time
}

func (a PurchaseAttempt) LockKey() string {
	return GenerateLockKey(a.ProductID, a.VariantID, a.WarehouseID)
}

type PurchaseResult struct {
	Success        bool
	PurchaseID     string
	Message        string
	RemainingStock int
	ErrorCode      ErrorCode
}

// PurchaseStats is a point-in-time snapshot of attempts currently mid-flight
// in this process.
type PurchaseStats struct {
	ActiveCount int
	ByProduct   map[string]int
}
