package domain

import (
	"time"

	"github.com/google/uuid"
)

type ReservationState string

const (
	ReservationActive    ReservationState = "ACTIVE"
	ReservationCommitted ReservationState = "COMMITTED"
	ReservationExpired   ReservationState = "EXPIRED"
	ReservationCancelled ReservationState = "CANCELLED"
)

// Reservation is a temporary, time-bounded claim on stock. It is created
// ACTIVE and moves forward exactly once: to COMMITTED when the purchase
// completes, or to EXPIRED/CANCELLED when the claim is reclaimed.
type Reservation struct {
	ID           string
	InventoryKey string
	Quantity     int
	UserID       string
	SessionID    string
	State        ReservationState
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func NewReservation(attempt PurchaseAttempt, key string, now time.Time, ttl time.Duration) *Reservation {
	return &Reservation{
		ID:           uuid.New().String(),
		InventoryKey: key,
		Quantity:     attempt.Quantity,
		UserID:       attempt.UserID,
		SessionID:    attempt.SessionID,
		State:        ReservationActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
}

// CanTransition reports whether moving to next is a legal forward step.
// A reservation never transitions backward and never leaves a terminal state.
func (r *Reservation) CanTransition(next ReservationState) bool {
	switch next {
	case ReservationCommitted, ReservationExpired, ReservationCancelled:
		return r.State == ReservationActive
	default:
		return false
	}
}

// ExpiredBy reports whether the reservation's TTL has elapsed without a
// completed purchase as of now.
func (r *Reservation) ExpiredBy(now time.Time) bool {
	return r.State == ReservationActive && now.After(r.ExpiresAt)
}
