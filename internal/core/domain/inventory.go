package domain

import "time"

// InventoryItem is one row or document per (product, variant, warehouse).
// It is the single shared mutable resource of the engine; only the holder
// of its row lock or a valid version may mutate CurrentStock.
type InventoryItem struct {
	Key           string
	CurrentStock  int
	ReservedStock int
	Version       int64 // CAS stamp for optimistic stores
	UpdatedAt     time.Time
}

// Available is derived at read time and never persisted, so it cannot drift
// from its inputs.
func (i *InventoryItem) Available() int {
	return i.CurrentStock - i.ReservedStock
}

// CanFulfill reports whether quantity units are purchasable right now. It
// must only be consulted after the lock or version for the item has been
// established, so a stale read never informs a write.
func (i *InventoryItem) CanFulfill(quantity int) bool {
	return quantity > 0 && i.Available() >= quantity
}
