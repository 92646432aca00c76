package domain

import "strings"

// lockKeySentinel stands in for an omitted variant or warehouse so that two
// logically identical attempts always map to the same key.
const lockKeySentinel = "-"

// GenerateLockKey derives the canonical lock identity for an inventory item
// from its product, variant and warehouse. Pure and deterministic; an empty
// warehouse addresses the default stock pool.
func GenerateLockKey(productID, variantID, warehouseID string) string {
	return normalizeKeyPart(productID) + ":" + normalizeKeyPart(variantID) + ":" + normalizeKeyPart(warehouseID)
}

func normalizeKeyPart(part string) string {
	part = strings.TrimSpace(part)
	if part == "" {
		return lockKeySentinel
	}
	return part
}
