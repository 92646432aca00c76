package domain

import "testing"

func TestGenerateLockKey_Deterministic(t *testing.T) {
	a := GenerateLockKey("prod-1", "var-1", "wh-1")
	b := GenerateLockKey("prod-1", "var-1", "wh-1")
	if a != b {
		t.Errorf("expected identical keys, got %q and %q", a, b)
	}
}

func TestGenerateLockKey_NormalizesOmittedParts(t *testing.T) {
	withEmpty := GenerateLockKey("prod-1", "", "")
	withSpaces := GenerateLockKey("prod-1", "  ", " ")
	if withEmpty != withSpaces {
		t.Errorf("omitted and blank parts should normalize identically: %q vs %q", withEmpty, withSpaces)
	}
	if withEmpty != "prod-1:-:-" {
		t.Errorf("unexpected canonical form: %q", withEmpty)
	}
}

func TestGenerateLockKey_DistinguishesComponents(t *testing.T) {
	keys := map[string]bool{
		GenerateLockKey("p", "v", "w"): true,
		GenerateLockKey("p", "v", ""):  true,
		GenerateLockKey("p", "", "w"):  true,
		GenerateLockKey("p", "", ""):   true,
	}
	if len(keys) != 4 {
		t.Errorf("expected 4 distinct keys, got %d", len(keys))
	}
}

func TestPurchaseAttemptLockKey(t *testing.T) {
	attempt := PurchaseAttempt{ProductID: "p1", VariantID: "v1", Quantity: 1}
	if got := attempt.LockKey(); got != GenerateLockKey("p1", "v1", "") {
		t.Errorf("unexpected lock key %q", got)
	}
}
