package port

import "context"

// DuplicateFilter is a best-effort dedupe layer shared across service
// instances, claimed before storage is touched and released when an attempt
// fails. It supplements the in-process idempotency guard; neither replaces
// the storage-level lock.
type DuplicateFilter interface {
	// Claim atomically claims key, returning false if it is already held.
	Claim(ctx context.Context, key string) (bool, error)

	Release(ctx context.Context, key string) error
}
