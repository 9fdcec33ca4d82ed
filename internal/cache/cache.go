// Package cache provides a uniform key-value caching surface over
// interchangeable storage backends: local files, Redis, Postgres, or an
// in-process map. Every backend implements the same Cache interface and the
// same external contract: TTL-based expiry with lazy eviction, per-instance
// error-mode policy, and deduplicated batch operations. Values are arbitrary
// JSON-serializable data; encoding is owned by each backend.
package cache

import (
	"context"
)

// Mode selects how a backend reports storage faults. It never affects key
// validation errors, which are caller programming errors and always surface.
type Mode int

const (
	// ModeThrow propagates every storage fault to the caller as an
	// *OperationError. This is the default.
	ModeThrow Mode = iota
	// ModeFail swallows storage faults and degrades to the documented
	// result: the caller's default for reads, false for writes and deletes.
	ModeFail
)

func (m Mode) String() string {
	if m == ModeFail {
		return "fail"
	}
	return "throw"
}

// ParseMode converts a config/flag string to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "throw", "":
		return ModeThrow, true
	case "fail":
		return ModeFail, true
	}
	return ModeThrow, false
}

// Cache is the uniform operation set implemented by every backend.
//
// Get and GetMulti return def for missing, expired, or (under ModeFail)
// unreachable entries. Set with a TTL that has already elapsed is equivalent
// to Delete. Delete is idempotent: removing an absent key reports true.
// Batch operations validate and deduplicate all keys before touching storage;
// under ModeThrow the first per-key fault propagates with no rollback, under
// ModeFail the boolean result is the AND of the per-key results.
type Cache interface {
	Get(ctx context.Context, key string, def any) (any, error)
	Set(ctx context.Context, key string, value any, ttl TTL) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) (bool, error)
	Has(ctx context.Context, key string) (bool, error)
	GetMulti(ctx context.Context, keys []string, def any) (map[string]any, error)
	SetMulti(ctx context.Context, values map[string]any, ttl TTL) (bool, error)
	DeleteMulti(ctx context.Context, keys []string) (bool, error)

	// SetMode switches the fault policy for all subsequent operations.
	// The mode is plain instance state: in-flight calls observe whichever
	// value they read at the moment the fault occurs.
	SetMode(Mode)
}

// Collector is an optional capability for backends that can sweep expired or
// corrupt entries on demand. Redis expires keys natively and does not
// implement it; callers type-assert.
type Collector interface {
	// GC removes every expired or unreadable entry and returns the number
	// removed. It is meant for periodic external invocation; no backend
	// calls it implicitly.
	GC(ctx context.Context) (int, error)
}
