package cache

import "time"

// TTL expresses an entry's lifetime: no expiry at all, or a duration counted
// from the moment the write resolves it. The zero value means no expiry.
//
// Backends resolve a TTL in one of two shapes: the file and Postgres backends
// persist an absolute instant (ExpiresAt), Redis sends a relative seconds
// count to SETEX (Seconds). A resolved lifetime <= 0 means the entry is
// already dead and the write degrades to a delete.
type TTL struct {
	d   time.Duration
	set bool
}

// NoExpiry returns a TTL meaning the entry never expires.
func NoExpiry() TTL { return TTL{} }

// Expires returns a TTL of d counted from the moment of the write.
func Expires(d time.Duration) TTL { return TTL{d: d, set: true} }

// ExpiresSeconds is shorthand for Expires(n * time.Second).
func ExpiresSeconds(n int64) TTL { return Expires(time.Duration(n) * time.Second) }

// ExpiresAt resolves the TTL against now into an absolute expiry instant.
// The second return is false when the TTL means no expiry.
func (t TTL) ExpiresAt(now time.Time) (time.Time, bool) {
	if !t.set {
		return time.Time{}, false
	}
	return now.Add(t.d), true
}

// Seconds resolves the TTL into a whole-seconds count for expiring-write
// commands. Positive sub-second lifetimes round up to one second so they are
// not mistaken for immediate expiry. The second return is false when the TTL
// means no expiry.
func (t TTL) Seconds() (int64, bool) {
	if !t.set {
		return 0, false
	}
	if t.d <= 0 {
		return int64(t.d / time.Second), true
	}
	secs := int64((t.d + time.Second - 1) / time.Second)
	return secs, true
}

// Immediate reports whether the TTL resolves to a lifetime of zero or less,
// i.e. the write should behave as a delete.
func (t TTL) Immediate() bool { return t.set && t.d <= 0 }
