package cache

import (
	"testing"
	"time"
)

func TestTTL_NoExpiry(t *testing.T) {
	ttl := NoExpiry()

	if _, ok := ttl.ExpiresAt(time.Now()); ok {
		t.Fatal("NoExpiry should not resolve to an instant")
	}
	if _, ok := ttl.Seconds(); ok {
		t.Fatal("NoExpiry should not resolve to seconds")
	}
	if ttl.Immediate() {
		t.Fatal("NoExpiry should not be immediate")
	}
}

func TestTTL_ExpiresAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	at, ok := Expires(90 * time.Second).ExpiresAt(now)
	if !ok {
		t.Fatal("expected an expiry instant")
	}
	if want := now.Add(90 * time.Second); !at.Equal(want) {
		t.Fatalf("expected %v, got %v", want, at)
	}

	// Same duration resolved at a different moment yields a different instant.
	later := now.Add(time.Hour)
	at2, _ := Expires(90 * time.Second).ExpiresAt(later)
	if at2.Equal(at) {
		t.Fatal("resolution should track the supplied instant")
	}
}

func TestTTL_Seconds(t *testing.T) {
	secs, ok := ExpiresSeconds(30).Seconds()
	if !ok || secs != 30 {
		t.Fatalf("expected 30s, got %d (ok=%v)", secs, ok)
	}

	// Positive sub-second lifetimes round up so SETEX does not see zero.
	secs, ok = Expires(300 * time.Millisecond).Seconds()
	if !ok || secs != 1 {
		t.Fatalf("expected sub-second TTL to round up to 1, got %d", secs)
	}

	secs, ok = Expires(1500 * time.Millisecond).Seconds()
	if !ok || secs != 2 {
		t.Fatalf("expected 1.5s to round up to 2, got %d", secs)
	}
}

func TestTTL_Immediate(t *testing.T) {
	if !Expires(0).Immediate() {
		t.Fatal("zero TTL should be immediate")
	}
	if !ExpiresSeconds(-5).Immediate() {
		t.Fatal("negative TTL should be immediate")
	}
	if Expires(time.Second).Immediate() {
		t.Fatal("positive TTL should not be immediate")
	}
}
