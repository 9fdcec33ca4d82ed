package cache

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryCache_RoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if ok, err := c.Set(ctx, "key1", "value1", Expires(time.Minute)); err != nil || !ok {
		t.Fatalf("Set failed: ok=%v err=%v", ok, err)
	}
	v, err := c.Get(ctx, "key1", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "value1" {
		t.Fatalf("expected 'value1', got %v", v)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "short", "v", Expires(10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	if v, _ := c.Get(ctx, "short", "gone"); v != "gone" {
		t.Fatalf("expected default after expiry, got %v", v)
	}
	if has, _ := c.Has(ctx, "short"); has {
		t.Fatal("Has should report false after expiry")
	}
}

func TestMemoryCache_ImmediateTTLDeletes(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "k", "v", NoExpiry())
	if ok, err := c.Set(ctx, "k", "v2", Expires(-time.Second)); err != nil || !ok {
		t.Fatalf("negative TTL set failed: ok=%v err=%v", ok, err)
	}
	if has, _ := c.Has(ctx, "k"); has {
		t.Fatal("negative TTL should behave as delete")
	}
}

func TestMemoryCache_Multi(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.SetMulti(ctx, map[string]any{"a": 1, "b": 2}, NoExpiry())

	got, err := c.GetMulti(ctx, []string{"a", "b", "c"}, "X")
	if err != nil {
		t.Fatalf("GetMulti failed: %v", err)
	}
	if got["a"] != 1 || got["b"] != 2 || got["c"] != "X" {
		t.Fatalf("unexpected result: %v", got)
	}

	if ok, err := c.DeleteMulti(ctx, []string{"a", "b", "absent"}); err != nil || !ok {
		t.Fatalf("DeleteMulti should be idempotent: ok=%v err=%v", ok, err)
	}
}

func TestMemoryCache_Clear(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.SetMulti(ctx, map[string]any{"a": 1, "b": 2}, NoExpiry())
	if ok, err := c.Clear(ctx); err != nil || !ok {
		t.Fatalf("Clear failed: ok=%v err=%v", ok, err)
	}
	if has, _ := c.Has(ctx, "a"); has {
		t.Fatal("expected empty cache after Clear")
	}
}

func TestMemoryCache_GC(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "long", "v", Expires(time.Hour))
	c.Set(ctx, "short1", "v", Expires(10*time.Millisecond))
	c.Set(ctx, "short2", "v", Expires(10*time.Millisecond))
	c.Set(ctx, "forever", "v", NoExpiry())

	time.Sleep(20 * time.Millisecond)

	removed, err := c.GC(ctx)
	if err != nil {
		t.Fatalf("GC failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 collected, got %d", removed)
	}
	if has, _ := c.Has(ctx, "long"); !has {
		t.Fatal("GC should leave live entries")
	}
	if has, _ := c.Has(ctx, "forever"); !has {
		t.Fatal("GC should leave no-expiry entries")
	}
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set(ctx, "shared", j, Expires(time.Minute))
				c.Get(ctx, "shared", nil)
				c.Has(ctx, "shared")
			}
		}()
	}
	wg.Wait()
}
