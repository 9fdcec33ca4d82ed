package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// fakeRedis implements RedisClient in memory, using the result constructors
// go-redis ships for exactly this purpose. Setting failAll makes every
// command return a transport error, for exercising Mode gating.
type fakeRedis struct {
	mu      sync.Mutex
	data    map[string]fakeVal
	failAll bool

	setexCalls int
	mgetCalls  int
	msetCalls  int
	delCalls   int
}

type fakeVal struct {
	raw       string
	expiresAt time.Time
}

var errTransport = errors.New("connection refused")

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]fakeVal)}
}

func (f *fakeRedis) live(key string) (fakeVal, bool) {
	v, ok := f.data[key]
	if !ok {
		return fakeVal{}, false
	}
	if !v.expiresAt.IsZero() && !v.expiresAt.After(time.Now()) {
		delete(f.data, key)
		return fakeVal{}, false
	}
	return v, true
}

func asString(value interface{}) string {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return ""
	}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return redis.NewStringResult("", errTransport)
	}
	v, ok := f.live(key)
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v.raw, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return redis.NewStatusResult("", errTransport)
	}
	f.data[key] = fakeVal{raw: asString(value)}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) SetEX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setexCalls++
	if f.failAll {
		return redis.NewStatusResult("", errTransport)
	}
	f.data[key] = fakeVal{raw: asString(value), expiresAt: time.Now().Add(expiration)}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) MGet(_ context.Context, keys ...string) *redis.SliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mgetCalls++
	if f.failAll {
		return redis.NewSliceResult(nil, errTransport)
	}
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		if v, ok := f.live(k); ok {
			out[i] = v.raw
		}
	}
	return redis.NewSliceResult(out, nil)
}

func (f *fakeRedis) MSet(_ context.Context, values ...interface{}) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msetCalls++
	if f.failAll {
		return redis.NewStatusResult("", errTransport)
	}
	for i := 0; i+1 < len(values); i += 2 {
		f.data[asString(values[i])] = fakeVal{raw: asString(values[i+1])}
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delCalls++
	if f.failAll {
		return redis.NewIntResult(0, errTransport)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return redis.NewIntResult(0, errTransport)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.live(k); ok {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Keys(_ context.Context, pattern string) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return redis.NewStringSliceResult(nil, errTransport)
	}
	prefix := strings.TrimSuffix(pattern, "*")
	var out []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return redis.NewStringSliceResult(out, nil)
}

func (f *fakeRedis) Ping(_ context.Context) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return redis.NewStatusResult("", errTransport)
	}
	return redis.NewStatusResult("PONG", nil)
}

func newTestRedisCache(t *testing.T) (*RedisCache, *fakeRedis) {
	t.Helper()
	fake := newFakeRedis()
	c, err := NewRedisCache(context.Background(), fake, RedisOptions{})
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	return c, fake
}

func TestRedisCache_RoundTrip(t *testing.T) {
	c, fake := newTestRedisCache(t)
	ctx := context.Background()

	ok, err := c.Set(ctx, "key1", map[string]any{"n": float64(7)}, NoExpiry())
	if err != nil || !ok {
		t.Fatalf("Set failed: ok=%v err=%v", ok, err)
	}

	// The wire key carries the namespace prefix; the caller's key does not.
	if _, present := fake.data[DefaultRedisPrefix+"key1"]; !present {
		t.Fatal("expected prefixed key on the wire")
	}

	v, err := c.Get(ctx, "key1", nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	m, ok2 := v.(map[string]any)
	if !ok2 || m["n"] != float64(7) {
		t.Fatalf("round-trip mangled value: %v", v)
	}
}

func TestRedisCache_GetMissing(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	v, err := c.Get(ctx, "absent", "fallback")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "fallback" {
		t.Fatalf("expected default, got %v", v)
	}
	if has, _ := c.Has(ctx, "absent"); has {
		t.Fatal("expected absent key to not exist")
	}
}

func TestRedisCache_TTLUsesSetEX(t *testing.T) {
	c, fake := newTestRedisCache(t)
	ctx := context.Background()

	if _, err := c.Set(ctx, "expiring", "v", ExpiresSeconds(60)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if fake.setexCalls != 1 {
		t.Fatalf("expected one SETEX call, got %d", fake.setexCalls)
	}
}

func TestRedisCache_ImmediateTTLDeletes(t *testing.T) {
	c, fake := newTestRedisCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", "v", NoExpiry())
	ok, err := c.Set(ctx, "k", "v2", ExpiresSeconds(0))
	if err != nil || !ok {
		t.Fatalf("Set with zero TTL failed: ok=%v err=%v", ok, err)
	}
	if fake.delCalls != 1 {
		t.Fatalf("expected zero TTL to delegate to DEL, got %d calls", fake.delCalls)
	}
	if has, _ := c.Has(ctx, "k"); has {
		t.Fatal("expected key gone after zero-TTL set")
	}
}

func TestRedisCache_Expiry(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	if _, err := c.Set(ctx, "short", "v", Expires(500*time.Millisecond)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if v, _ := c.Get(ctx, "short", nil); v != "v" {
		t.Fatalf("expected value before expiry, got %v", v)
	}

	time.Sleep(1100 * time.Millisecond)

	if v, _ := c.Get(ctx, "short", "gone"); v != "gone" {
		t.Fatalf("expected default after expiry, got %v", v)
	}
}

func TestRedisCache_DeleteIdempotent(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	c.Set(ctx, "k", "v", NoExpiry())
	for i := 0; i < 2; i++ {
		ok, err := c.Delete(ctx, "k")
		if err != nil || !ok {
			t.Fatalf("Delete #%d: ok=%v err=%v", i+1, ok, err)
		}
	}
}

func TestRedisCache_GetMultiSingleRoundTrip(t *testing.T) {
	c, fake := newTestRedisCache(t)
	ctx := context.Background()

	c.SetMulti(ctx, map[string]any{"a": float64(1), "b": float64(2)}, NoExpiry())

	got, err := c.GetMulti(ctx, []string{"a", "b", "c", "a"}, "X")
	if err != nil {
		t.Fatalf("GetMulti failed: %v", err)
	}
	if fake.mgetCalls != 1 {
		t.Fatalf("expected exactly one MGET, got %d", fake.mgetCalls)
	}
	if len(got) != 3 {
		t.Fatalf("expected dedup to 3 keys, got %v", got)
	}
	if got["a"] != float64(1) || got["b"] != float64(2) || got["c"] != "X" {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestRedisCache_SetMultiNoTTLUsesMSet(t *testing.T) {
	c, fake := newTestRedisCache(t)
	ctx := context.Background()

	ok, err := c.SetMulti(ctx, map[string]any{"a": 1, "b": 2, "c": 3}, NoExpiry())
	if err != nil || !ok {
		t.Fatalf("SetMulti failed: ok=%v err=%v", ok, err)
	}
	if fake.msetCalls != 1 {
		t.Fatalf("expected exactly one MSET, got %d", fake.msetCalls)
	}
	if fake.setexCalls != 0 {
		t.Fatalf("no-TTL batch must not call SETEX, got %d", fake.setexCalls)
	}
}

func TestRedisCache_SetMultiWithTTLFallsBackToSetEX(t *testing.T) {
	c, fake := newTestRedisCache(t)
	ctx := context.Background()

	ok, err := c.SetMulti(ctx, map[string]any{"a": 1, "b": 2}, ExpiresSeconds(60))
	if err != nil || !ok {
		t.Fatalf("SetMulti failed: ok=%v err=%v", ok, err)
	}
	if fake.msetCalls != 0 {
		t.Fatal("TTL batch must not use MSET")
	}
	if fake.setexCalls != 2 {
		t.Fatalf("expected one SETEX per key, got %d", fake.setexCalls)
	}
}

func TestRedisCache_DeleteMultiSingleCall(t *testing.T) {
	c, fake := newTestRedisCache(t)
	ctx := context.Background()

	c.SetMulti(ctx, map[string]any{"a": 1, "b": 2}, NoExpiry())
	fake.delCalls = 0

	ok, err := c.DeleteMulti(ctx, []string{"a", "b", "absent"})
	if err != nil || !ok {
		t.Fatalf("DeleteMulti failed: ok=%v err=%v", ok, err)
	}
	if fake.delCalls != 1 {
		t.Fatalf("expected exactly one DEL, got %d", fake.delCalls)
	}
}

func TestRedisCache_Clear(t *testing.T) {
	c, fake := newTestRedisCache(t)
	ctx := context.Background()

	c.SetMulti(ctx, map[string]any{"a": 1, "b": 2}, NoExpiry())
	// A neighbour outside the prefix must survive.
	fake.data["other:app:key"] = fakeVal{raw: `"x"`}

	ok, err := c.Clear(ctx)
	if err != nil || !ok {
		t.Fatalf("Clear failed: ok=%v err=%v", ok, err)
	}
	if has, _ := c.Has(ctx, "a"); has {
		t.Fatal("expected prefixed keys gone after Clear")
	}
	if _, present := fake.data["other:app:key"]; !present {
		t.Fatal("Clear must only touch its own prefix")
	}

	// Clearing an already-empty namespace is a no-op success.
	if ok, err := c.Clear(ctx); err != nil || !ok {
		t.Fatalf("empty Clear failed: ok=%v err=%v", ok, err)
	}
}

func TestRedisCache_CorruptPayloadIsMiss(t *testing.T) {
	c, fake := newTestRedisCache(t)
	ctx := context.Background()

	fake.data[DefaultRedisPrefix+"bad"] = fakeVal{raw: "{truncated"}

	v, err := c.Get(ctx, "bad", "miss")
	if err != nil {
		t.Fatalf("undecodable payload must not error: %v", err)
	}
	if v != "miss" {
		t.Fatalf("expected default for undecodable payload, got %v", v)
	}
}

func TestRedisCache_ModeGating(t *testing.T) {
	c, fake := newTestRedisCache(t)
	ctx := context.Background()
	fake.failAll = true

	_, terr := c.Get(ctx, "k", nil)
	var opErr *OperationError
	if !errors.As(terr, &opErr) {
		t.Fatalf("expected *OperationError under ModeThrow, got %v", terr)
	}
	if !errors.Is(terr, errTransport) {
		t.Fatal("expected cause to be attached")
	}

	c.SetMode(ModeFail)
	v, gerr := c.Get(ctx, "k", "deg")
	if gerr != nil {
		t.Fatalf("ModeFail should swallow transport faults, got %v", gerr)
	}
	if v != "deg" {
		t.Fatalf("expected degraded default, got %v", v)
	}
	if ok, serr := c.Set(ctx, "k", 1, NoExpiry()); serr != nil || ok {
		t.Fatalf("ModeFail Set should be false, nil: ok=%v err=%v", ok, serr)
	}
	got, merr := c.GetMulti(ctx, []string{"a", "b"}, "deg")
	if merr != nil {
		t.Fatalf("ModeFail GetMulti should not error: %v", merr)
	}
	if got["a"] != "deg" || got["b"] != "deg" {
		t.Fatalf("expected every key degraded, got %v", got)
	}

	// Switching back re-enables propagation on the next call.
	c.SetMode(ModeThrow)
	if _, err := c.Has(ctx, "k"); !errors.As(err, &opErr) {
		t.Fatalf("expected *OperationError after switching back, got %v", err)
	}
}

func TestRedisCache_ConstructionPing(t *testing.T) {
	fake := newFakeRedis()
	fake.failAll = true

	if _, err := NewRedisCache(context.Background(), fake, RedisOptions{}); err == nil {
		t.Fatal("expected construction to fail on dead client under ModeThrow")
	}

	c, err := NewRedisCache(context.Background(), fake, RedisOptions{Mode: ModeFail})
	if err != nil {
		t.Fatalf("ModeFail construction should defer the failure: %v", err)
	}
	if v, err := c.Get(context.Background(), "k", "deg"); err != nil || v != "deg" {
		t.Fatalf("deferred failure should degrade: v=%v err=%v", v, err)
	}
}

func TestRedisCache_CustomPrefix(t *testing.T) {
	fake := newFakeRedis()
	c, err := NewRedisCache(context.Background(), fake, RedisOptions{Prefix: "app:v2:"})
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	c.Set(context.Background(), "k", "v", NoExpiry())
	if _, present := fake.data["app:v2:k"]; !present {
		t.Fatal("expected custom prefix on the wire")
	}
}
