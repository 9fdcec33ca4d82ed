package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces every key this adapter writes. The prefix is
// an internal wire detail and never appears in caller-facing keys.
const DefaultRedisPrefix = "pulsar:cache:"

// RedisClient is the minimal command surface the adapter needs. *redis.Client
// satisfies it; tests substitute a fake built on redis.NewStringResult and
// friends. Keeping this an interface rather than the concrete client keeps
// connection management out of the adapter entirely.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetEX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	MSet(ctx context.Context, values ...interface{}) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisCache stores entries in Redis under a fixed key prefix. Values are
// JSON-encoded on the way in and decoded on the way out; expiry is delegated
// to Redis itself via SETEX, so there is nothing for GC to sweep. Any number
// of instances, in this or other processes, may share a prefix; Redis owns
// all concurrency control.
type RedisCache struct {
	client RedisClient
	prefix string
	mode   Mode
}

var _ Cache = (*RedisCache)(nil)

// RedisOptions configures a RedisCache. The zero value means the default
// prefix and ModeThrow.
type RedisOptions struct {
	Prefix string
	Mode   Mode
}

// NewRedisCache wraps an already-connected client. The connection is verified
// with a PING: under ModeThrow an unreachable server fails construction,
// under ModeFail construction proceeds and the failure surfaces (silently) on
// first use.
func NewRedisCache(ctx context.Context, client RedisClient, opts RedisOptions) (*RedisCache, error) {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	c := &RedisCache{client: client, prefix: prefix, mode: opts.Mode}
	if err := client.Ping(ctx).Err(); err != nil && opts.Mode == ModeThrow {
		return nil, &OperationError{Op: "connect", Err: err}
	}
	return c, nil
}

// SetMode switches the fault policy for subsequent operations.
func (c *RedisCache) SetMode(m Mode) { c.mode = m }

func (c *RedisCache) key(k string) string { return c.prefix + k }

func (c *RedisCache) fault(op, key string, err error) error {
	if c.mode == ModeFail {
		return nil
	}
	return &OperationError{Op: op, Key: key, Err: err}
}

func encodeValue(v any) ([]byte, error) { return json.Marshal(v) }

// decodeValue applies the corruption-as-miss policy: a payload that does not
// decode is reported as absent rather than as an error.
func decodeValue(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

func (c *RedisCache) Get(ctx context.Context, key string, def any) (any, error) {
	if err := validateKey(key, wideKeyPattern); err != nil {
		return nil, err
	}
	raw, err := c.client.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return def, nil
	}
	if err != nil {
		return def, c.fault("get", key, err)
	}
	v, ok := decodeValue(raw)
	if !ok {
		return def, nil
	}
	return v, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl TTL) (bool, error) {
	if err := validateKey(key, wideKeyPattern); err != nil {
		return false, err
	}
	if ttl.Immediate() {
		return c.Delete(ctx, key)
	}
	data, err := encodeValue(value)
	if err != nil {
		return false, c.fault("set", key, err)
	}
	secs, hasTTL := ttl.Seconds()
	if hasTTL {
		err = c.client.SetEX(ctx, c.key(key), data, time.Duration(secs)*time.Second).Err()
	} else {
		err = c.client.Set(ctx, c.key(key), data, 0).Err()
	}
	if err != nil {
		return false, c.fault("set", key, err)
	}
	return true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key, wideKeyPattern); err != nil {
		return false, err
	}
	// DEL returns the number of keys removed; zero (absent key) still
	// counts as success.
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return false, c.fault("delete", key, err)
	}
	return true, nil
}

func (c *RedisCache) Clear(ctx context.Context) (bool, error) {
	keys, err := c.client.Keys(ctx, c.prefix+"*").Result()
	if err != nil {
		return false, c.fault("clear", "", err)
	}
	if len(keys) == 0 {
		return true, nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return false, c.fault("clear", "", err)
	}
	return true, nil
}

func (c *RedisCache) Has(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key, wideKeyPattern); err != nil {
		return false, err
	}
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, c.fault("has", key, err)
	}
	return n > 0, nil
}

// GetMulti issues exactly one MGET regardless of key count. Missing keys and
// undecodable payloads map to def position by position.
func (c *RedisCache) GetMulti(ctx context.Context, keys []string, def any) (map[string]any, error) {
	keys, err := validateKeys(keys, wideKeyPattern)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return map[string]any{}, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}
	vals, err := c.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			out[k] = def
		}
		return out, c.fault("getmulti", "", err)
	}
	out := make(map[string]any, len(keys))
	for i, k := range keys {
		out[k] = def
		if i >= len(vals) || vals[i] == nil {
			continue
		}
		if s, ok := vals[i].(string); ok {
			if v, decoded := decodeValue(s); decoded {
				out[k] = v
			}
		}
	}
	return out, nil
}

// SetMulti without a TTL issues exactly one MSET, atomic across keys as Redis
// defines it. With a TTL, MSET cannot carry per-key expiry, so the adapter
// falls back to one SETEX per key via Set.
func (c *RedisCache) SetMulti(ctx context.Context, values map[string]any, ttl TTL) (bool, error) {
	if err := validateValueKeys(values, wideKeyPattern); err != nil {
		return false, err
	}
	if len(values) == 0 {
		return true, nil
	}
	if _, hasTTL := ttl.Seconds(); hasTTL {
		ok := true
		for k, v := range values {
			res, err := c.Set(ctx, k, v, ttl)
			if err != nil {
				return false, err
			}
			ok = ok && res
		}
		return ok, nil
	}
	pairs := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		data, err := encodeValue(v)
		if err != nil {
			return false, c.fault("setmulti", k, err)
		}
		pairs = append(pairs, c.key(k), data)
	}
	if err := c.client.MSet(ctx, pairs...).Err(); err != nil {
		return false, c.fault("setmulti", "", err)
	}
	return true, nil
}

// DeleteMulti issues exactly one DEL with the full prefixed key list.
func (c *RedisCache) DeleteMulti(ctx context.Context, keys []string) (bool, error) {
	keys, err := validateKeys(keys, wideKeyPattern)
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return true, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = c.key(k)
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		return false, c.fault("deletemulti", "", err)
	}
	return true, nil
}
