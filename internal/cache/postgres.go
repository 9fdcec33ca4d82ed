package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultPostgresTable is the table PostgresCache stores entries in.
const DefaultPostgresTable = "cache_entries"

// PostgresCache stores entries in a Postgres table with a JSONB value column
// and a nullable expiry timestamp. Like the other backends, expiry is lazy:
// an expired row is deleted by the read that finds it, or by GC in bulk.
// Concurrency control is the database's; any number of instances may share a
// table.
type PostgresCache struct {
	pool  *pgxpool.Pool
	table string
	mode  Mode
}

var (
	_ Cache     = (*PostgresCache)(nil)
	_ Collector = (*PostgresCache)(nil)
)

// PostgresOptions configures a PostgresCache. The zero value means the
// default table and ModeThrow.
type PostgresOptions struct {
	Table string
	Mode  Mode
}

// NewPostgresCache wraps a connected pool and ensures the cache table exists.
func NewPostgresCache(ctx context.Context, pool *pgxpool.Pool, opts PostgresOptions) (*PostgresCache, error) {
	table := opts.Table
	if table == "" {
		table = DefaultPostgresTable
	}
	c := &PostgresCache{pool: pool, table: table, mode: opts.Mode}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		expires_at TIMESTAMPTZ
	)`, table)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		if opts.Mode == ModeThrow {
			return nil, &OperationError{Op: "init", Err: err}
		}
	}
	return c, nil
}

// SetMode switches the fault policy for subsequent operations.
func (c *PostgresCache) SetMode(m Mode) { c.mode = m }

func (c *PostgresCache) fault(op, key string, err error) error {
	if c.mode == ModeFail {
		return nil
	}
	return &OperationError{Op: op, Key: key, Err: err}
}

func (c *PostgresCache) Get(ctx context.Context, key string, def any) (any, error) {
	if err := validateKey(key, wideKeyPattern); err != nil {
		return nil, err
	}
	var data []byte
	var expiresAt *time.Time
	q := fmt.Sprintf("SELECT value, expires_at FROM %s WHERE key = $1", c.table)
	err := c.pool.QueryRow(ctx, q, key).Scan(&data, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return def, c.fault("get", key, err)
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		del := fmt.Sprintf("DELETE FROM %s WHERE key = $1", c.table)
		c.pool.Exec(ctx, del, key)
		return def, nil
	}
	var v any
	if json.Unmarshal(data, &v) != nil {
		// Corruption is a miss; remove the row so the next access is clean.
		del := fmt.Sprintf("DELETE FROM %s WHERE key = $1", c.table)
		c.pool.Exec(ctx, del, key)
		return def, nil
	}
	return v, nil
}

func (c *PostgresCache) Set(ctx context.Context, key string, value any, ttl TTL) (bool, error) {
	if err := validateKey(key, wideKeyPattern); err != nil {
		return false, err
	}
	if ttl.Immediate() {
		return c.Delete(ctx, key)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return false, c.fault("set", key, err)
	}
	var expiresAt *time.Time
	if at, ok := ttl.ExpiresAt(time.Now()); ok {
		expiresAt = &at
	}
	q := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, c.table)
	if _, err := c.pool.Exec(ctx, q, key, data, expiresAt); err != nil {
		return false, c.fault("set", key, err)
	}
	return true, nil
}

func (c *PostgresCache) Delete(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key, wideKeyPattern); err != nil {
		return false, err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE key = $1", c.table)
	if _, err := c.pool.Exec(ctx, q, key); err != nil {
		return false, c.fault("delete", key, err)
	}
	return true, nil
}

func (c *PostgresCache) Clear(ctx context.Context) (bool, error) {
	q := fmt.Sprintf("DELETE FROM %s", c.table)
	if _, err := c.pool.Exec(ctx, q); err != nil {
		return false, c.fault("clear", "", err)
	}
	return true, nil
}

func (c *PostgresCache) Has(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key, wideKeyPattern); err != nil {
		return false, err
	}
	var expiresAt *time.Time
	q := fmt.Sprintf("SELECT expires_at FROM %s WHERE key = $1", c.table)
	err := c.pool.QueryRow(ctx, q, key).Scan(&expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, c.fault("has", key, err)
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		del := fmt.Sprintf("DELETE FROM %s WHERE key = $1", c.table)
		c.pool.Exec(ctx, del, key)
		return false, nil
	}
	return true, nil
}

// GetMulti fetches all requested rows in a single query.
func (c *PostgresCache) GetMulti(ctx context.Context, keys []string, def any) (map[string]any, error) {
	keys, err := validateKeys(keys, wideKeyPattern)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = def
	}
	if len(keys) == 0 {
		return out, nil
	}
	q := fmt.Sprintf("SELECT key, value, expires_at FROM %s WHERE key = ANY($1)", c.table)
	rows, err := c.pool.Query(ctx, q, keys)
	if err != nil {
		return out, c.fault("getmulti", "", err)
	}
	defer rows.Close()
	now := time.Now()
	for rows.Next() {
		var key string
		var data []byte
		var expiresAt *time.Time
		if err := rows.Scan(&key, &data, &expiresAt); err != nil {
			return out, c.fault("getmulti", "", err)
		}
		if expiresAt != nil && !expiresAt.After(now) {
			continue
		}
		var v any
		if json.Unmarshal(data, &v) == nil {
			out[key] = v
		}
	}
	if err := rows.Err(); err != nil {
		return out, c.fault("getmulti", "", err)
	}
	return out, nil
}

// SetMulti batches all upserts into a single round trip with pgx.Batch.
func (c *PostgresCache) SetMulti(ctx context.Context, values map[string]any, ttl TTL) (bool, error) {
	if err := validateValueKeys(values, wideKeyPattern); err != nil {
		return false, err
	}
	if len(values) == 0 {
		return true, nil
	}
	if ttl.Immediate() {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		return c.DeleteMulti(ctx, keys)
	}
	var expiresAt *time.Time
	if at, ok := ttl.ExpiresAt(time.Now()); ok {
		expiresAt = &at
	}
	q := fmt.Sprintf(`INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, c.table)
	batch := &pgx.Batch{}
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return false, c.fault("setmulti", k, err)
		}
		batch.Queue(q, k, data, expiresAt)
	}
	br := c.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range values {
		if _, err := br.Exec(); err != nil {
			return false, c.fault("setmulti", "", err)
		}
	}
	return true, nil
}

func (c *PostgresCache) DeleteMulti(ctx context.Context, keys []string) (bool, error) {
	keys, err := validateKeys(keys, wideKeyPattern)
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return true, nil
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE key = ANY($1)", c.table)
	if _, err := c.pool.Exec(ctx, q, keys); err != nil {
		return false, c.fault("deletemulti", "", err)
	}
	return true, nil
}

// GC deletes every expired row in one statement and returns the count.
func (c *PostgresCache) GC(ctx context.Context) (int, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= now()", c.table)
	tag, err := c.pool.Exec(ctx, q)
	if err != nil {
		return 0, c.fault("gc", "", err)
	}
	return int(tag.RowsAffected()), nil
}
