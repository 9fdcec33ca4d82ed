package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const cacheFileSuffix = ".cache"

// FileCache persists one entry per file under a root directory. File names
// are the hex SHA-256 of the raw key, so any valid key maps to a fixed-width
// filesystem-safe name. Writes take a per-key flock and replace the file
// atomically via rename; readers racing a writer see either the old or the
// new complete content, never a torn write. Reads and deletes are not locked:
// a delete racing a read surfaces as a miss, which is acceptable for a cache.
type FileCache struct {
	dir  string
	mode Mode
}

var (
	_ Cache     = (*FileCache)(nil)
	_ Collector = (*FileCache)(nil)
)

// fileEntry is the persisted JSON shape.
type fileEntry struct {
	Value     any        `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewFileCache creates the root directory (and parents) if absent and probes
// it for writability. The returned cache assumes exclusive in-process
// ownership of the directory but coexists with other processes through the
// per-key write locks.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("cache dir %s is not writable: %w", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return &FileCache{dir: dir}, nil
}

// SetMode switches the fault policy for subsequent operations.
func (c *FileCache) SetMode(m Mode) { c.mode = m }

func (c *FileCache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+cacheFileSuffix)
}

// fault maps a storage error through the current mode. The mode is read at
// the moment the fault occurs, not at call start.
func (c *FileCache) fault(op, key string, err error) error {
	if c.mode == ModeFail {
		return nil
	}
	return &OperationError{Op: op, Key: key, Err: err}
}

// loadEntry reads and decodes the entry for key, applying the corruption and
// expiry policy: unparseable or structurally incomplete files are deleted and
// reported as absent, as are entries past their expiry instant. The error
// return is already mode-gated.
func (c *FileCache) loadEntry(key string) (fileEntry, bool, error) {
	path := c.path(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileEntry{}, false, nil
	}
	if err != nil {
		return fileEntry{}, false, c.fault("get", key, err)
	}

	// Corruption is a miss, never an error. The corrupt file is removed so
	// the next access starts clean.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		os.Remove(path)
		return fileEntry{}, false, nil
	}
	_, hasValue := raw["value"]
	_, hasExpiry := raw["expires_at"]
	if !hasValue && !hasExpiry {
		os.Remove(path)
		return fileEntry{}, false, nil
	}

	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		os.Remove(path)
		return fileEntry{}, false, nil
	}
	if entry.ExpiresAt != nil && !entry.ExpiresAt.After(time.Now()) {
		os.Remove(path)
		return fileEntry{}, false, nil
	}
	return entry, true, nil
}

func (c *FileCache) Get(_ context.Context, key string, def any) (any, error) {
	if err := validateKey(key, strictKeyPattern); err != nil {
		return nil, err
	}
	entry, ok, err := c.loadEntry(key)
	if err != nil || !ok {
		return def, err
	}
	return entry.Value, nil
}

func (c *FileCache) Has(_ context.Context, key string) (bool, error) {
	if err := validateKey(key, strictKeyPattern); err != nil {
		return false, err
	}
	_, ok, err := c.loadEntry(key)
	return ok, err
}

func (c *FileCache) Set(ctx context.Context, key string, value any, ttl TTL) (bool, error) {
	if err := validateKey(key, strictKeyPattern); err != nil {
		return false, err
	}
	if ttl.Immediate() {
		return c.Delete(ctx, key)
	}

	entry := fileEntry{Value: value}
	if at, ok := ttl.ExpiresAt(time.Now()); ok {
		entry.ExpiresAt = &at
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return false, c.fault("set", key, err)
	}

	path := c.path(key)
	if err := c.writeLocked(path, data); err != nil {
		return false, c.fault("set", key, fmt.Errorf("write %s: %w", path, err))
	}
	return true, nil
}

// writeLocked serializes concurrent writers to the same key with an exclusive
// flock on a sibling lock file, then publishes the content with an atomic
// rename. Writers to different keys do not contend.
func (c *FileCache) writeLocked(path string, data []byte) error {
	lock, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer lock.Close()
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (c *FileCache) Delete(_ context.Context, key string) (bool, error) {
	if err := validateKey(key, strictKeyPattern); err != nil {
		return false, err
	}
	err := os.Remove(c.path(key))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	return false, c.fault("delete", key, err)
}

func (c *FileCache) Clear(_ context.Context) (bool, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return false, c.fault("clear", "", err)
	}
	// Best effort: individual removal failures do not fail the clear.
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		os.Remove(filepath.Join(c.dir, ent.Name()))
	}
	return true, nil
}

func (c *FileCache) GetMulti(ctx context.Context, keys []string, def any) (map[string]any, error) {
	keys, err := validateKeys(keys, strictKeyPattern)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := c.Get(ctx, k, def)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (c *FileCache) SetMulti(ctx context.Context, values map[string]any, ttl TTL) (bool, error) {
	if err := validateValueKeys(values, strictKeyPattern); err != nil {
		return false, err
	}
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

func (c *FileCache) DeleteMulti(ctx context.Context, keys []string) (bool, error) {
	keys, err := validateKeys(keys, strictKeyPattern)
	if err != nil {
		return false, err
	}
	ok := true
	for _, k := range keys {
		res, err := c.Delete(ctx, k)
		if err != nil {
			return false, err
		}
		ok = ok && res
	}
	return ok, nil
}

// GC sweeps every cache file under the root and removes those whose content
// is unparseable or whose expiry has passed. Lock and temp files are left to
// Clear. Returns the number of files removed.
func (c *FileCache) GC(_ context.Context) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, c.fault("gc", "", err)
	}
	removed := 0
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), cacheFileSuffix) {
			continue
		}
		path := filepath.Join(c.dir, ent.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry fileEntry
		var raw map[string]json.RawMessage
		corrupt := json.Unmarshal(data, &raw) != nil
		if !corrupt {
			_, hasValue := raw["value"]
			_, hasExpiry := raw["expires_at"]
			corrupt = !hasValue && !hasExpiry
		}
		if !corrupt {
			corrupt = json.Unmarshal(data, &entry) != nil
		}
		expired := entry.ExpiresAt != nil && !entry.ExpiresAt.After(time.Now())
		if corrupt || expired {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
