package cache

import "fmt"

// InvalidKeyError reports a key that failed validation. It is raised
// unconditionally, regardless of the backend's Mode.
type InvalidKeyError struct {
	Key    string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("cache: invalid key %q: %s", e.Key, e.Reason)
}

// OperationError reports an underlying storage fault: a failed file write, an
// unreadable directory, a Redis or Postgres round-trip error. It is the only
// error kind gated by Mode; ModeFail swallows it and returns the operation's
// degraded result instead.
type OperationError struct {
	Op  string // "get", "set", "delete", "clear", "has", "gc"
	Key string // empty for whole-store operations
	Err error
}

func (e *OperationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }
