// Package lock provides scoped, cross-process advisory file locking used by
// every on-disk store in Claw Town (task files, the task graph, the event
// log, the outbox, and agent registry records). Every acquire returns a
// release function so callers can `defer release()` and never leave a lock
// held across a panic or early return.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Acquire takes an exclusive lock on path, creating the lock file and its
// parent directory if necessary. The returned function releases the lock;
// callers must call it exactly once, typically via defer.
func Acquire(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir for %s: %w", path, err)
	}
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring exclusive lock on %s: %w", path, err)
	}
	return func() { _ = fl.Unlock() }, nil
}

// AcquireShared takes a shared (read) lock on path. Multiple readers may
// hold a shared lock concurrently; AcquireShared blocks while any writer
// holds the exclusive lock via Acquire. Used by the event log's reads.
func AcquireShared(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir for %s: %w", path, err)
	}
	fl := flock.New(path)
	if err := fl.RLock(); err != nil {
		return nil, fmt.Errorf("acquiring shared lock on %s: %w", path, err)
	}
	return func() { _ = fl.Unlock() }, nil
}

// StaleAge returns how long the lock file at path has gone untouched, and
// whether it exists at all. Used by the outbox's staleness-override policy,
// where a lock held past its expected lifetime is assumed abandoned by a
// crashed drainer and is safe to clear.
func StaleAge(path string) (age time.Duration, exists bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}
