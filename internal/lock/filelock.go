// SPDX-License-Identifier: MIT

//go:build linux

package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/anxiong2025/zureshot/internal/util"
)

// FileLock is an exclusive, flock(2)-based single-instance lock with stale
// lock detection (dead process or old age), a timeout, and PID tracking.
// The lock file is registered with a ResourceTracker for the lifetime it
// is held, so a daemon can assert it never leaks the fd across restarts.
type FileLock struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	pid     int
	tracker *util.ResourceTracker
}

const (
	// DefaultStaleThreshold is the age threshold for considering a lock stale.
	// Matches bash: LOCK_STALE_THRESHOLD=300
	DefaultStaleThreshold = 300 * time.Second

	// DefaultAcquireTimeout is the default timeout for lock acquisition.
	// Matches bash: LOCK_ACQUISITION_TIMEOUT=30
	DefaultAcquireTimeout = 30 * time.Second
)

// NewFileLock creates a lock at path, creating the parent directory if
// needed. The lock file itself is created on Acquire, not here.
func NewFileLock(path string) (*FileLock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path cannot be empty")
	}

	dir := filepath.Dir(path)
	// #nosec G301 - Lock directory is owner/group only (0750)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FileLock{
		path:    path,
		pid:     os.Getpid(),
		tracker: util.NewResourceTracker(),
	}, nil
}

// LeakedResources reports lock-file handles this FileLock still holds
// tracked but never released; always empty unless Close/Release was
// skipped.
func (fl *FileLock) LeakedResources() []string {
	return fl.tracker.LeakedResources()
}

// DaemonLock returns the single-instance lock for zureshotd at
// <runtimeDir>/zureshot.lock. There is exactly one daemon process per user
// session, so there is exactly one well-known lock path rather than a
// caller-supplied name.
func DaemonLock(runtimeDir string) (*FileLock, error) {
	return NewFileLock(filepath.Join(runtimeDir, "zureshot.lock"))
}

// Acquire acquires the exclusive lock, waiting up to timeout (0 = try
// once, no wait): it clears a stale lock left by a dead process, opens or
// creates the lock file, flocks it, and writes this process's PID into it.
func (fl *FileLock) Acquire(timeout time.Duration) error {
	// Check for stale lock and remove if found
	if stale, _ := isLockStale(fl.path, DefaultStaleThreshold); stale {
		_ = os.Remove(fl.path) // Explicitly ignore error - file might not exist
	}

	// Open lock file (create if doesn't exist)
	// #nosec G302 - Lock file is owner read-write, group read-only (0640)
	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	// Try to acquire lock with timeout
	deadline := time.Now().Add(timeout)
	for {
		// Try non-blocking flock
		err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			// Lock acquired!
			break
		}

		// Check if timeout expired
		if time.Now().After(deadline) {
			_ = file.Close()
			return fmt.Errorf("failed to acquire lock after %v: %w", timeout, err)
		}

		// Wait a bit before retrying
		time.Sleep(100 * time.Millisecond)
	}

	// Write our PID to lock file
	if err := file.Truncate(0); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", fl.pid); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to sync lock file: %w", err)
	}

	fl.mu.Lock()
	fl.file = file
	fl.tracker.TrackFile(fl.path, file)
	fl.mu.Unlock()
	return nil
}

// AcquireContext is Acquire with context cancellation support, for a
// caller that needs to give up waiting on shutdown.
func (fl *FileLock) AcquireContext(ctx context.Context, timeout time.Duration) error {
	// Check if context is already cancelled
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Check for stale lock and remove if found
	if stale, _ := isLockStale(fl.path, DefaultStaleThreshold); stale {
		_ = os.Remove(fl.path) // Explicitly ignore error - file might not exist
	}

	// Open lock file (create if doesn't exist)
	// #nosec G302 - Lock file is owner read-write, group read-only (0640)
	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	// Try to acquire lock with timeout and context cancellation
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		// Try non-blocking flock
		err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			// Lock acquired!
			break
		}

		// Check if context was cancelled
		select {
		case <-ctx.Done():
			_ = file.Close()
			return ctx.Err()
		case <-ticker.C:
			// Check if timeout expired
			if time.Now().After(deadline) {
				_ = file.Close()
				return fmt.Errorf("failed to acquire lock after %v: %w", timeout, err)
			}
			// Continue loop to retry
		}
	}

	// Write our PID to lock file
	if err := file.Truncate(0); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", fl.pid); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to sync lock file: %w", err)
	}

	fl.mu.Lock()
	fl.file = file
	fl.tracker.TrackFile(fl.path, file)
	fl.mu.Unlock()
	return nil
}

// Release unlocks and closes the lock file. Returns an error if the lock
// is not currently held.
func (fl *FileLock) Release() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		return fmt.Errorf("lock not held")
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}

	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}

	fl.tracker.UntrackFile(fl.path)
	fl.file = nil
	return nil
}

// Close closes the lock file if held and releases the lock.
func (fl *FileLock) Close() error {
	fl.mu.Lock()
	held := fl.file != nil
	fl.mu.Unlock()

	if held {
		return fl.Release()
	}
	return nil
}

// isLockStale reports whether the lock file at lockPath should be removed:
// a missing file is not stale (nothing to remove), an empty or unparsable
// PID is stale, and a PID belonging to a dead process is stale. threshold
// is accepted for signature stability but unused: see the comment on the
// live-process branch below for why age alone is never a staleness signal.
func isLockStale(lockPath string, threshold time.Duration) (bool, error) {
	_ = threshold

	_, err := os.Stat(lockPath)
	if os.IsNotExist(err) {
		return false, nil // No lock file = not stale
	}
	if err != nil {
		return false, err // Can't stat = assume not stale (safe default)
	}

	// Read PID from lock file
	// #nosec G304 - Lock path is controlled by application configuration
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return true, nil // Can't read = assume stale
	}

	pidStr := strings.TrimSpace(string(data))
	if pidStr == "" {
		return true, nil // Empty file = stale
	}

	// Parse PID
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return true, nil // Invalid PID = stale
	}

	// Check if process exists
	// Send signal 0 (no-op) to check if process exists
	process, err := os.FindProcess(pid)
	if err != nil {
		return true, nil // Process not found = stale
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		// Process is alive. The lock is valid regardless of the lock file's
		// modification time: a long-running recording (hours) always has a
		// lock file whose mtime is older than DefaultStaleThreshold, and an
		// age check here would steal the lock from a healthy daemon.
		return false, nil
	}

	// Process is dead or unreachable; the lock is stale.
	// (Age is not checked here: if signal(0) failed the process is gone.)
	return true, nil
}
