// Package lock implements the single advisory process-wide file lock that
// guards the entire filesystem mutation surface (spec.md §5: "the entire
// filesystem mutation surface ... is guarded by a single advisory file
// lock acquired once at startup. Only one process at a time may mutate.").
// Grounded on the teacher's lock-free single-process design (the teacher
// never contends for /var/lib/dpkg, so there is no prior art for the flock
// call itself); the in-process guard that prevents two goroutines in this
// process from racing to acquire it follows lazydocker's deadlock.Mutex
// idiom (pkg/gui/gui.go's SubprocessMutex).
package lock

import (
	"fmt"
	"os"

	"github.com/sasha-s/go-deadlock"
	"golang.org/x/sys/unix"

	"github.com/apt-core/apt-core/internal/errstack"
)

// FileLock wraps an advisory flock(2) lock on a single path (conventionally
// Dir::State/lock, mirroring dpkg's own lock file). Only one FileLock per
// path may be held at a time; a second Acquire on the same path from
// another process fails with errstack.LockBusy.
type FileLock struct {
	mu   deadlock.Mutex
	path string
	f    *os.File
}

// New returns an unacquired lock bound to path. The file is created if
// absent; it is never removed (matching dpkg's lock file, which persists
// across runs).
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire takes the lock, blocking in-process callers via mu and failing
// fast (LOCK_EX|LOCK_NB) against other processes holding the same path.
func (l *FileLock) Acquire(stack *errstack.Stack) error {
	l.mu.Lock()
	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		l.mu.Unlock()
		stack.Wrap(errstack.Error, errstack.IoError, l.path, err)
		return err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		l.mu.Unlock()
		stack.Push(errstack.Error, errstack.LockBusy, l.path, fmt.Sprintf("held by another process: %v", err))
		return fmt.Errorf("lock %s busy: %w", l.path, err)
	}
	l.f = f
	return nil
}

// Release drops the advisory lock and the in-process guard. Safe to call
// only after a successful Acquire.
func (l *FileLock) Release() error {
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return closeErr
}

// Path returns the lock file's path, for diagnostics.
func (l *FileLock) Path() string { return l.path }
