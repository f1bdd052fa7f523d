// Package hostlock decides, without a coordinator, which of several racing
// processes becomes the wam host.
//
// The lock is an advisory flock(2) on a well-known file in the runtime
// directory. The kernel drops it when the holding descriptor closes, so a
// crashed host never leaves a held lock behind. Stale lock files are harmless.
package hostlock

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const fileMode os.FileMode = 0o700

var ErrLockHeld = errors.New("hostlock: lock held by another process")

// LockError describes a failed open or flock on the lock path.
type LockError struct {
	Op   string
	Path string
	Err  error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("hostlock: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// Lock is the host election lock for one runtime directory.
type Lock struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func New(path string) *Lock {
	return &Lock{path: path}
}

func (l *Lock) Path() string {
	return l.path
}

// TryBecomeHost reports whether this call left the process holding the lock.
// Failures are logged and reported as false.
func (l *Lock) TryBecomeHost() bool {
	if err := l.Acquire(); err != nil {
		log.Debug().Err(err).Str("path", l.path).Msg("hostlock.Lock.TryBecomeHost not acquired")
		return false
	}
	return true
}

// Acquire takes the exclusive lock and keeps the descriptor open. It is a
// no-op when the lock is already held by l.
func (l *Lock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return nil
	}

	f, err := openLockFile(l.path)
	if err != nil {
		return err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &LockError{Op: "flock", Path: l.path, Err: ErrLockHeld}
		}
		return &LockError{Op: "flock", Path: l.path, Err: err}
	}
	l.file = f
	log.Info().Str("path", l.path).Int("pid", os.Getpid()).Msg("hostlock.Lock.Acquire held")
	return nil
}

// IsHostRunning probes the lock with a fresh descriptor. A successful probe
// lock is released immediately. If the lock file cannot be opened no host is
// observable and the probe reports false.
func (l *Lock) IsHostRunning() bool {
	f, err := openLockFile(l.path)
	if err != nil {
		log.Debug().Err(err).Msg("hostlock.Lock.IsHostRunning probe open failed")
		return false
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return true
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false
}

// Held reports whether l currently owns the lock.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// Close releases the lock if held. Process exit has the same effect.
func (l *Lock) Close() error {
	l.mu.Lock()
	f := l.file
	l.file = nil
	l.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return &LockError{Op: "unlock", Path: l.path, Err: err}
	}
	return f.Close()
}

func openLockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|unix.O_CLOEXEC, fileMode)
	if err != nil {
		return nil, &LockError{Op: "open", Path: path, Err: err}
	}
	return f, nil
}
