// Package lock provides the cross-process instance lock that stops two
// compressor processes from attaching at the same time. It is an
// exclusive flock(2) on a well-known file, released when the holder
// closes it or exits.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultPath is the instance lock file used by the run command.
const DefaultPath = "/run/compressor/compressor.lock"

// ErrHeld is returned by TryAcquire when another process holds the
// lock.
var ErrHeld = errors.New("lock held by another process")

// Lock is a held instance lock.
type Lock struct {
	f    *os.File
	path string
}

// TryAcquire takes the lock at path without waiting. The parent
// directory is created if needed.
func TryAcquire(path string) (*Lock, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := flock(f); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{f: f, path: path}, nil
}

// Acquire takes the lock at path, retrying with exponential backoff
// until ctx is done.
func Acquire(ctx context.Context, path string) (*Lock, error) {
	f, err := open(path)
	if err != nil {
		return nil, err
	}

	backoff := 25 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		err := flock(f)
		if err == nil {
			return &Lock{f: f, path: path}, nil
		}
		if !errors.Is(err, ErrHeld) {
			f.Close()
			return nil, err
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, fmt.Errorf("acquire %s: %w", path, ctx.Err())
		case <-time.After(backoff):
		}

		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func open(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return f, nil
}

func flock(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EWOULDBLOCK):
		return fmt.Errorf("%s: %w", f.Name(), ErrHeld)
	default:
		return fmt.Errorf("flock %s: %w", f.Name(), err)
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Close releases the lock. The file is left in place so that later
// holders lock the same inode.
func (l *Lock) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
