package drain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"
)

// fileLock is an open file handle holding an exclusive advisory flock.
type fileLock struct {
	f *os.File
}

// acquireLock opens path for read-write and takes an exclusive non-blocking
// flock on it. Contention (a sync client or another process holding the file)
// is waited out: sleep backoff, retry, indefinitely. Cancellation of ctx is
// the only way out of the wait.
func acquireLock(ctx context.Context, path string, backoff time.Duration, logger *slog.Logger) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("drain: open %s: %w", path, err)
	}

	waited := false
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &fileLock{f: f}, nil
		}
		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EAGAIN) {
			f.Close()
			return nil, fmt.Errorf("drain: lock %s: %w", path, err)
		}
		if !waited {
			logger.Info("drain: file locked by another process, waiting",
				slog.String("path", path))
			waited = true
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// release drops the flock and closes the handle.
func (l *fileLock) release() error {
	unlockErr := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	closeErr := l.f.Close()
	if unlockErr != nil {
		return fmt.Errorf("drain: unlock: %w", unlockErr)
	}
	return closeErr
}
