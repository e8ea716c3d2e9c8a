package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/frobware/go-compressor/bootstrap"
	"github.com/frobware/go-compressor/lock"
)

// RunCmd attaches the dataplane and idles until SIGINT or SIGTERM.
type RunCmd struct {
	LockFile string `name:"lock-file" help:"Instance lock file; empty disables locking." default:"${default_lock_path}"`
	WaitLock bool   `name:"wait-lock" help:"Wait for a running instance to release the lock instead of failing."`
}

// Run executes the run command.
func (c *RunCmd) Run(cli *CLI) error {
	logger, err := cli.Logger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	// Create context that cancels on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	lk, err := c.acquireLock(ctx)
	if err != nil {
		return err
	}
	if lk != nil {
		defer lk.Close()
		logger.Debug("acquired instance lock", "path", lk.Path())
	}

	b := bootstrap.New(
		bootstrap.WithLogger(logger),
		bootstrap.WithConfigLogging(cli.LogOptions()),
		bootstrap.WithConfigPath(cli.Config),
	)

	sess, err := b.Start(ctx)
	if err != nil {
		return err
	}
	return sess.Wait(ctx)
}

// acquireLock takes the instance lock, or returns nil when locking is
// disabled. With --wait-lock it blocks until the lock is free or ctx
// is done.
func (c *RunCmd) acquireLock(ctx context.Context) (*lock.Lock, error) {
	if c.LockFile == "" {
		return nil, nil
	}
	if c.WaitLock {
		lk, err := lock.Acquire(ctx, c.LockFile)
		if err != nil {
			return nil, fmt.Errorf("wait for instance lock: %w", err)
		}
		return lk, nil
	}
	lk, err := lock.TryAcquire(c.LockFile)
	if err != nil {
		return nil, fmt.Errorf("another compressor instance may be running: %w", err)
	}
	return lk, nil
}
