// Package launch starts the producers of a coordinator run, either as child
// processes or as goroutines on a worker pool.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Launcher starts producers for owners 1..n.
type Launcher interface {
	// Start launches the producers and returns a context that is cancelled
	// when one of them fails in a way that means it will never signal
	// completion. The context may also end once Wait returns, so it must not
	// be used after Wait.
	Start(ctx context.Context, owners int) (context.Context, error)
	// Wait blocks until every started producer has returned.
	Wait() error
}

// LostFunc is called for an owner whose producer could not be started at
// all, so the caller can account for its completion.
type LostFunc func(owner int)

// ProduceFunc runs the producer for owner.
type ProduceFunc func(ctx context.Context, owner int) error

// ProcessLauncher runs each producer as a child process.
type ProcessLauncher struct {
	// Path is the executable, os.Executable() when empty.
	Path string
	// Args returns the command line arguments for owner.
	Args func(owner int) []string
	// Env is appended to the parent's environment.
	Env []string
	// ExtraFiles are inherited by every child starting at fd 3.
	ExtraFiles []*os.File
	Stdout     io.Writer
	Stderr     io.Writer
	Lost       LostFunc
	// Log receives lifecycle events. The zero value discards them.
	Log zerolog.Logger

	g *errgroup.Group
}

var _ Launcher = (*ProcessLauncher)(nil)

// Start starts one child per owner. An abnormal child exit cancels the
// returned context with that exit as cause; siblings keep running. The
// returned context is also cancelled when Wait returns, whatever the
// outcome. Cancelling ctx kills the children.
func (l *ProcessLauncher) Start(ctx context.Context, owners int) (context.Context, error) {
	if l.Args == nil {
		return nil, errors.New("launch: process launcher without Args")
	}
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}
	g, gctx := errgroup.WithContext(ctx)
	l.g = g
	for owner := 1; owner <= owners; owner++ {
		cmd := exec.CommandContext(ctx, path, l.Args(owner)...)
		cmd.ExtraFiles = l.ExtraFiles
		cmd.Stdout = l.Stdout
		cmd.Stderr = l.Stderr
		if len(l.Env) > 0 {
			cmd.Env = append(os.Environ(), l.Env...)
		}
		if err := cmd.Start(); err != nil {
			l.Log.Warn().Err(err).Int("owner", owner).Msg("producer failed to start")
			if l.Lost != nil {
				l.Lost(owner)
			}
			continue
		}
		pid := cmd.Process.Pid
		l.Log.Debug().Int("owner", owner).Int("pid", pid).Msg("producer started")
		g.Go(func() error {
			if err := cmd.Wait(); err != nil {
				l.Log.Error().Err(err).Int("owner", owner).Int("pid", pid).Msg("producer exited abnormally")
				return fmt.Errorf("producer %d (pid %d): %w", owner, pid, err)
			}
			l.Log.Debug().Int("owner", owner).Int("pid", pid).Msg("producer exited")
			return nil
		})
	}
	return gctx, nil
}

// Wait waits for every child and returns the first abnormal exit.
func (l *ProcessLauncher) Wait() error {
	if l.g == nil {
		return nil
	}
	return l.g.Wait()
}

// PoolLauncher runs each producer as a task on an ants pool within the
// current process.
type PoolLauncher struct {
	Produce ProduceFunc
	// Size bounds the pool, one worker per owner when zero.
	Size int
	Lost LostFunc
	Log  zerolog.Logger

	pool *ants.Pool
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

var _ Launcher = (*PoolLauncher)(nil)

// Start submits one task per owner. Producer errors are collected for Wait
// and do not cancel the returned context.
func (l *PoolLauncher) Start(ctx context.Context, owners int) (context.Context, error) {
	if l.Produce == nil {
		return nil, errors.New("launch: pool launcher without Produce")
	}
	size := l.Size
	if size <= 0 {
		size = owners
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create producer pool: %w", err)
	}
	l.pool = pool
	for owner := 1; owner <= owners; owner++ {
		l.wg.Add(1)
		err := pool.Submit(func() {
			defer l.wg.Done()
			if err := l.Produce(ctx, owner); err != nil {
				l.Log.Warn().Err(err).Int("owner", owner).Msg("producer failed")
				l.record(fmt.Errorf("producer %d: %w", owner, err))
			}
		})
		if err != nil {
			l.wg.Done()
			l.Log.Warn().Err(err).Int("owner", owner).Msg("producer not submitted")
			l.record(fmt.Errorf("submit producer %d: %w", owner, err))
			if l.Lost != nil {
				l.Lost(owner)
			}
		}
	}
	return ctx, nil
}

func (l *PoolLauncher) record(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

// Wait waits for every task, releases the pool and returns the joined
// producer errors.
func (l *PoolLauncher) Wait() error {
	if l.pool == nil {
		return nil
	}
	l.wg.Wait()
	l.pool.Release()
	l.mu.Lock()
	defer l.mu.Unlock()
	return errors.Join(l.errs...)
}
