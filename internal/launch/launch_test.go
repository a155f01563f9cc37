package launch

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "SHMLOG_LAUNCH_HELPER"

// TestHelperProcess is the child side of the process launcher tests. It
// exits with status 2 for owner 3 and 0 otherwise.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	owner := os.Args[len(os.Args)-1]
	if owner == "3" {
		os.Exit(2)
	}
	os.Exit(0)
}

func helperLauncher() *ProcessLauncher {
	return &ProcessLauncher{
		Path: os.Args[0],
		Args: func(owner int) []string {
			return []string{"-test.run=^TestHelperProcess$", "--", strconv.Itoa(owner)}
		},
		Env: []string{helperEnv + "=1"},
	}
}

func TestProcessLauncherAllSucceed(t *testing.T) {
	l := helperLauncher()
	ctx, err := l.Start(context.Background(), 2)
	require.NoError(t, err)
	assert.NoError(t, ctx.Err())
	require.NoError(t, l.Wait())
	// the group context ends with Wait even when every child succeeded
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.ErrorIs(t, context.Cause(ctx), context.Canceled)
}

func TestProcessLauncherAbnormalExitCancels(t *testing.T) {
	l := helperLauncher()
	ctx, err := l.Start(context.Background(), 4)
	require.NoError(t, err)

	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		t.Fatal("context not cancelled after abnormal exit")
	}
	err = l.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "producer 3")
}

func TestProcessLauncherReportsLostOwners(t *testing.T) {
	var mu sync.Mutex
	var lost []int
	l := &ProcessLauncher{
		Path: "/nonexistent/shmlog",
		Args: func(int) []string { return nil },
		Lost: func(owner int) {
			mu.Lock()
			lost = append(lost, owner)
			mu.Unlock()
		},
	}
	_, err := l.Start(context.Background(), 3)
	require.NoError(t, err)
	assert.NoError(t, l.Wait())
	assert.Equal(t, []int{1, 2, 3}, lost)
}

func TestProcessLauncherRequiresArgs(t *testing.T) {
	_, err := (&ProcessLauncher{}).Start(context.Background(), 1)
	assert.Error(t, err)
}

func TestPoolLauncherRunsEveryOwner(t *testing.T) {
	var seen [9]atomic.Int32
	l := &PoolLauncher{
		Size: 2,
		Produce: func(_ context.Context, owner int) error {
			seen[owner].Add(1)
			return nil
		},
	}
	ctx := context.Background()
	got, err := l.Start(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, ctx, got)
	require.NoError(t, l.Wait())
	for owner := 1; owner <= 8; owner++ {
		assert.Equal(t, int32(1), seen[owner].Load(), "owner %d", owner)
	}
}

func TestPoolLauncherJoinsErrors(t *testing.T) {
	errBoom := errors.New("boom")
	l := &PoolLauncher{
		Produce: func(_ context.Context, owner int) error {
			if owner%2 == 0 {
				return errBoom
			}
			return nil
		},
	}
	_, err := l.Start(context.Background(), 4)
	require.NoError(t, err)
	err = l.Wait()
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "producer 2")
	assert.Contains(t, err.Error(), "producer 4")
}

func TestWaitWithoutStart(t *testing.T) {
	assert.NoError(t, (&ProcessLauncher{}).Wait())
	assert.NoError(t, (&PoolLauncher{}).Wait())
}
