//go:build linux

package shm

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanCreateOnDevShm(t *testing.T) {
	// only /dev/shm is checked, other paths always return true
	assert.Equal(t, true, CanCreateOnDevShm(math.MaxUint64, "sdffafds"))
	stat, err := disk.Usage(DevShmDir)
	if err != nil {
		t.Skipf("no %s: %v", DevShmDir, err)
	}
	assert.Equal(t, true, CanCreateOnDevShm(stat.Free, "/dev/shm/xxx"))
	assert.Equal(t, false, CanCreateOnDevShm(stat.Free+1<<30, "/dev/shm/yyy"))
}

func TestMapRegion_DevShmFileSharedBetweenMappings(t *testing.T) {
	ctx := context.Background()
	name := fmt.Sprintf("test_%d", os.Getpid())
	owner, err := MapRegion(ctx, MapOptions{Name: name, Size: 4096, Create: true})
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, UnmapRegion(ctx, owner))
		_, err := os.Stat(owner.Path)
		assert.True(t, os.IsNotExist(err))
	}()

	peer, err := MapRegion(ctx, MapOptions{Path: owner.Path, Size: 4096})
	require.NoError(t, err)

	Word(peer.Mem, 12).Store(42)
	assert.Equal(t, uint32(42), Word(owner.Mem, 12).Load())
	assert.False(t, peer.Created)

	require.NoError(t, UnmapRegion(ctx, peer))
	_, err = os.Stat(owner.Path)
	assert.NoError(t, err, "only the creator removes the segment")
}

func TestMapRegion_CreateExisting(t *testing.T) {
	ctx := context.Background()
	name := fmt.Sprintf("test_excl_%d", os.Getpid())
	r, err := MapRegion(ctx, MapOptions{Name: name, Size: 4096, Create: true})
	require.NoError(t, err)
	defer func() { _ = UnmapRegion(ctx, r) }()

	_, err = MapRegion(ctx, MapOptions{Name: name, Size: 4096, Create: true})
	assert.ErrorIs(t, err, ErrMapping)
}

func TestMapRegion_Failures(t *testing.T) {
	ctx := context.Background()
	_, err := MapRegion(ctx, MapOptions{Path: "/dev/shm/shmlog_does_not_exist", Size: 4096})
	assert.ErrorIs(t, err, ErrMapping)

	_, err = MapRegion(ctx, MapOptions{Name: "zero", Size: 0, Create: true})
	assert.ErrorIs(t, err, ErrMapping)

	_, err = MapRegion(ctx, MapOptions{Kind: MemMapTypeMemFd, Fd: -1, Size: 4096})
	assert.ErrorIs(t, err, ErrMapping)
}

func TestMapRegion_SegmentTooSmall(t *testing.T) {
	ctx := context.Background()
	name := fmt.Sprintf("test_small_%d", os.Getpid())
	r, err := MapRegion(ctx, MapOptions{Name: name, Size: 64, Create: true})
	require.NoError(t, err)
	defer func() { _ = UnmapRegion(ctx, r) }()

	_, err = MapRegion(ctx, MapOptions{Path: r.Path, Size: 4096})
	assert.ErrorIs(t, err, ErrMapping)
}

func TestMapRegion_MemFd(t *testing.T) {
	ctx := context.Background()
	owner, err := MapRegion(ctx, MapOptions{Name: "memfd", Size: 4096, Kind: MemMapTypeMemFd, Create: true})
	require.NoError(t, err)
	require.GreaterOrEqual(t, owner.Fd, 0)

	peer, err := MapRegion(ctx, MapOptions{Fd: owner.Fd, Size: 4096, Kind: MemMapTypeMemFd})
	require.NoError(t, err)
	Word(owner.Mem, 0).Add(3)
	assert.Equal(t, uint32(3), Word(peer.Mem, 0).Load())

	// the peer borrowed the creator's descriptor and leaves it open
	require.NoError(t, UnmapRegion(ctx, peer))
	assert.Equal(t, owner.Fd, peer.Fd)
	f, err := DupFile(owner)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, UnmapRegion(ctx, owner))
	assert.Equal(t, -1, owner.Fd)
	assert.NoError(t, UnmapRegion(ctx, owner), "second unmap is a no-op")
}

func TestMapRegion_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := MapRegion(ctx, MapOptions{Name: "cancelled", Size: 4096, Create: true})
	assert.ErrorIs(t, err, context.Canceled)
}
