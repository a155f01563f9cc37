//go:build linux

package shm

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MapRegion maps or creates a shared memory region (Linux implementation).
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Size <= 0 {
		return nil, mappingError("size", fmt.Errorf("invalid size %d", opts.Size))
	}
	switch opts.Kind {
	case MemMapTypeMemFd:
		return mapMemFd(opts)
	default:
		return mapDevShmFile(opts)
	}
}

func mapDevShmFile(opts MapOptions) (*MappedRegion, error) {
	path := opts.Path
	if path == "" {
		path = SegmentPath(opts.Name)
	}
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if opts.Create {
		if !CanCreateOnDevShm(uint64(opts.Size), path) {
			return nil, mappingError("create", fmt.Errorf("%s has no room for %d bytes", path, opts.Size))
		}
		flags |= unix.O_CREAT | unix.O_EXCL
	}
	fd, err := unix.Open(path, flags, 0600)
	if err != nil {
		return nil, mappingError("open", err)
	}
	// the mapping outlives the descriptor
	defer func() {
		_ = unix.Close(fd)
	}()
	cleanup := func() {
		if opts.Create {
			_ = os.Remove(path)
		}
	}
	if err := sizeDescriptor(fd, opts); err != nil {
		cleanup()
		return nil, err
	}
	mem, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, mappingError("mmap", err)
	}
	return &MappedRegion{
		Mem:     mem,
		Kind:    MemMapTypeDevShmFile,
		Path:    path,
		Fd:      -1,
		Created: opts.Create,
	}, nil
}

func mapMemFd(opts MapOptions) (*MappedRegion, error) {
	fd := opts.Fd
	if opts.Create {
		var err error
		fd, err = unix.MemfdCreate("shmlog_"+opts.Name, unix.MFD_CLOEXEC)
		if err != nil {
			return nil, mappingError("memfd_create", err)
		}
	}
	if fd < 0 {
		return nil, mappingError("memfd", fmt.Errorf("invalid descriptor %d", fd))
	}
	if err := sizeDescriptor(fd, opts); err != nil {
		if opts.Create {
			_ = unix.Close(fd)
		}
		return nil, err
	}
	mem, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if opts.Create {
			_ = unix.Close(fd)
		}
		return nil, mappingError("mmap", err)
	}
	return &MappedRegion{
		Mem:     mem,
		Kind:    MemMapTypeMemFd,
		Fd:      fd,
		Created: opts.Create,
	}, nil
}

// sizeDescriptor truncates a freshly created object, or checks that an
// existing one is large enough for the requested mapping.
func sizeDescriptor(fd int, opts MapOptions) error {
	if opts.Create {
		if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
			return mappingError("ftruncate", err)
		}
		return nil
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return mappingError("fstat", err)
	}
	if st.Size < int64(opts.Size) {
		return mappingError("fstat", fmt.Errorf("segment is %d bytes, want %d", st.Size, opts.Size))
	}
	return nil
}

// UnmapRegion unmaps the region and releases its backing object (Linux
// implementation). The creator of a segment also removes the /dev/shm file
// or closes the memfd.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Mem == nil {
		return nil
	}
	if err := unix.Munmap(region.Mem); err != nil {
		return mappingError("munmap", err)
	}
	region.Mem = nil
	switch region.Kind {
	case MemMapTypeMemFd:
		// attached views borrow the descriptor from their caller
		if region.Created && region.Fd >= 0 {
			if err := unix.Close(region.Fd); err != nil {
				return mappingError("close", err)
			}
			region.Fd = -1
		}
	case MemMapTypeDevShmFile:
		if region.Created {
			if err := os.Remove(region.Path); err != nil && !os.IsNotExist(err) {
				return mappingError("remove", err)
			}
		}
	}
	return nil
}

// DupFile duplicates a memfd region's descriptor so it can be inherited by a
// child process.
func DupFile(region *MappedRegion) (*os.File, error) {
	if region == nil || region.Fd < 0 {
		return nil, mappingError("dup", fmt.Errorf("region has no descriptor"))
	}
	fd, err := unix.Dup(region.Fd)
	if err != nil {
		return nil, mappingError("dup", err)
	}
	return os.NewFile(uintptr(fd), "shmlog-arena"), nil
}
