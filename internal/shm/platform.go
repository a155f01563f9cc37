// Package shm contains platform-specific helpers for mapping the shared arena
// into a process.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DevShmDir is the tmpfs mount preferred for named segments.
const DevShmDir = "/dev/shm"

// ErrMapping reports that the platform could not establish or remove a
// shared mapping.
var ErrMapping = errors.New("shared mapping failed")

// MemMapType selects how a region is backed.
type MemMapType uint8

const (
	// MemMapTypeDevShmFile backs the region with a named file under /dev/shm.
	MemMapTypeDevShmFile MemMapType = iota
	// MemMapTypeMemFd backs the region with an anonymous memfd that is passed
	// to other processes as an inherited descriptor.
	MemMapTypeMemFd
)

func (t MemMapType) String() string {
	switch t {
	case MemMapTypeDevShmFile:
		return "devshm"
	case MemMapTypeMemFd:
		return "memfd"
	}
	return fmt.Sprintf("MemMapType(%d)", uint8(t))
}

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Mem  []byte
	Kind MemMapType
	// Path is set for MemMapTypeDevShmFile.
	Path string
	// Fd is the memfd descriptor for MemMapTypeMemFd, -1 otherwise.
	Fd int
	// Created is true for the process that created the backing object; it
	// owns removal of the backing file.
	Created bool
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Name   string
	Path   string
	Fd     int
	Size   int
	Kind   MemMapType
	Create bool
}

// SegmentPath returns the backing file path for a named segment, falling back
// to the temporary directory when /dev/shm is not available.
func SegmentPath(name string) string {
	if info, err := os.Stat(DevShmDir); err == nil && info.IsDir() {
		return filepath.Join(DevShmDir, "shmlog_"+name)
	}
	return filepath.Join(os.TempDir(), "shmlog_"+name)
}

func mappingError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrMapping, op, err)
}

// Function implementations are provided in platform-specific files.
