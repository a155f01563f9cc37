//go:build !linux

package shm

import (
	"context"
	"errors"
	"os"
	"runtime"
)

var errUnsupported = errors.New("shared arena mapping is only implemented on linux, not " + runtime.GOOS)

// MapRegion is not implemented on this platform.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, mappingError("map", errUnsupported)
}

// UnmapRegion is not implemented on this platform.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Mem == nil {
		return nil
	}
	return mappingError("unmap", errUnsupported)
}

// DupFile is not implemented on this platform.
func DupFile(region *MappedRegion) (*os.File, error) {
	return nil, mappingError("dup", errUnsupported)
}
