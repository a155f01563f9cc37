package shm

import (
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// CanCreateOnDevShm reports whether size bytes fit on /dev/shm. Paths outside
// /dev/shm, and platforms other than linux, always report true.
func CanCreateOnDevShm(size uint64, path string) bool {
	if runtime.GOOS != "linux" || !strings.HasPrefix(path, DevShmDir) {
		return true
	}
	stat, err := disk.Usage(DevShmDir)
	if err != nil {
		return false
	}
	return stat.Free >= size
}
