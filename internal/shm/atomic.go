package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// WordSize is the width of every atomically accessed word in a region.
const WordSize = 4

// Aligned reports whether the first byte of mem sits on a word boundary.
func Aligned(mem []byte) bool {
	if len(mem) == 0 {
		return false
	}
	return uintptr(unsafe.Pointer(&mem[0]))%WordSize == 0
}

// Word returns the 32-bit word at off as an atomic value aliasing mem.
// Callers bounds-check first; an out-of-range or misaligned offset panics.
func Word(mem []byte, off int) *atomic.Uint32 {
	if off < 0 || off%WordSize != 0 || off+WordSize > len(mem) {
		panic(fmt.Sprintf("shm: word offset %d out of range for %d byte region", off, len(mem)))
	}
	return (*atomic.Uint32)(unsafe.Pointer(&mem[off]))
}
