/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package arena

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/srediag/shmlog/internal/shm"
)

const (
	counterOffset = 0
	counterSize   = shm.WordSize

	// FirstSlotOffset is where the first slot header lives, right after the
	// completion counter, rounded up to header alignment.
	FirstSlotOffset = (counterOffset + counterSize + HeaderSize - 1) &^ (HeaderSize - 1)
	// MinCapacity holds the counter and one empty slot.
	MinCapacity = FirstSlotOffset + HeaderSize
)

// Arena is a fixed-capacity byte region shared by one drainer and any number
// of producers. Bytes 0..3 hold the completion counter; the rest is a run of
// slots. Every shared mutation is a single atomic operation on a 32-bit word.
//
// An Arena value is a per-process view; the bytes behind it may be mapped by
// other processes at the same time.
type Arena struct {
	mem     []byte
	region  *shm.MappedRegion
	metrics *Metrics
	closed  atomic.Bool
}

// Option configures an Arena view.
type Option func(*Arena)

// WithMetrics records claims and publishes into m.
func WithMetrics(m *Metrics) Option {
	return func(a *Arena) {
		a.metrics = m
	}
}

// New wraps mem as an arena. mem must be word aligned and at least
// MinCapacity bytes; its contents are left as they are.
func New(mem []byte, opts ...Option) (*Arena, error) {
	if len(mem) < MinCapacity {
		return nil, fmt.Errorf("%w: capacity %d is below the minimum %d", ErrInvalidConfig, len(mem), MinCapacity)
	}
	if !shm.Aligned(mem) {
		return nil, ErrMisaligned
	}
	a := &Arena{mem: mem}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// OpenOptions defines options for creating or attaching to a shared arena.
type OpenOptions struct {
	// Name identifies a new segment; Path or Fd attach to an existing one.
	Name string
	Path string
	Fd   int
	// Capacity is the arena size in bytes.
	Capacity int
	// MemFd selects a memfd backing instead of a /dev/shm file.
	MemFd bool
	// Create creates and zeroes the segment.
	Create bool
}

// Open maps a shared arena. The creating process zeroes it before handing
// its reference to producers.
func Open(ctx context.Context, opts OpenOptions, aopts ...Option) (*Arena, error) {
	kind := shm.MemMapTypeDevShmFile
	if opts.MemFd {
		kind = shm.MemMapTypeMemFd
	}
	region, err := shm.MapRegion(ctx, shm.MapOptions{
		Name:   opts.Name,
		Path:   opts.Path,
		Fd:     opts.Fd,
		Size:   opts.Capacity,
		Kind:   kind,
		Create: opts.Create,
	})
	if err != nil {
		return nil, err
	}
	a, err := New(region.Mem, aopts...)
	if err != nil {
		_ = shm.UnmapRegion(ctx, region)
		return nil, err
	}
	a.region = region
	if opts.Create {
		a.Reset()
	}
	internalLogger.debugf("arena mapped kind=%s path=%q fd=%d capacity=%d create=%t",
		kind, region.Path, region.Fd, len(region.Mem), opts.Create)
	return a, nil
}

// Capacity returns the arena size in bytes.
func (a *Arena) Capacity() int {
	return len(a.mem)
}

// Reset zeroes the whole arena. It must only be called before the arena is
// shared with producers.
func (a *Arena) Reset() {
	clear(a.mem)
}

// Complete atomically increments the completion counter and returns the new
// value. On a closed arena it does nothing and returns 0.
func (a *Arena) Complete() uint32 {
	if a.closed.Load() {
		internalLogger.warnf("completion on closed arena dropped")
		return 0
	}
	v := shm.Word(a.mem, counterOffset).Add(1)
	a.metrics.completions(v)
	return v
}

// Completed returns the current value of the completion counter, or 0 once
// the arena is closed.
func (a *Arena) Completed() uint32 {
	if a.closed.Load() {
		return 0
	}
	return shm.Word(a.mem, counterOffset).Load()
}

// HeaderAt atomically loads the header word at off.
func (a *Arena) HeaderAt(off int) (Header, error) {
	if a.closed.Load() {
		return 0, ErrClosed
	}
	if off < FirstSlotOffset || off%HeaderSize != 0 || off+HeaderSize > len(a.mem) {
		return 0, fmt.Errorf("%w: no header at offset %d", ErrMalformedHeader, off)
	}
	return Header(shm.Word(a.mem, off).Load()), nil
}

// body returns the payload bytes of a slot whose header sits at off.
func (a *Arena) body(off, length int) ([]byte, error) {
	start := off + HeaderSize
	end := start + length
	if off < FirstSlotOffset || end > len(a.mem) {
		return nil, fmt.Errorf("%w: slot at %d with length %d exceeds capacity %d", ErrMalformedHeader, off, length, len(a.mem))
	}
	return a.mem[start:end:end], nil
}

// Path returns the backing file of a /dev/shm arena, or "" for memfd and
// heap arenas.
func (a *Arena) Path() string {
	if a.region == nil || a.region.Kind != shm.MemMapTypeDevShmFile {
		return ""
	}
	return a.region.Path
}

// File returns a duplicate of the memfd backing the arena, suitable for
// exec.Cmd.ExtraFiles. The caller closes it. It returns nil when the arena
// is not memfd backed.
func (a *Arena) File() (*os.File, error) {
	if a.region == nil || a.region.Kind != shm.MemMapTypeMemFd {
		return nil, nil
	}
	return shm.DupFile(a.region)
}

// Closed reports whether Close has been called.
func (a *Arena) Closed() bool {
	return a.closed.Load()
}

// Close unmaps a shared arena. Heap arenas are only marked closed. Later
// calls see the arena closed; calls racing with Close on a mapped arena are
// not allowed, so Close must follow every other use of this mapping.
func (a *Arena) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	if a.region == nil {
		return nil
	}
	if err := shm.UnmapRegion(ctx, a.region); err != nil {
		internalLogger.warnf("arena unmap error: %v", err)
		return err
	}
	a.mem = nil
	return nil
}
