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
	"fmt"

	"github.com/srediag/shmlog/internal/shm"
)

// Slot is a claimed region of the arena owned by one producer. A slot moves
// through two phases: Claim hands it out with the valid bit unset, the owner
// fills Payload, and Publish sets the valid bit. The drainer never reads a
// payload before it observes the valid bit.
type Slot struct {
	arena     *Arena
	offset    int
	header    Header
	payload   []byte
	published bool
}

// Offset returns the byte offset of the slot header.
func (s *Slot) Offset() int {
	return s.offset
}

// Owner returns the producer id written into the header.
func (s *Slot) Owner() int {
	return s.header.Owner()
}

// Len returns the payload length written into the header.
func (s *Slot) Len() int {
	return s.header.Length()
}

// Payload returns the writable slot body. It must not be written after
// Publish.
func (s *Slot) Payload() []byte {
	return s.payload
}

// Published reports whether Publish has completed.
func (s *Slot) Published() bool {
	return s.published
}

// Publish sets the valid bit with an atomic OR, making every byte written to
// Payload visible to the drainer.
func (s *Slot) Publish() error {
	if s.published {
		return ErrAlreadyPublished
	}
	shm.Word(s.arena.mem, s.offset).Or(validBit)
	s.published = true
	s.arena.metrics.published()
	internalLogger.tracef("slot published offset=%d owner=%d len=%d", s.offset, s.Owner(), s.Len())
	return nil
}

// Claim scans the arena from the first slot for an unclaimed header and
// takes it with a compare-and-swap from zero to an owner header whose valid
// bit is unset. Occupied slots, and slots lost to a racing producer, are
// skipped using the length in their header. ErrArenaFull is returned when
// the next candidate offset cannot hold length payload bytes; nothing is
// written in that case.
func (a *Arena) Claim(owner, length int) (*Slot, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if owner < 1 || owner > MaxOwner {
		return nil, fmt.Errorf("%w: %d is outside 1..%d", ErrInvalidOwner, owner, MaxOwner)
	}
	claimed, err := EncodeHeader(owner, length, false)
	if err != nil {
		return nil, err
	}
	capacity := len(a.mem)
	cursor := FirstSlotOffset
	for {
		if cursor+HeaderSize > capacity || cursor+HeaderSize+length > capacity {
			a.metrics.full()
			internalLogger.debugf("arena full owner=%d len=%d cursor=%d capacity=%d", owner, length, cursor, capacity)
			return nil, fmt.Errorf("%w: owner %d needs %d bytes at offset %d of %d",
				ErrArenaFull, owner, HeaderSize+length, cursor, capacity)
		}
		word := shm.Word(a.mem, cursor)
		h := Header(word.Load())
		if h.Claimed() {
			cursor = alignUp(cursor + HeaderSize + h.Length())
			continue
		}
		if !word.CompareAndSwap(0, uint32(claimed)) {
			// the winner's header is visible now; re-read at the same offset
			a.metrics.raceLost()
			continue
		}
		a.metrics.claimed()
		payload, err := a.body(cursor, length)
		if err != nil {
			// unreachable after the full check above; the slot stays
			// claimed and unpublished, which the drainer skips
			return nil, err
		}
		return &Slot{
			arena:   a,
			offset:  cursor,
			header:  claimed,
			payload: payload,
		}, nil
	}
}

// Append claims a slot, copies payload into it and publishes it.
func (a *Arena) Append(owner int, payload []byte) (*Slot, error) {
	slot, err := a.Claim(owner, len(payload))
	if err != nil {
		return nil, err
	}
	copy(slot.Payload(), payload)
	if err := slot.Publish(); err != nil {
		return nil, err
	}
	return slot, nil
}
