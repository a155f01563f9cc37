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
)

// Header is the 32-bit word that opens every slot.
//
//	bit 31      valid, payload fully written and ready to drain
//	bits 30..16 owner id
//	bits 15..0  payload length
//
// The all-zero word marks an unclaimed slot, which is why owner 0 is never
// handed to a producer.
type Header uint32

const (
	// HeaderSize is the encoded size of a Header in bytes.
	HeaderSize = 4

	ownerBits  = 15
	lengthBits = 16
	ownerShift = lengthBits

	validBit = uint32(1) << 31

	// MaxOwner is the largest owner id the header can carry.
	MaxOwner = 1<<ownerBits - 1
	// MaxPayload is the largest payload length the header can carry.
	MaxPayload = 1<<lengthBits - 1
)

// EncodeHeader packs owner, length and the valid flag into a Header.
func EncodeHeader(owner, length int, valid bool) (Header, error) {
	if owner < 0 || owner > MaxOwner {
		return 0, fmt.Errorf("%w: owner %d does not fit in %d bits", ErrHeaderOverflow, owner, ownerBits)
	}
	if length < 0 || length > MaxPayload {
		return 0, fmt.Errorf("%w: length %d does not fit in %d bits", ErrHeaderOverflow, length, lengthBits)
	}
	h := uint32(owner)<<ownerShift | uint32(length)
	if valid {
		h |= validBit
	}
	return Header(h), nil
}

// Decode unpacks the header fields.
func (h Header) Decode() (owner, length int, valid bool) {
	return h.Owner(), h.Length(), h.Valid()
}

// Owner returns the producer id stored in bits 30..16.
func (h Header) Owner() int {
	return int(uint32(h)>>ownerShift) & MaxOwner
}

// Length returns the payload length stored in bits 15..0.
func (h Header) Length() int {
	return int(uint32(h) & MaxPayload)
}

// Valid reports whether the payload behind the header has been published.
func (h Header) Valid() bool {
	return uint32(h)&validBit != 0
}

// Claimed reports whether any producer has taken the slot.
func (h Header) Claimed() bool {
	return h != 0
}

func (h Header) String() string {
	return fmt.Sprintf("header{owner:%d len:%d valid:%t}", h.Owner(), h.Length(), h.Valid())
}

func alignUp(off int) int {
	return (off + HeaderSize - 1) &^ (HeaderSize - 1)
}
