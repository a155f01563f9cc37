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
	"errors"

	"github.com/srediag/shmlog/internal/shm"
)

var (
	// ErrMapping is returned when the shared region cannot be mapped or
	// unmapped. It is fatal for the calling process.
	ErrMapping = shm.ErrMapping
	// ErrArenaFull is returned by a claim that found no room. The producer
	// still signals completion.
	ErrArenaFull = errors.New("arena full")
	// ErrMalformedHeader marks a header whose length runs past the arena end.
	ErrMalformedHeader = errors.New("malformed slot header")
	// ErrHeaderOverflow is returned when an owner id or length does not fit
	// the header layout.
	ErrHeaderOverflow = errors.New("header field overflow")
	// ErrInvalidOwner is returned for owner ids outside 1..MaxOwner.
	ErrInvalidOwner = errors.New("invalid owner id")
	// ErrMessageTooLarge is returned for messages above the configured bound.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrAlreadyPublished is returned by a second Publish on the same slot.
	ErrAlreadyPublished = errors.New("slot already published")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid arena config")
	// ErrMisaligned is returned when a region does not start on a word boundary.
	ErrMisaligned = errors.New("arena region is not word aligned")
	// ErrClosed is returned when operating on an unmapped arena.
	ErrClosed = errors.New("arena closed")
)
