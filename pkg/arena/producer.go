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
	"strconv"

	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/srediag/shmlog/pkg/arena"

// Producer publishes one message into an arena on behalf of an owner id.
type Producer struct {
	arena          *Arena
	owner          int
	maxMessageSize int
	tracer         trace.Tracer
}

// Result describes what a producer run contributed.
type Result struct {
	Owner     int
	Offset    int
	Published bool
	// Completed is the completion counter value after this producer's
	// increment.
	Completed uint32
}

// NewProducer creates a producer for owner. config may be nil, in which case
// DefaultConfig is used.
func NewProducer(a *Arena, owner int, config *Config) (*Producer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if owner < 1 || owner > MaxOwner {
		return nil, fmt.Errorf("%w: %d is outside 1..%d", ErrInvalidOwner, owner, MaxOwner)
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	return &Producer{
		arena:          a,
		owner:          owner,
		maxMessageSize: config.MaxMessageSize,
		tracer:         tracer,
	}, nil
}

// Owner returns the producer's owner id.
func (p *Producer) Owner() int {
	return p.owner
}

// Run claims a slot for msg, writes it and publishes it, then increments the
// completion counter. The counter is incremented exactly once on every path,
// after the slot is either fully published or abandoned. ErrArenaFull and
// ErrMessageTooLarge mean this producer contributed no message.
func (p *Producer) Run(ctx context.Context, msg []byte) (res Result, err error) {
	ctx, span := p.tracer.Start(ctx, "arena.produce", trace.WithAttributes(
		attribute.Int("owner", p.owner),
		attribute.Int("length", len(msg)),
	))
	res.Owner = p.owner
	defer func() {
		res.Completed = p.arena.Complete()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("published", res.Published))
		span.End()
	}()

	if err = ctx.Err(); err != nil {
		return res, err
	}
	if len(msg) > p.maxMessageSize {
		return res, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLarge, len(msg), p.maxMessageSize)
	}
	slot, err := p.arena.Claim(p.owner, len(msg))
	if err != nil {
		return res, err
	}
	copy(slot.Payload(), msg)
	if err = slot.Publish(); err != nil {
		return res, err
	}
	res.Offset = slot.Offset()
	res.Published = true
	internalLogger.debugf("producer %d published %d bytes at offset %d", p.owner, len(msg), res.Offset)
	return res, nil
}

// FormatMessage builds the default producer greeting.
func FormatMessage(owner, pid int) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.WriteString("hello from producer ")
	_, _ = buf.WriteString(strconv.Itoa(owner))
	_, _ = buf.WriteString(" (pid ")
	_, _ = buf.WriteString(strconv.Itoa(pid))
	_ = buf.WriteByte(')')
	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out
}
