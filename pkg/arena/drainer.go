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
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	cmap "github.com/orcaman/concurrent-map/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/shmlog/internal/shm"
)

// Drainer is the single consumer of an arena. It copies every published slot
// out exactly once, clearing the valid bit after the copy, and stops once all
// expected producers have signalled completion.
type Drainer struct {
	arena    *Arena
	expected uint32
	poll     PollConfig
	emitter  Emitter
	queue    *emitQueue
	metrics  *Metrics
	tracer   trace.Tracer
	emitted  metric.Int64Counter

	perOwner    cmap.ConcurrentMap[string, int]
	messages    atomic.Int64
	passes      atomic.Int64
	lastPass    atomic.Int64
	done        atomic.Bool
	malformedAt atomic.Int64
}

// Report summarises a drain.
type Report struct {
	Messages  int
	Completed uint32
	Passes    int
	// Owners maps owner id to the number of messages drained for it.
	Owners map[int]int
}

// NewDrainer creates a drainer expecting config.Producers completions and
// emitting to e. A nil emitter discards messages.
func NewDrainer(a *Arena, config *Config, e Emitter) (*Drainer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	if e == nil {
		e = EmitterFunc(func(Message) error { return nil })
	}
	tracer := config.Tracer
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}
	meter := config.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(instrumentationName)
	}
	emitted, err := meter.Int64Counter("shmlog.drain.messages",
		metric.WithDescription("Messages emitted by the drainer."))
	if err != nil {
		return nil, fmt.Errorf("create drain counter: %w", err)
	}
	d := &Drainer{
		arena:    a,
		expected: uint32(config.Producers),
		poll:     config.Poll,
		emitter:  e,
		queue:    newEmitQueue(config.Producers),
		metrics:  config.Metrics,
		tracer:   tracer,
		emitted:  emitted,
		perOwner: cmap.New[int](),
	}
	d.malformedAt.Store(-1)
	return d, nil
}

// Pass performs one scan from the first slot and returns the number of
// messages drained. The scan stops at the first unclaimed header: producers
// always claim the lowest free offset, so nothing has been claimed past it
// yet. Slots that are claimed but not yet published are skipped by their
// header length and picked up by a later pass. A header whose length runs
// past the arena end ends the pass.
func (d *Drainer) Pass(ctx context.Context) (int, error) {
	if d.arena.Closed() {
		return 0, ErrClosed
	}
	ctx, span := d.tracer.Start(ctx, "arena.drain.pass")
	defer span.End()

	mem := d.arena.mem
	capacity := len(mem)
	n := 0
	for off := FirstSlotOffset; off+HeaderSize <= capacity; {
		word := shm.Word(mem, off)
		h := Header(word.Load())
		if !h.Claimed() {
			break
		}
		body, err := d.arena.body(off, h.Length())
		if err != nil {
			d.reportMalformed(off, h, err)
			break
		}
		if h.Valid() {
			payload := make([]byte, len(body))
			copy(payload, body)
			word.And(^validBit)
			if err := d.queue.put(Message{Owner: h.Owner(), Offset: off, Payload: payload}); err != nil {
				return n, err
			}
			d.perOwner.Upsert(strconv.Itoa(h.Owner()), 1, func(exist bool, old, add int) int {
				return old + add
			})
			n++
		}
		off = alignUp(off + HeaderSize + h.Length())
	}

	d.passes.Add(1)
	d.lastPass.Store(time.Now().UnixNano())
	d.metrics.pass()
	d.metrics.drained(n)
	d.messages.Add(int64(n))
	span.SetAttributes(attribute.Int("drained", n))

	emitted, err := d.queue.flush(d.emitter)
	d.emitted.Add(ctx, int64(emitted))
	if n > 0 {
		internalLogger.debugf("drain pass %d: %d messages", d.passes.Load(), n)
	}
	return n, err
}

func (d *Drainer) reportMalformed(off int, h Header, err error) {
	d.metrics.malformed()
	// one warning per offset, passes repeat while polling
	if d.malformedAt.Swap(int64(off)) != int64(off) {
		internalLogger.warnf("end of scan at offset %d, %s: %v", off, h, err)
	}
}

// Run drains until the completion counter reaches the expected producer
// count, then performs one more pass to catch messages published while the
// counter was moving, and returns. Between passes that drain nothing it
// waits with exponential backoff; a pass that drains resets the backoff.
//
// A producer that dies before completing keeps Run polling until ctx is
// done.
func (d *Drainer) Run(ctx context.Context) (Report, error) {
	defer d.done.Store(true)
	b := d.poll.newBackOff()
	for {
		n, err := d.Pass(ctx)
		if err != nil {
			return d.Report(), err
		}
		completed := d.arena.Completed()
		d.metrics.completions(completed)
		if completed >= d.expected {
			if _, err := d.Pass(ctx); err != nil {
				return d.Report(), err
			}
			internalLogger.infof("drain finished: %d messages from %d producers in %d passes",
				d.messages.Load(), completed, d.passes.Load())
			return d.Report(), nil
		}
		if n > 0 {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = d.poll.MaxInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			err := ctx.Err()
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, err) {
				err = fmt.Errorf("%w: %w", err, cause)
			}
			return d.Report(), err
		case <-timer.C:
		}
	}
}

// Report returns the drain statistics so far.
func (d *Drainer) Report() Report {
	owners := make(map[int]int, d.perOwner.Count())
	for k, v := range d.perOwner.Items() {
		owner, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		owners[owner] = v
	}
	return Report{
		Messages:  int(d.messages.Load()),
		Completed: d.arena.Completed(),
		Passes:    int(d.passes.Load()),
		Owners:    owners,
	}
}

// Drained returns the number of messages drained for owner.
func (d *Drainer) Drained(owner int) int {
	v, _ := d.perOwner.Get(strconv.Itoa(owner))
	return v
}

// LastPass returns the time the last pass finished, or the zero time.
func (d *Drainer) LastPass() time.Time {
	ns := d.lastPass.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Done reports whether Run has returned.
func (d *Drainer) Done() bool {
	return d.done.Load()
}

// Close releases the drainer's queue.
func (d *Drainer) Close() {
	d.queue.dispose()
}
