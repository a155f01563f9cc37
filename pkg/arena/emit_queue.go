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
	"io"
	"strconv"
	"sync"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	"github.com/valyala/bytebufferpool"
)

// Message is one drained slot.
type Message struct {
	Owner   int
	Offset  int
	Payload []byte
}

func (m Message) String() string {
	return fmt.Sprintf("[owner %d] %s", m.Owner, m.Payload)
}

// Emitter receives drained messages in arena scan order.
type Emitter interface {
	Emit(m Message) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(m Message) error

func (f EmitterFunc) Emit(m Message) error {
	return f(m)
}

// LineEmitter writes one "[owner N] text" line per message.
type LineEmitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineEmitter creates a LineEmitter writing to w.
func NewLineEmitter(w io.Writer) *LineEmitter {
	return &LineEmitter{w: w}
}

func (e *LineEmitter) Emit(m Message) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.WriteString("[owner ")
	_, _ = buf.WriteString(strconv.Itoa(m.Owner))
	_, _ = buf.WriteString("] ")
	_, _ = buf.Write(m.Payload)
	_ = buf.WriteByte('\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.w.Write(buf.B)
	return err
}

// emitQueue decouples copying slots out of the arena from writing them: a
// pass only copies and invalidates, the queue is flushed once the pass ends.
type emitQueue struct {
	q *queuepkg.Queue
}

func newEmitQueue(hint int) *emitQueue {
	return &emitQueue{q: queuepkg.New(int64(hint))}
}

func (q *emitQueue) put(m Message) error {
	return q.q.Put(m)
}

// flush hands every queued message to e, in queue order. Messages after a
// failed Emit are still delivered; the first error is returned.
func (q *emitQueue) flush(e Emitter) (int, error) {
	n := q.q.Len()
	if n == 0 {
		return 0, nil
	}
	items, err := q.q.Get(n)
	if err != nil {
		return 0, err
	}
	var first error
	emitted := 0
	for _, item := range items {
		m, ok := item.(Message)
		if !ok {
			return emitted, fmt.Errorf("invalid queue element type %T", item)
		}
		if err := e.Emit(m); err != nil {
			internalLogger.warnf("emit owner=%d offset=%d failed: %v", m.Owner, m.Offset, err)
			if first == nil {
				first = err
			}
			continue
		}
		emitted++
	}
	return emitted, first
}

func (q *emitQueue) dispose() {
	q.q.Dispose()
}
