/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
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

// Package forward publishes stored audit records to a downstream system on a
// best-effort, at-most-once basis. Records are buffered in a bounded queue;
// a full queue drops the record instead of blocking the writer.
package forward

import (
	"context"
	"sync"

	"authtrail/internal/logging"
	"authtrail/internal/metrics"
)

// DefaultBatchSize is the most records handed to the publisher at once.
const DefaultBatchSize = 100

// Message is one record to forward.
type Message struct {
	Key   []byte
	Value []byte
}

// Publisher delivers batches of messages.
type Publisher interface {
	Publish(ctx context.Context, msgs []Message) error
	Close() error
}

// Forwarder drains a bounded queue into a Publisher from one goroutine.
type Forwarder struct {
	publisher Publisher
	batchSize int
	logger    *logging.Logger

	mu      sync.RWMutex
	queue   chan Message
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a forwarder with room for bufferSize pending records.
func New(publisher Publisher, bufferSize int) *Forwarder {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Forwarder{
		publisher: publisher,
		batchSize: DefaultBatchSize,
		logger:    logging.NewLogger("forward"),
		queue:     make(chan Message, bufferSize),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start launches the publishing goroutine.
func (f *Forwarder) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.stopped {
		return
	}
	f.started = true
	go f.run()
	f.logger.Info("Forwarder started", "buffer", cap(f.queue))
}

// Submit queues a record without blocking. It returns false when the record
// was dropped because the queue is full or the forwarder is stopped.
func (f *Forwarder) Submit(key string, record []byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.stopped {
		return false
	}
	select {
	case f.queue <- Message{Key: []byte(key), Value: record}:
		return true
	default:
		metrics.ForwardDropped.Inc()
		f.logger.Warn("Forward queue full, dropping record", "key", key)
		return false
	}
}

// Pending returns the number of queued records.
func (f *Forwarder) Pending() int {
	return len(f.queue)
}

func (f *Forwarder) run() {
	defer close(f.done)

	batch := make([]Message, 0, f.batchSize)
	for msg := range f.queue {
		batch = append(batch[:0], msg)
	fill:
		for len(batch) < f.batchSize {
			select {
			case m, ok := <-f.queue:
				if !ok {
					break fill
				}
				batch = append(batch, m)
			default:
				break fill
			}
		}
		f.publish(batch)
	}
}

func (f *Forwarder) publish(batch []Message) {
	if f.ctx.Err() != nil {
		metrics.ForwardDropped.Add(float64(len(batch)))
		return
	}
	if err := f.publisher.Publish(f.ctx, batch); err != nil {
		metrics.ForwardDropped.Add(float64(len(batch)))
		f.logger.Warn("Failed to forward records", "count", len(batch), "error", err)
		return
	}
	metrics.ForwardPublished.Add(float64(len(batch)))
}

// Stop rejects new records and drains the queue. When ctx ends first the
// remaining records are dropped. The publisher is closed afterwards.
func (f *Forwarder) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	started := f.started
	close(f.queue)
	f.mu.Unlock()

	if started {
		select {
		case <-f.done:
		case <-ctx.Done():
			f.cancel()
			<-f.done
		}
	}
	f.cancel()

	if n := len(f.queue); n > 0 {
		metrics.ForwardDropped.Add(float64(n))
	}
	f.logger.Info("Forwarder stopped")
	return f.publisher.Close()
}
