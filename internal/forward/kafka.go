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

package forward

import (
	"context"
	"time"

	"authtrail/internal/config"
	"authtrail/internal/logging"

	"github.com/segmentio/kafka-go"
	gobreaker "github.com/sony/gobreaker/v2"
)

// KafkaPublisher writes records to one Kafka topic. The record key is the
// user id, so one user's events stay in one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a synchronous writer for cfg.Topic.
func NewKafkaPublisher(cfg *config.ForwarderConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			MaxAttempts:  3,
			BatchSize:    DefaultBatchSize,
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish writes msgs in one call.
func (p *KafkaPublisher) Publish(ctx context.Context, msgs []Message) error {
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafka.Message{Key: m.Key, Value: m.Value}
	}
	return p.writer.WriteMessages(ctx, out...)
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// BreakerPublisher stops calling the wrapped publisher after repeated
// failures until the breaker's open timeout has passed.
type BreakerPublisher struct {
	next    Publisher
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerPublisher wraps next. The breaker opens after maxFailures
// consecutive failures and half-opens after openTimeout.
func NewBreakerPublisher(next Publisher, name string, maxFailures uint32, openTimeout time.Duration) *BreakerPublisher {
	if maxFailures == 0 {
		maxFailures = 5
	}
	logger := logging.NewLogger("forward")
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Forwarder circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	}
	return &BreakerPublisher{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Publish forwards to the wrapped publisher unless the breaker is open, in
// which case it fails with gobreaker.ErrOpenState.
func (b *BreakerPublisher) Publish(ctx context.Context, msgs []Message) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Publish(ctx, msgs)
	})
	return err
}

// State reports the breaker state ("closed", "open", "half-open").
func (b *BreakerPublisher) State() string {
	return b.breaker.State().String()
}

// Close closes the wrapped publisher.
func (b *BreakerPublisher) Close() error {
	return b.next.Close()
}

// NewKafka builds the Kafka publisher behind a circuit breaker.
func NewKafka(cfg *config.ForwarderConfig) *BreakerPublisher {
	return NewBreakerPublisher(NewKafkaPublisher(cfg), "kafka:"+cfg.Topic, cfg.MaxFailures, cfg.OpenTimeout)
}
