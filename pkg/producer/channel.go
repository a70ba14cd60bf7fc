// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package producer owns the gateway's shared publishing connection.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/novatechflow/kafgate/pkg/apierr"
	"github.com/novatechflow/kafgate/pkg/kafkalog"
)

// ErrClosed is returned by Publish once the channel has been closed.
var ErrClosed = errors.New("producer channel closed")

const (
	// defaultBatchBytes is franz-go's own ProducerBatchMaxBytes default.
	defaultBatchBytes = 1000012
	minBatchBytes     = 1 << 10
	// maxBatchBytes stays well under the client's 100 MiB broker write limit,
	// which franz-go shrinks further by the produce request header.
	maxBatchBytes = 64 << 20
	// recordFraming bounds what a batch holding a single keyless record adds
	// around the value: the 61-byte batch header plus the record's varints.
	recordFraming = 128
)

// Sink is the subset of *kgo.Client the channel publishes through.
type Sink interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Flush(ctx context.Context) error
	BufferedProduceRecords() int64
	Close()
}

// Dialer builds the sink on first use.
type Dialer func() (Sink, error)

// Config configures a Channel.
type Config struct {
	Brokers            []string
	ClientID           string
	WaitForAck         bool
	AckTimeout         time.Duration
	CloseTimeout       time.Duration
	MaxBufferedRecords int
	MaxRecordBytes     int
	ClientLogLevel     kgo.LogLevel
	Logger             *slog.Logger
	// OnDeliveryError observes records the cluster rejected after Publish
	// already returned.
	OnDeliveryError func(topic string, err error)
}

// Channel is a lazily opened, concurrency-safe publisher. Publish may be
// called from many goroutines; ordering within the client pipeline is
// whatever franz-go provides per partition.
type Channel struct {
	cfg    Config
	dial   Dialer
	logger *slog.Logger

	mu     sync.Mutex
	sink   Sink
	closed bool
}

// New returns a Channel that dials a franz-go client from cfg.
func New(cfg Config) *Channel {
	ch := NewWithDialer(cfg, nil)
	ch.dial = ch.dialKafka
	return ch
}

// NewWithDialer returns a Channel that obtains its sink from dial.
func NewWithDialer(cfg Config, dial Dialer) *Channel {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{cfg: cfg, dial: dial, logger: logger.With("component", "producer")}
}

func (c *Channel) dialKafka() (Sink, error) {
	if len(c.cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(c.cfg.Brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.WithLogger(kafkalog.New(c.logger, c.cfg.ClientLogLevel)),
	}
	if c.cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.cfg.ClientID))
	}
	if c.cfg.MaxBufferedRecords > 0 {
		opts = append(opts, kgo.MaxBufferedRecords(c.cfg.MaxBufferedRecords))
	}
	opts = append(opts, kgo.ProducerBatchMaxBytes(batchBytes(c.cfg.MaxRecordBytes)))
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Open establishes the underlying client. It is safe to call repeatedly;
// Publish calls it on demand.
func (c *Channel) Open() error {
	_, err := c.acquire()
	return err
}

func (c *Channel) acquire() (Sink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.sink != nil {
		return c.sink, nil
	}
	if c.dial == nil {
		return nil, errors.New("producer channel has no dialer")
	}
	sink, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("open producer: %w", err)
	}
	c.sink = sink
	c.logger.Info("producer channel opened", "brokers", c.cfg.Brokers, "wait_for_ack", c.cfg.WaitForAck)
	return sink, nil
}

// Publish hands payload to the client pipeline for topic. By default it
// returns once the record is buffered, without waiting for the broker. A
// record that cannot be buffered is reported as PublishFailed; later delivery
// failures go to OnDeliveryError.
func (c *Channel) Publish(ctx context.Context, topic string, payload []byte) error {
	sink, err := c.acquire()
	if err != nil {
		return apierr.Wrap(apierr.PublishFailed, err, "publish to %s", topic)
	}
	rec := &kgo.Record{Topic: topic, Value: payload}
	if c.cfg.WaitForAck {
		if err := c.checkSize(rec); err != nil {
			return apierr.Wrap(apierr.PublishFailed, err, "publish to %s", topic)
		}
		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.AckTimeout)
		defer cancel()
		if err := sink.ProduceSync(ackCtx, rec).FirstErr(); err != nil {
			return apierr.Wrap(apierr.PublishFailed, err, "publish to %s", topic)
		}
		return nil
	}

	if err := c.admit(sink, rec); err != nil {
		return apierr.Wrap(apierr.PublishFailed, err, "publish to %s", topic)
	}
	sink.TryProduce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err != nil {
			c.deliveryFailed(r, err)
		}
	})
	return nil
}

// admit rejects records the client would refuse before buffering them.
// franz-go reports those through the promise, after Publish has returned.
func (c *Channel) admit(sink Sink, rec *kgo.Record) error {
	if err := c.checkSize(rec); err != nil {
		return err
	}
	if c.cfg.MaxBufferedRecords > 0 && sink.BufferedProduceRecords() >= int64(c.cfg.MaxBufferedRecords) {
		return kgo.ErrMaxBuffered
	}
	return nil
}

func (c *Channel) checkSize(rec *kgo.Record) error {
	limit := MaxPayloadBytes(c.cfg.MaxRecordBytes)
	if size := len(rec.Key) + len(rec.Value); size > limit {
		return fmt.Errorf("%w: record of %d bytes exceeds %d", kerr.MessageTooLarge, size, limit)
	}
	return nil
}

// MaxPayloadBytes is the largest record value that fits in one producer batch
// when the batch limit is derived from maxRecordBytes.
func MaxPayloadBytes(maxRecordBytes int) int {
	return int(batchBytes(maxRecordBytes)) - recordFraming
}

// batchBytes turns the configured record limit into the client's batch
// limit, clamped to what franz-go accepts.
func batchBytes(maxRecordBytes int) int32 {
	switch {
	case maxRecordBytes <= 0:
		return defaultBatchBytes
	case maxRecordBytes < minBatchBytes:
		return minBatchBytes
	case maxRecordBytes > maxBatchBytes:
		return maxBatchBytes
	}
	return int32(maxRecordBytes)
}

func (c *Channel) deliveryFailed(r *kgo.Record, err error) {
	c.logger.Warn("record delivery failed", "topic", r.Topic, "partition", r.Partition, "error", err)
	if c.cfg.OnDeliveryError != nil {
		c.cfg.OnDeliveryError(r.Topic, err)
	}
}

// Close flushes buffered records, bounded by the close timeout, and releases
// the client. Later calls are no-ops.
func (c *Channel) Close() error {
	c.mu.Lock()
	sink := c.sink
	already := c.closed
	c.closed = true
	c.sink = nil
	c.mu.Unlock()
	if already || sink == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CloseTimeout)
	defer cancel()
	err := sink.Flush(ctx)
	sink.Close()
	if err != nil {
		c.logger.Warn("producer flush incomplete", "error", err)
		return fmt.Errorf("flush producer: %w", err)
	}
	c.logger.Info("producer channel closed")
	return nil
}
