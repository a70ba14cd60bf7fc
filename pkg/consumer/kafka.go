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

package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/novatechflow/kafgate/pkg/kafkalog"
)

const (
	// DefaultIdleTimeout ends a read when no record arrives for this long.
	DefaultIdleTimeout = time.Second
	// DefaultJoinTimeout bounds waiting for the group to receive partitions.
	DefaultJoinTimeout = 10 * time.Second
)

// KafkaConfig configures a KafkaOpener.
type KafkaConfig struct {
	Brokers        []string
	ClientID       string
	IdleTimeout    time.Duration
	JoinTimeout    time.Duration
	ClientLogLevel kgo.LogLevel
	Logger         *slog.Logger
}

// KafkaOpener opens franz-go group consumers. Group deletion goes through a
// long-lived admin client owned by the opener.
type KafkaOpener struct {
	cfg    KafkaConfig
	admin  *kgo.Client
	logger *slog.Logger
}

// NewKafkaOpener dials the admin client used to abandon groups.
func NewKafkaOpener(cfg KafkaConfig) (*KafkaOpener, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "consumer")
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.WithLogger(kafkalog.New(logger, cfg.ClientLogLevel)),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID+"-admin"))
	}
	admin, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create admin client: %w", err)
	}
	return &KafkaOpener{cfg: cfg, admin: admin, logger: logger}, nil
}

// Admin exposes the opener's client for other metadata requests.
func (o *KafkaOpener) Admin() *kgo.Client {
	return o.admin
}

// Open joins a fresh group for topic and waits until partitions are
// assigned. Offsets reset to the earliest record and are never committed.
func (o *KafkaOpener) Open(ctx context.Context, id Identity, topic string) (Stream, error) {
	assigned := make(chan struct{})
	var once sync.Once
	opts := []kgo.Opt{
		kgo.SeedBrokers(o.cfg.Brokers...),
		kgo.ConsumerGroup(id.String()),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(context.Context, *kgo.Client, map[string][]int32) {
			once.Do(func() { close(assigned) })
		}),
		kgo.WithLogger(kafkalog.New(o.logger, o.cfg.ClientLogLevel)),
	}
	if o.cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(o.cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	timer := time.NewTimer(o.cfg.JoinTimeout)
	defer timer.Stop()
	select {
	case <-assigned:
	case <-timer.C:
		client.Close()
		return nil, fmt.Errorf("group %s: no partitions of %s assigned within %s", id, topic, o.cfg.JoinTimeout)
	case <-ctx.Done():
		client.Close()
		return nil, ctx.Err()
	}
	return &kafkaStream{
		client:   client,
		idle:     o.cfg.IdleTimeout,
		deadline: time.Now().Add(o.cfg.IdleTimeout),
		logger:   o.logger.With("group", id.String(), "topic", topic),
	}, nil
}

// Abandon deletes the group's coordinator state. A group that is already
// gone counts as success.
func (o *KafkaOpener) Abandon(ctx context.Context, id Identity) error {
	req := kmsg.NewPtrDeleteGroupsRequest()
	req.Groups = []string{id.String()}
	resp, err := req.RequestWith(ctx, o.admin)
	if err != nil {
		return err
	}
	for _, group := range resp.Groups {
		err := kerr.ErrorForCode(group.ErrorCode)
		if err == nil || errors.Is(err, kerr.GroupIDNotFound) {
			continue
		}
		return fmt.Errorf("delete group %s: %w", group.Group, err)
	}
	return nil
}

// Close releases the admin client.
func (o *KafkaOpener) Close() {
	o.admin.Close()
}

type kafkaStream struct {
	client   *kgo.Client
	idle     time.Duration
	deadline time.Time
	logger   *slog.Logger
}

func (s *kafkaStream) Poll(ctx context.Context, max int) (Batch, error) {
	pollCtx, cancel := context.WithDeadline(ctx, s.deadline)
	defer cancel()

	fetches := s.client.PollRecords(pollCtx, max)
	if fetches.IsClientClosed() {
		return Batch{}, kgo.ErrClientClosed
	}
	var fetchErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		if kerr.IsRetriable(err) {
			s.logger.Debug("retriable fetch error", "partition", partition, "error", err)
			return
		}
		if fetchErr == nil {
			fetchErr = fmt.Errorf("fetch %s[%d]: %w", topic, partition, err)
		}
	})

	var batch Batch
	fetches.EachRecord(func(r *kgo.Record) {
		batch.Values = append(batch.Values, r.Value)
	})
	if len(batch.Values) > 0 {
		s.deadline = time.Now().Add(s.idle)
		return batch, fetchErr
	}
	if fetchErr != nil {
		return batch, fetchErr
	}
	if err := ctx.Err(); err != nil {
		return batch, err
	}
	if !time.Now().Before(s.deadline) {
		batch.Idle = true
	}
	return batch, nil
}

func (s *kafkaStream) Close(ctx context.Context) error {
	err := s.client.LeaveGroupContext(ctx)
	s.client.Close()
	return err
}
