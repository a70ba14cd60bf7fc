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

package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// KafkaStore answers topic metadata through the cluster's admin API. The
// requestor is usually a *kgo.Client owned by the caller.
type KafkaStore struct {
	client        kmsg.Requestor
	createTimeout time.Duration
}

// NewKafkaStore wraps client. It does not take ownership of it.
func NewKafkaStore(client kmsg.Requestor, createTimeout time.Duration) *KafkaStore {
	if createTimeout <= 0 {
		createTimeout = 15 * time.Second
	}
	return &KafkaStore{client: client, createTimeout: createTimeout}
}

// ListTopics implements Store.
func (s *KafkaStore) ListTopics(ctx context.Context) ([]string, error) {
	req := kmsg.NewPtrMetadataRequest()
	resp, err := req.RequestWith(ctx, s.client)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata request: %v", ErrStoreUnavailable, err)
	}
	names := make([]string, 0, len(resp.Topics))
	for _, topic := range resp.Topics {
		if topic.Topic == nil || topic.IsInternal {
			continue
		}
		if topic.ErrorCode != 0 {
			continue
		}
		names = append(names, *topic.Topic)
	}
	sort.Strings(names)
	return names, nil
}

// TopicExists implements Store.
func (s *KafkaStore) TopicExists(ctx context.Context, name string) (bool, error) {
	req := kmsg.NewPtrMetadataRequest()
	reqTopic := kmsg.NewMetadataRequestTopic()
	reqTopic.Topic = kmsg.StringPtr(name)
	req.Topics = append(req.Topics, reqTopic)
	resp, err := req.RequestWith(ctx, s.client)
	if err != nil {
		return false, fmt.Errorf("%w: metadata request: %v", ErrStoreUnavailable, err)
	}
	for _, topic := range resp.Topics {
		if topic.Topic == nil || *topic.Topic != name {
			continue
		}
		err := kerr.ErrorForCode(topic.ErrorCode)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, kerr.UnknownTopicOrPartition):
			return false, nil
		default:
			return false, fmt.Errorf("metadata for %s: %w", name, err)
		}
	}
	return false, nil
}

// CreateTopic implements Store.
func (s *KafkaStore) CreateTopic(ctx context.Context, spec TopicSpec) error {
	if spec.Name == "" || spec.NumPartitions <= 0 {
		return ErrInvalidTopic
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}
	req := kmsg.NewPtrCreateTopicsRequest()
	req.TimeoutMillis = int32(s.createTimeout / time.Millisecond)
	reqTopic := kmsg.NewCreateTopicsRequestTopic()
	reqTopic.Topic = spec.Name
	reqTopic.NumPartitions = spec.NumPartitions
	reqTopic.ReplicationFactor = spec.ReplicationFactor
	keys := make([]string, 0, len(spec.Configs))
	for key := range spec.Configs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		cfg := kmsg.NewCreateTopicsRequestTopicConfig()
		cfg.Name = key
		cfg.Value = kmsg.StringPtr(spec.Configs[key])
		reqTopic.Configs = append(reqTopic.Configs, cfg)
	}
	req.Topics = append(req.Topics, reqTopic)

	resp, err := req.RequestWith(ctx, s.client)
	if err != nil {
		return fmt.Errorf("%w: create topics request: %v", ErrStoreUnavailable, err)
	}
	for _, topic := range resp.Topics {
		if topic.Topic != spec.Name {
			continue
		}
		return createTopicError(topic)
	}
	return fmt.Errorf("create topics response did not mention %s", spec.Name)
}

// Close implements Store. The requestor belongs to the caller.
func (s *KafkaStore) Close() error {
	return nil
}

func createTopicError(topic kmsg.CreateTopicsResponseTopic) error {
	err := kerr.ErrorForCode(topic.ErrorCode)
	if err == nil {
		return nil
	}
	if topic.ErrorMessage != nil && *topic.ErrorMessage != "" {
		err = fmt.Errorf("%w: %s", err, *topic.ErrorMessage)
	}
	switch {
	case errors.Is(err, kerr.TopicAlreadyExists):
		return fmt.Errorf("%w: %w", ErrTopicExists, err)
	case errors.Is(err, kerr.InvalidTopicException),
		errors.Is(err, kerr.InvalidPartitions),
		errors.Is(err, kerr.InvalidReplicationFactor),
		errors.Is(err, kerr.InvalidConfig),
		errors.Is(err, kerr.PolicyViolation):
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	default:
		return err
	}
}
