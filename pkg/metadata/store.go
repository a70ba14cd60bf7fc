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
	"sync"
)

// Store is the coordination-store client behind the topic directory. It holds
// no topic state of its own beyond what the backend reports.
type Store interface {
	// ListTopics returns the names of all non-internal topics currently registered.
	ListTopics(ctx context.Context) ([]string, error)
	// CreateTopic registers a topic. It returns ErrTopicExists when the name is taken.
	CreateTopic(ctx context.Context, spec TopicSpec) error
	// TopicExists reports whether a topic is registered.
	TopicExists(ctx context.Context, name string) (bool, error)
	// Close releases the store's connection.
	Close() error
}

// TopicSpec describes a topic creation request.
type TopicSpec struct {
	Name              string
	NumPartitions     int32
	ReplicationFactor int16
	Configs           map[string]string
}

var (
	// ErrTopicExists indicates the topic is already present.
	ErrTopicExists = errors.New("topic already exists")
	// ErrInvalidTopic indicates the topic specification is invalid.
	ErrInvalidTopic = errors.New("invalid topic configuration")
	// ErrUnknownTopic indicates the topic does not exist.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrStoreUnavailable is returned when the metadata store cannot be reached.
	ErrStoreUnavailable = errors.New("metadata store unavailable")
)

// InMemoryStore is a Store backed by in-process state. Useful for development and tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	topics []TopicSpec
	closed bool
}

// NewInMemoryStore builds an in-memory store seeded with the provided topics.
func NewInMemoryStore(topics ...TopicSpec) *InMemoryStore {
	s := &InMemoryStore{}
	for _, topic := range topics {
		s.topics = append(s.topics, cloneSpec(topic))
	}
	return s
}

// ListTopics implements Store.
func (s *InMemoryStore) ListTopics(ctx context.Context) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreUnavailable
	}
	names := make([]string, 0, len(s.topics))
	for _, topic := range s.topics {
		names = append(names, topic.Name)
	}
	return names, nil
}

// CreateTopic implements Store.
func (s *InMemoryStore) CreateTopic(ctx context.Context, spec TopicSpec) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if spec.Name == "" || spec.NumPartitions <= 0 {
		return ErrInvalidTopic
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreUnavailable
	}
	for _, topic := range s.topics {
		if topic.Name == spec.Name {
			return ErrTopicExists
		}
	}
	s.topics = append(s.topics, cloneSpec(spec))
	return nil
}

// TopicExists implements Store.
func (s *InMemoryStore) TopicExists(ctx context.Context, name string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrStoreUnavailable
	}
	for _, topic := range s.topics {
		if topic.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// Topic returns the stored spec for name.
func (s *InMemoryStore) Topic(name string) (TopicSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, topic := range s.topics {
		if topic.Name == name {
			return cloneSpec(topic), true
		}
	}
	return TopicSpec{}, false
}

// Close implements Store. Subsequent calls report ErrStoreUnavailable.
func (s *InMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneSpec(spec TopicSpec) TopicSpec {
	out := spec
	if len(spec.Configs) > 0 {
		out.Configs = make(map[string]string, len(spec.Configs))
		for k, v := range spec.Configs {
			out.Configs[k] = v
		}
	}
	return out
}
