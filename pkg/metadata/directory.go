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
	"log/slog"

	"github.com/novatechflow/kafgate/pkg/apierr"
)

const (
	// DefaultPartitions is used when a create request omits the partition count.
	DefaultPartitions int32 = 2
	// DefaultReplicationFactor is the system-wide replication factor for new topics.
	DefaultReplicationFactor int16 = 1
	// DefaultMaxPartitions caps the partition count a single create may ask for.
	DefaultMaxPartitions int32 = 10000

	maxTopicNameLength = 249
)

// DirectoryConfig tunes a Directory.
type DirectoryConfig struct {
	ReplicationFactor int16
	MaxPartitions     int32
	TopicConfigs      map[string]string
	Logger            *slog.Logger
}

// Directory validates topic operations and passes them through to a Store.
// It keeps no cache: every call reflects the store's current state.
type Directory struct {
	store             Store
	replicationFactor int16
	maxPartitions     int32
	topicConfigs      map[string]string
	logger            *slog.Logger
}

// NewDirectory wraps store.
func NewDirectory(store Store, cfg DirectoryConfig) *Directory {
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = DefaultReplicationFactor
	}
	if cfg.MaxPartitions <= 0 {
		cfg.MaxPartitions = DefaultMaxPartitions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:             store,
		replicationFactor: cfg.ReplicationFactor,
		maxPartitions:     cfg.MaxPartitions,
		topicConfigs:      cfg.TopicConfigs,
		logger:            logger.With("component", "directory"),
	}
}

// List returns every topic name known to the coordination store.
func (d *Directory) List(ctx context.Context) ([]string, error) {
	d.logger.Debug("listing topics")
	names, err := d.store.ListTopics(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "list topics")
	}
	d.logger.Debug("topics found", "count", len(names))
	return names, nil
}

// Create validates and registers a topic with the fixed replication factor.
func (d *Directory) Create(ctx context.Context, name string, partitions int32) error {
	if err := ValidateTopicName(name); err != nil {
		return err
	}
	if partitions <= 0 {
		return apierr.New(apierr.InvalidArgument, "number of partitions must be larger than 0")
	}
	if partitions > d.maxPartitions {
		return apierr.New(apierr.InvalidArgument, "number of partitions must not exceed %d", d.maxPartitions)
	}
	spec := TopicSpec{
		Name:              name,
		NumPartitions:     partitions,
		ReplicationFactor: d.replicationFactor,
		Configs:           d.topicConfigs,
	}
	d.logger.Info("creating topic", "topic", name, "partitions", partitions, "replication_factor", d.replicationFactor)
	if err := d.store.CreateTopic(ctx, spec); err != nil {
		switch {
		case errors.Is(err, ErrTopicExists):
			return apierr.Wrap(apierr.AlreadyExists, err, "topic %q", name)
		case errors.Is(err, ErrInvalidTopic):
			return apierr.Wrap(apierr.InvalidArgument, err, "topic %q", name)
		default:
			return apierr.Wrap(apierr.Internal, err, "create topic %q", name)
		}
	}
	d.logger.Debug("topic created", "topic", name)
	return nil
}

// Exists reports whether name is registered.
func (d *Directory) Exists(ctx context.Context, name string) (bool, error) {
	ok, err := d.store.TopicExists(ctx, name)
	if err != nil {
		return false, apierr.Wrap(apierr.Internal, err, "check topic %q", name)
	}
	return ok, nil
}

// Require returns a NotFound error naming the topic when it is not registered.
func (d *Directory) Require(ctx context.Context, name string) error {
	ok, err := d.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.Wrap(apierr.NotFound, ErrUnknownTopic, "topic does not exist: %s", name)
	}
	return nil
}

// Close releases the underlying store.
func (d *Directory) Close() error {
	return d.store.Close()
}

// ValidateTopicName applies the log store's naming rules.
func ValidateTopicName(name string) error {
	if name == "" {
		return apierr.New(apierr.InvalidArgument, "missing mandatory topic name")
	}
	if name == "." || name == ".." {
		return apierr.New(apierr.InvalidArgument, "topic name cannot be %q or %q", ".", "..")
	}
	if len(name) > maxTopicNameLength {
		return apierr.New(apierr.InvalidArgument, "topic name is illegal, it can't be longer than %d characters, topic name: %s", maxTopicNameLength, name)
	}
	for i := 0; i < len(name); i++ {
		if !legalTopicChar(name[i]) {
			return apierr.New(apierr.InvalidArgument, "topic name %s is illegal, it contains a character other than ASCII alphanumerics, '.', '_' and '-'", name)
		}
	}
	return nil
}

func legalTopicChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == '-':
		return true
	default:
		return false
	}
}

// String renders a spec for logs.
func (s TopicSpec) String() string {
	return fmt.Sprintf("TopicSpec{name=%s partitions=%d replication=%d}", s.Name, s.NumPartitions, s.ReplicationFactor)
}
