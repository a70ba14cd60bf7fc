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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultSnapshotKey is where KafScale brokers read cluster metadata from.
const DefaultSnapshotKey = "/kafscale/metadata/snapshot"

// maxSnapshotCASAttempts bounds how often CreateTopic re-reads the snapshot
// after losing a compare-and-swap to a concurrent writer.
const maxSnapshotCASAttempts = 5

// topicIDNamespace seeds deterministic topic IDs.
var topicIDNamespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

// EtcdStoreConfig defines how we connect to etcd for topic metadata.
type EtcdStoreConfig struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
	SnapshotKey string
}

// EtcdStore keeps topic metadata in the KafScale cluster snapshot stored in
// etcd. Fields of the snapshot it does not understand are preserved on write.
type EtcdStore struct {
	client *clientv3.Client
	key    string
}

// snapshotTopic mirrors the broker's JSON encoding of a topic.
type snapshotTopic struct {
	ErrorCode                 int16
	Name                      string
	TopicID                   [16]byte
	IsInternal                bool
	Partitions                []snapshotPartition
	TopicAuthorizedOperations int32
}

type snapshotPartition struct {
	ErrorCode       int16
	PartitionIndex  int32
	LeaderID        int32
	LeaderEpoch     int32
	ReplicaNodes    []int32
	ISRNodes        []int32
	OfflineReplicas []int32
}

type snapshotBroker struct {
	NodeID int32
}

// snapshot is a decoded view of the document plus the raw fields to write back.
type snapshot struct {
	raw          map[string]json.RawMessage
	topics       []snapshotTopic
	brokers      []snapshotBroker
	controllerID int32
	revision     int64
}

// NewEtcdStore initializes a store backed by etcd.
func NewEtcdStore(ctx context.Context, cfg EtcdStoreConfig) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.SnapshotKey == "" {
		cfg.SnapshotKey = DefaultSnapshotKey
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return &EtcdStore{client: cli, key: cfg.SnapshotKey}, nil
}

// ListTopics implements Store.
func (s *EtcdStore) ListTopics(ctx context.Context) ([]string, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(snap.topics))
	for _, topic := range snap.topics {
		if topic.IsInternal {
			continue
		}
		names = append(names, topic.Name)
	}
	return names, nil
}

// TopicExists implements Store.
func (s *EtcdStore) TopicExists(ctx context.Context, name string) (bool, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	return snap.hasTopic(name), nil
}

// CreateTopic appends the topic to the snapshot with a compare-and-swap on the
// snapshot's mod revision, so concurrent creators never overwrite each other.
func (s *EtcdStore) CreateTopic(ctx context.Context, spec TopicSpec) error {
	if spec.Name == "" || spec.NumPartitions <= 0 {
		return ErrInvalidTopic
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}
	for attempt := 0; attempt < maxSnapshotCASAttempts; attempt++ {
		snap, err := s.load(ctx)
		if err != nil {
			return err
		}
		if snap.hasTopic(spec.Name) {
			return ErrTopicExists
		}
		nodes := snap.nodeIDs()
		if int(spec.ReplicationFactor) > len(nodes) {
			return fmt.Errorf("%w: replication factor %d exceeds %d brokers", ErrInvalidTopic, spec.ReplicationFactor, len(nodes))
		}
		snap.topics = append(snap.topics, newSnapshotTopic(spec, nodes))
		payload, err := snap.encode()
		if err != nil {
			return err
		}
		ok, err := s.swap(ctx, snap.revision, payload)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: snapshot %s kept changing during create", ErrStoreUnavailable, s.key)
}

// Close releases the etcd client.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

func (s *EtcdStore) load(ctx context.Context) (*snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := s.client.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: read snapshot: %v", ErrStoreUnavailable, err)
	}
	snap := &snapshot{raw: make(map[string]json.RawMessage)}
	if len(resp.Kvs) == 0 {
		return snap, nil
	}
	snap.revision = resp.Kvs[0].ModRevision
	if err := snap.decode(resp.Kvs[0].Value); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.key, err)
	}
	return snap, nil
}

// swap writes payload only if the key still has revision (0 = absent).
func (s *EtcdStore) swap(ctx context.Context, revision int64, payload []byte) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var cmp clientv3.Cmp
	if revision == 0 {
		cmp = clientv3.Compare(clientv3.CreateRevision(s.key), "=", 0)
	} else {
		cmp = clientv3.Compare(clientv3.ModRevision(s.key), "=", revision)
	}
	resp, err := s.client.Txn(ctx).
		If(cmp).
		Then(clientv3.OpPut(s.key, string(payload))).
		Commit()
	if err != nil {
		return false, fmt.Errorf("%w: write snapshot: %v", ErrStoreUnavailable, err)
	}
	return resp.Succeeded, nil
}

func (s *snapshot) decode(data []byte) error {
	if err := json.Unmarshal(data, &s.raw); err != nil {
		return err
	}
	if raw, ok := s.raw["Topics"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &s.topics); err != nil {
			return fmt.Errorf("topics: %w", err)
		}
	}
	if raw, ok := s.raw["Brokers"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &s.brokers); err != nil {
			return fmt.Errorf("brokers: %w", err)
		}
	}
	if raw, ok := s.raw["ControllerID"]; ok {
		if err := json.Unmarshal(raw, &s.controllerID); err != nil {
			return fmt.Errorf("controller id: %w", err)
		}
	}
	return nil
}

func (s *snapshot) encode() ([]byte, error) {
	topics, err := json.Marshal(s.topics)
	if err != nil {
		return nil, err
	}
	s.raw["Topics"] = topics
	if _, ok := s.raw["ControllerID"]; !ok {
		s.raw["ControllerID"] = json.RawMessage("0")
	}
	return json.Marshal(s.raw)
}

func (s *snapshot) hasTopic(name string) bool {
	for _, topic := range s.topics {
		if topic.Name == name {
			return true
		}
	}
	return false
}

// nodeIDs lists the brokers partitions can be placed on. A snapshot written
// before any broker registered only knows its controller.
func (s *snapshot) nodeIDs() []int32 {
	if len(s.brokers) == 0 {
		return []int32{s.controllerID}
	}
	ids := make([]int32, len(s.brokers))
	for i, b := range s.brokers {
		ids[i] = b.NodeID
	}
	return ids
}

// newSnapshotTopic places replicas round-robin over nodes: partition i gets
// ReplicationFactor consecutive nodes starting at i, the first one leading.
// The caller guarantees ReplicationFactor <= len(nodes).
func newSnapshotTopic(spec TopicSpec, nodes []int32) snapshotTopic {
	rf := int(spec.ReplicationFactor)
	if rf <= 0 {
		rf = 1
	}
	partitions := make([]snapshotPartition, spec.NumPartitions)
	for i := range partitions {
		replicas := make([]int32, rf)
		for j := range replicas {
			replicas[j] = nodes[(i+j)%len(nodes)]
		}
		partitions[i] = snapshotPartition{
			PartitionIndex: int32(i),
			LeaderID:       replicas[0],
			ReplicaNodes:   replicas,
			ISRNodes:       append([]int32(nil), replicas...),
		}
	}
	return snapshotTopic{
		Name:       spec.Name,
		TopicID:    TopicIDForName(spec.Name),
		Partitions: partitions,
	}
}

// TopicIDForName derives a stable topic ID from its name.
func TopicIDForName(name string) [16]byte {
	return uuid.NewSHA1(topicIDNamespace, []byte(name))
}
