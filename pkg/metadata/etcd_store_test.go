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
	"net"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

const (
	testEtcdClientPort = "32479"
	testEtcdPeerPort   = "32480"
)

func TestEtcdStoreCreateThenList(t *testing.T) {
	e, endpoints := startEmbeddedEtcd(t)
	defer e.Close()

	ctx := context.Background()
	store, err := NewEtcdStore(ctx, EtcdStoreConfig{Endpoints: endpoints})
	if err != nil {
		t.Fatalf("NewEtcdStore: %v", err)
	}
	defer store.Close()

	names, err := store.ListTopics(ctx)
	if err != nil {
		t.Fatalf("ListTopics on empty snapshot: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no topics, got %v", names)
	}
	if err := store.CreateTopic(ctx, TopicSpec{Name: "orders", NumPartitions: 3, ReplicationFactor: 1}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	names, err = store.ListTopics(ctx)
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(names) != 1 || names[0] != "orders" {
		t.Fatalf("expected [orders], got %v", names)
	}
	ok, err := store.TopicExists(ctx, "orders")
	if err != nil || !ok {
		t.Fatalf("expected orders to exist: ok=%v err=%v", ok, err)
	}

	raw := readSnapshot(t, endpoints)
	var doc struct {
		Topics []snapshotTopic
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(doc.Topics) != 1 || len(doc.Topics[0].Partitions) != 3 {
		t.Fatalf("unexpected snapshot topics: %+v", doc.Topics)
	}
	if doc.Topics[0].TopicID != TopicIDForName("orders") {
		t.Fatalf("topic id not derived from name")
	}
}

func TestEtcdStoreDuplicateCreate(t *testing.T) {
	e, endpoints := startEmbeddedEtcd(t)
	defer e.Close()

	ctx := context.Background()
	store, err := NewEtcdStore(ctx, EtcdStoreConfig{Endpoints: endpoints})
	if err != nil {
		t.Fatalf("NewEtcdStore: %v", err)
	}
	defer store.Close()

	if err := store.CreateTopic(ctx, TopicSpec{Name: "orders", NumPartitions: 1}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	if err := store.CreateTopic(ctx, TopicSpec{Name: "orders", NumPartitions: 1}); !errors.Is(err, ErrTopicExists) {
		t.Fatalf("expected ErrTopicExists, got %v", err)
	}
}

func TestEtcdStorePreservesBrokerSnapshot(t *testing.T) {
	e, endpoints := startEmbeddedEtcd(t)
	defer e.Close()

	seed := `{"Brokers":[{"NodeID":7,"Host":"broker-0","Port":9092}],"ControllerID":7,"ClusterName":"prod","Topics":null}`
	putSnapshot(t, endpoints, seed)

	ctx := context.Background()
	store, err := NewEtcdStore(ctx, EtcdStoreConfig{Endpoints: endpoints})
	if err != nil {
		t.Fatalf("NewEtcdStore: %v", err)
	}
	defer store.Close()

	err = store.CreateTopic(ctx, TopicSpec{Name: "orders", NumPartitions: 2, ReplicationFactor: 3})
	if !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("expected replication factor rejection, got %v", err)
	}
	if err := store.CreateTopic(ctx, TopicSpec{Name: "orders", NumPartitions: 2, ReplicationFactor: 1}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	var doc struct {
		Brokers []struct {
			NodeID int32
			Host   string
			Port   int32
		}
		ClusterName string
		Topics      []snapshotTopic
	}
	if err := json.Unmarshal(readSnapshot(t, endpoints), &doc); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if doc.ClusterName != "prod" || len(doc.Brokers) != 1 || doc.Brokers[0].Host != "broker-0" {
		t.Fatalf("snapshot fields not preserved: %+v", doc)
	}
	if len(doc.Topics) != 1 || doc.Topics[0].Partitions[1].LeaderID != 7 {
		t.Fatalf("expected partitions led by broker 7: %+v", doc.Topics)
	}
}

func TestEtcdStoreSpreadsReplicasAcrossBrokers(t *testing.T) {
	e, endpoints := startEmbeddedEtcd(t)
	defer e.Close()

	putSnapshot(t, endpoints, `{"Brokers":[{"NodeID":1},{"NodeID":2},{"NodeID":3}],"ControllerID":1,"Topics":null}`)

	ctx := context.Background()
	store, err := NewEtcdStore(ctx, EtcdStoreConfig{Endpoints: endpoints})
	if err != nil {
		t.Fatalf("NewEtcdStore: %v", err)
	}
	defer store.Close()

	if err := store.CreateTopic(ctx, TopicSpec{Name: "orders", NumPartitions: 3, ReplicationFactor: 2}); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	var doc struct {
		Topics []snapshotTopic
	}
	if err := json.Unmarshal(readSnapshot(t, endpoints), &doc); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(doc.Topics) != 1 || len(doc.Topics[0].Partitions) != 3 {
		t.Fatalf("unexpected topics: %+v", doc.Topics)
	}
	want := []string{"[1 2]", "[2 3]", "[3 1]"}
	for i, p := range doc.Topics[0].Partitions {
		if got := fmt.Sprint(p.ReplicaNodes); got != want[i] {
			t.Fatalf("partition %d replicas %s, want %s", i, got, want[i])
		}
		if p.LeaderID != int32(i+1) || len(p.ISRNodes) != 2 {
			t.Fatalf("partition %d: leader %d isr %v", i, p.LeaderID, p.ISRNodes)
		}
	}
}

func TestEtcdStoreRejectsReplicationWithoutBrokers(t *testing.T) {
	e, endpoints := startEmbeddedEtcd(t)
	defer e.Close()

	ctx := context.Background()
	store, err := NewEtcdStore(ctx, EtcdStoreConfig{Endpoints: endpoints})
	if err != nil {
		t.Fatalf("NewEtcdStore: %v", err)
	}
	defer store.Close()

	err = store.CreateTopic(ctx, TopicSpec{Name: "orders", NumPartitions: 1, ReplicationFactor: 2})
	if !errors.Is(err, ErrInvalidTopic) {
		t.Fatalf("expected ErrInvalidTopic without registered brokers, got %v", err)
	}
	if ok, _ := store.TopicExists(ctx, "orders"); ok {
		t.Fatalf("rejected topic was written")
	}
}

func TestSnapshotTopicSpreadsReplicas(t *testing.T) {
	topic := newSnapshotTopic(TopicSpec{Name: "orders", NumPartitions: 4, ReplicationFactor: 2}, []int32{1, 2, 3})
	want := [][]int32{{1, 2}, {2, 3}, {3, 1}, {1, 2}}
	if len(topic.Partitions) != len(want) {
		t.Fatalf("expected %d partitions, got %d", len(want), len(topic.Partitions))
	}
	for i, p := range topic.Partitions {
		if fmt.Sprint(p.ReplicaNodes) != fmt.Sprint(want[i]) || fmt.Sprint(p.ISRNodes) != fmt.Sprint(want[i]) {
			t.Fatalf("partition %d: replicas %v isr %v, want %v", i, p.ReplicaNodes, p.ISRNodes, want[i])
		}
		if p.LeaderID != want[i][0] || p.PartitionIndex != int32(i) {
			t.Fatalf("partition %d: leader %d index %d", i, p.LeaderID, p.PartitionIndex)
		}
	}
}

func TestSnapshotNodeIDs(t *testing.T) {
	empty := &snapshot{controllerID: 4}
	if got := empty.nodeIDs(); len(got) != 1 || got[0] != 4 {
		t.Fatalf("expected controller only, got %v", got)
	}
	seeded := &snapshot{brokers: []snapshotBroker{{NodeID: 9}, {NodeID: 3}}}
	if got := fmt.Sprint(seeded.nodeIDs()); got != "[9 3]" {
		t.Fatalf("expected broker order kept, got %s", got)
	}
}

func TestEtcdStoreConcurrentCreates(t *testing.T) {
	e, endpoints := startEmbeddedEtcd(t)
	defer e.Close()

	ctx := context.Background()
	store, err := NewEtcdStore(ctx, EtcdStoreConfig{Endpoints: endpoints})
	if err != nil {
		t.Fatalf("NewEtcdStore: %v", err)
	}
	defer store.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, name := range []string{"left", "right"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			errs <- store.CreateTopic(ctx, TopicSpec{Name: name, NumPartitions: 1})
		}(name)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("CreateTopic: %v", err)
		}
	}
	names, err := store.ListTopics(ctx)
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected both topics to survive, got %v", names)
	}
}

func startEmbeddedEtcd(t *testing.T) (*embed.Etcd, []string) {
	t.Helper()
	if err := ensureEtcdPortsFree(); err != nil {
		t.Skipf("skipping etcd store tests: %v", err)
	}
	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()
	cfg.LogLevel = "error"
	cfg.Logger = "zap"
	setEtcdPorts(t, cfg, testEtcdClientPort, testEtcdPeerPort)

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping etcd store tests: %v", err)
		}
		t.Fatalf("start embedded etcd: %v", err)
	}
	select {
	case <-e.Server.ReadyNotify():
	case <-time.After(10 * time.Second):
		e.Server.Stop()
		t.Fatalf("etcd server took too long to start")
	}
	return e, []string{fmt.Sprintf("http://%s", e.Clients[0].Addr().String())}
}

func ensureEtcdPortsFree() error {
	for _, port := range []string{testEtcdClientPort, testEtcdPeerPort} {
		if err := killProcessesOnPort(port); err != nil {
			return err
		}
		if err := portAvailable("127.0.0.1:" + port); err != nil {
			return err
		}
	}
	return nil
}

func setEtcdPorts(t *testing.T, cfg *embed.Config, clientPort, peerPort string) {
	t.Helper()
	clientURL, err := url.Parse("http://127.0.0.1:" + clientPort)
	if err != nil {
		t.Fatalf("parse client url: %v", err)
	}
	peerURL, err := url.Parse("http://127.0.0.1:" + peerPort)
	if err != nil {
		t.Fatalf("parse peer url: %v", err)
	}
	cfg.ListenClientUrls = []url.URL{*clientURL}
	cfg.AdvertiseClientUrls = []url.URL{*clientURL}
	cfg.ListenPeerUrls = []url.URL{*peerURL}
	cfg.AdvertisePeerUrls = []url.URL{*peerURL}
	cfg.Name = "default"
	cfg.InitialCluster = cfg.InitialClusterFromName(cfg.Name)
}

func killProcessesOnPort(port string) error {
	out, err := exec.Command("lsof", "-nP", "-iTCP:"+port, "-sTCP:LISTEN", "-t").Output()
	if err != nil {
		return nil
	}
	for _, pidStr := range strings.Fields(string(out)) {
		pid, convErr := strconv.Atoi(strings.TrimSpace(pidStr))
		if convErr != nil {
			continue
		}
		_ = syscall.Kill(pid, syscall.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		if alive := syscall.Kill(pid, 0); alive == nil {
			_ = syscall.Kill(pid, syscall.SIGKILL)
		}
	}
	return nil
}

func portAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %s already in use", addr)
	}
	_ = ln.Close()
	return nil
}

func newEtcdClient(t *testing.T, endpoints []string) *clientv3.Client {
	t.Helper()
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("new etcd client: %v", err)
	}
	return cli
}

func putSnapshot(t *testing.T, endpoints []string, value string) {
	t.Helper()
	cli := newEtcdClient(t, endpoints)
	defer cli.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := cli.Put(ctx, DefaultSnapshotKey, value); err != nil {
		t.Fatalf("put snapshot: %v", err)
	}
}

func readSnapshot(t *testing.T, endpoints []string) []byte {
	t.Helper()
	cli := newEtcdClient(t, endpoints)
	defer cli.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := cli.Get(ctx, DefaultSnapshotKey)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if len(resp.Kvs) == 0 {
		t.Fatalf("snapshot missing")
	}
	return resp.Kvs[0].Value
}
