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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PathEnv names the optional YAML file read by FromEnv.
const PathEnv = "KAFGATE_CONFIG"

// Metadata backends.
const (
	BackendKafka  = "kafka"
	BackendEtcd   = "etcd"
	BackendMemory = "memory"
)

// Config defines the gateway configuration schema.
type Config struct {
	Server   ServerConfig `yaml:"server"`
	Kafka    KafkaConfig  `yaml:"kafka"`
	Metadata MetaConfig   `yaml:"metadata"`
	Topics   TopicsConfig `yaml:"topics"`
	Reader   ReaderConfig `yaml:"reader"`
}

type ServerConfig struct {
	Listen            string        `yaml:"listen"`
	MetricsPath       string        `yaml:"metrics_path"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type KafkaConfig struct {
	Brokers            []string      `yaml:"brokers"`
	ClientID           string        `yaml:"client_id"`
	WaitForAck         bool          `yaml:"wait_for_ack"`
	AckTimeout         time.Duration `yaml:"ack_timeout"`
	MaxBufferedRecords int           `yaml:"max_buffered_records"`
	MaxRecordBytes     int           `yaml:"max_record_bytes"`
	LogLevel           string        `yaml:"log_level"`
}

type MetaConfig struct {
	Backend       string        `yaml:"backend"`
	Etcd          EtcdConfig    `yaml:"etcd"`
	SnapshotKey   string        `yaml:"snapshot_key"`
	CreateTimeout time.Duration `yaml:"create_timeout"`
}

type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type TopicsConfig struct {
	DefaultPartitions int32             `yaml:"default_partitions"`
	ReplicationFactor int16             `yaml:"replication_factor"`
	MaxPartitions     int32             `yaml:"max_partitions"`
	Configs           map[string]string `yaml:"configs"`
}

type ReaderConfig struct {
	MaxRecords            int           `yaml:"max_records"`
	IdleTimeout           time.Duration `yaml:"idle_timeout"`
	JoinTimeout           time.Duration `yaml:"join_timeout"`
	TeardownTimeout       time.Duration `yaml:"teardown_timeout"`
	GroupPrefix           string        `yaml:"group_prefix"`
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions"`
}

// FromEnv loads the file named by KAFGATE_CONFIG, or defaults plus
// environment overrides when it is unset.
func FromEnv() (Config, error) {
	return Load(strings.TrimSpace(os.Getenv(PathEnv)))
}

// Load reads path (optional), applies defaults and KAFGATE_* overrides, and
// validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"127.0.0.1:9092"}
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "kafgate"
	}
	if cfg.Kafka.AckTimeout == 0 {
		cfg.Kafka.AckTimeout = 10 * time.Second
	}
	if cfg.Kafka.MaxBufferedRecords == 0 {
		cfg.Kafka.MaxBufferedRecords = 10000
	}
	if cfg.Kafka.MaxRecordBytes == 0 {
		cfg.Kafka.MaxRecordBytes = 1 << 20
	}
	if cfg.Kafka.LogLevel == "" {
		cfg.Kafka.LogLevel = "warn"
	}
	if cfg.Metadata.Backend == "" {
		cfg.Metadata.Backend = BackendKafka
	}
	if cfg.Metadata.SnapshotKey == "" {
		cfg.Metadata.SnapshotKey = "/kafscale/metadata/snapshot"
	}
	if cfg.Metadata.CreateTimeout == 0 {
		cfg.Metadata.CreateTimeout = 15 * time.Second
	}
	if cfg.Metadata.Etcd.DialTimeout == 0 {
		cfg.Metadata.Etcd.DialTimeout = 5 * time.Second
	}
	if cfg.Topics.DefaultPartitions == 0 {
		cfg.Topics.DefaultPartitions = 2
	}
	if cfg.Topics.ReplicationFactor == 0 {
		cfg.Topics.ReplicationFactor = 1
	}
	if cfg.Topics.MaxPartitions == 0 {
		cfg.Topics.MaxPartitions = 10000
	}
	if cfg.Reader.MaxRecords == 0 {
		cfg.Reader.MaxRecords = 10000
	}
	if cfg.Reader.IdleTimeout == 0 {
		cfg.Reader.IdleTimeout = time.Second
	}
	if cfg.Reader.JoinTimeout == 0 {
		cfg.Reader.JoinTimeout = 10 * time.Second
	}
	if cfg.Reader.TeardownTimeout == 0 {
		cfg.Reader.TeardownTimeout = 5 * time.Second
	}
	if cfg.Reader.GroupPrefix == "" {
		cfg.Reader.GroupPrefix = "kafgate-read"
	}
	if cfg.Reader.MaxConcurrentSessions == 0 {
		cfg.Reader.MaxConcurrentSessions = 64
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Listen, "KAFGATE_LISTEN")
	setString(&cfg.Server.MetricsPath, "KAFGATE_METRICS_PATH")
	setInt64(&cfg.Server.MaxBodyBytes, "KAFGATE_MAX_BODY_BYTES")
	setDuration(&cfg.Server.ShutdownTimeout, "KAFGATE_SHUTDOWN_TIMEOUT")

	setCSV(&cfg.Kafka.Brokers, "KAFGATE_BROKERS")
	setString(&cfg.Kafka.ClientID, "KAFGATE_CLIENT_ID")
	setBool(&cfg.Kafka.WaitForAck, "KAFGATE_WAIT_FOR_ACK")
	setDuration(&cfg.Kafka.AckTimeout, "KAFGATE_ACK_TIMEOUT")
	setInt(&cfg.Kafka.MaxBufferedRecords, "KAFGATE_MAX_BUFFERED_RECORDS")
	setInt(&cfg.Kafka.MaxRecordBytes, "KAFGATE_MAX_RECORD_BYTES")
	setString(&cfg.Kafka.LogLevel, "KAFGATE_KAFKA_LOG_LEVEL")

	setString(&cfg.Metadata.Backend, "KAFGATE_METADATA_BACKEND")
	setCSV(&cfg.Metadata.Etcd.Endpoints, "KAFGATE_ETCD_ENDPOINTS")
	setString(&cfg.Metadata.Etcd.Username, "KAFGATE_ETCD_USERNAME")
	setString(&cfg.Metadata.Etcd.Password, "KAFGATE_ETCD_PASSWORD")
	setString(&cfg.Metadata.SnapshotKey, "KAFGATE_METADATA_SNAPSHOT_KEY")

	setInt32(&cfg.Topics.DefaultPartitions, "KAFGATE_DEFAULT_PARTITIONS")
	setInt16(&cfg.Topics.ReplicationFactor, "KAFGATE_REPLICATION_FACTOR")
	setInt32(&cfg.Topics.MaxPartitions, "KAFGATE_MAX_PARTITIONS")

	setInt(&cfg.Reader.MaxRecords, "KAFGATE_READ_MAX_RECORDS")
	setDuration(&cfg.Reader.IdleTimeout, "KAFGATE_READ_IDLE_TIMEOUT")
	setDuration(&cfg.Reader.JoinTimeout, "KAFGATE_READ_JOIN_TIMEOUT")
	setString(&cfg.Reader.GroupPrefix, "KAFGATE_READ_GROUP_PREFIX")
	setInt(&cfg.Reader.MaxConcurrentSessions, "KAFGATE_READ_MAX_SESSIONS")
}

func validate(cfg Config) error {
	switch cfg.Metadata.Backend {
	case BackendKafka, BackendMemory:
	case BackendEtcd:
		if len(cfg.Metadata.Etcd.Endpoints) == 0 {
			return fmt.Errorf("metadata.etcd.endpoints is required for the etcd backend")
		}
	default:
		return fmt.Errorf("unsupported metadata backend %q", cfg.Metadata.Backend)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if cfg.Topics.DefaultPartitions <= 0 {
		return fmt.Errorf("topics.default_partitions must be positive")
	}
	if cfg.Topics.MaxPartitions < cfg.Topics.DefaultPartitions {
		return fmt.Errorf("topics.max_partitions must be at least topics.default_partitions")
	}
	if cfg.Topics.ReplicationFactor <= 0 {
		return fmt.Errorf("topics.replication_factor must be positive")
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if cfg.Reader.MaxRecords <= 0 || cfg.Reader.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("reader.max_records and reader.max_concurrent_sessions must be positive")
	}
	if cfg.Reader.IdleTimeout <= 0 || cfg.Reader.JoinTimeout <= 0 || cfg.Reader.TeardownTimeout <= 0 {
		return fmt.Errorf("reader timeouts must be positive")
	}
	if !strings.HasPrefix(cfg.Server.MetricsPath, "/") {
		return fmt.Errorf("server.metrics_path must start with /")
	}
	return nil
}

func setString(target *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*target = strings.TrimSpace(val)
	}
}

func setInt(target *int, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err == nil {
			*target = parsed
		}
	}
}

func setInt64(target *int64, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err == nil {
			*target = parsed
		}
	}
}

func setInt32(target *int32, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 32)
		if err == nil {
			*target = int32(parsed)
		}
	}
}

func setInt16(target *int16, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 16)
		if err == nil {
			*target = int16(parsed)
		}
	}
}

func setBool(target *bool, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(val))
		if err == nil {
			*target = parsed
		}
	}
}

func setDuration(target *time.Duration, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(val))
		if err == nil {
			*target = parsed
		}
	}
}

func setCSV(target *[]string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			*target = out
		}
	}
}
