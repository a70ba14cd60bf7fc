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

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/novatechflow/kafgate/internal/config"
	"github.com/novatechflow/kafgate/internal/gateway"
	"github.com/novatechflow/kafgate/internal/metrics"
	"github.com/novatechflow/kafgate/pkg/bridge"
	"github.com/novatechflow/kafgate/pkg/consumer"
	"github.com/novatechflow/kafgate/pkg/kafkalog"
	"github.com/novatechflow/kafgate/pkg/metadata"
	"github.com/novatechflow/kafgate/pkg/producer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(ctx, logger); err != nil {
		logger.Error("gateway exited", "error", err)
		cancel()
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	clientLevel := kafkalog.ParseLevel(cfg.Kafka.LogLevel)

	opener, err := consumer.NewKafkaOpener(consumer.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		ClientID:       cfg.Kafka.ClientID,
		IdleTimeout:    cfg.Reader.IdleTimeout,
		JoinTimeout:    cfg.Reader.JoinTimeout,
		ClientLogLevel: clientLevel,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer opener.Close()

	store, err := buildStore(ctx, cfg, opener.Admin())
	if err != nil {
		return fmt.Errorf("metadata store init: %w", err)
	}
	directory := metadata.NewDirectory(store, metadata.DirectoryConfig{
		ReplicationFactor: cfg.Topics.ReplicationFactor,
		MaxPartitions:     cfg.Topics.MaxPartitions,
		TopicConfigs:      cfg.Topics.Configs,
		Logger:            logger,
	})
	defer func() {
		if err := directory.Close(); err != nil {
			logger.Warn("metadata store close failed", "error", err)
		}
	}()

	channel := producer.New(producer.Config{
		Brokers:            cfg.Kafka.Brokers,
		ClientID:           cfg.Kafka.ClientID,
		WaitForAck:         cfg.Kafka.WaitForAck,
		AckTimeout:         cfg.Kafka.AckTimeout,
		CloseTimeout:       cfg.Server.ShutdownTimeout,
		MaxBufferedRecords: cfg.Kafka.MaxBufferedRecords,
		MaxRecordBytes:     cfg.Kafka.MaxRecordBytes,
		ClientLogLevel:     clientLevel,
		Logger:             logger,
		OnDeliveryError: func(string, error) {
			metrics.PublishDeliveryErrors.Inc()
		},
	})
	if err := channel.Open(); err != nil {
		return err
	}
	defer func() {
		if err := channel.Close(); err != nil {
			logger.Warn("producer close failed", "error", err)
		}
	}()

	reader := consumer.NewReader(opener, consumer.ReaderConfig{
		MaxRecords:      cfg.Reader.MaxRecords,
		TeardownTimeout: cfg.Reader.TeardownTimeout,
		GroupPrefix:     cfg.Reader.GroupPrefix,
		Logger:          logger,
		OnTeardownError: func(string, error) {
			metrics.SessionTeardownErrors.Inc()
		},
	})
	dispatcher := bridge.NewDispatcher(bridge.DispatcherConfig{
		MaxConcurrent: cfg.Reader.MaxConcurrentSessions,
		Logger:        logger,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			logger.Warn("read sessions still running at shutdown", "error", err)
		}
	}()

	logger.Info("gateway starting",
		"listen", cfg.Server.Listen,
		"brokers", cfg.Kafka.Brokers,
		"metadata_backend", cfg.Metadata.Backend,
	)
	return gateway.Serve(ctx, cfg.Server.Listen, gateway.ServerOptions{
		Directory:         directory,
		Publisher:         channel,
		Reader:            reader,
		Dispatcher:        dispatcher,
		DefaultPartitions: cfg.Topics.DefaultPartitions,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		MetricsPath:       cfg.Server.MetricsPath,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Logger:            logger,
	})
}

func buildStore(ctx context.Context, cfg config.Config, admin kmsg.Requestor) (metadata.Store, error) {
	switch cfg.Metadata.Backend {
	case config.BackendKafka:
		return metadata.NewKafkaStore(admin, cfg.Metadata.CreateTimeout), nil
	case config.BackendEtcd:
		return metadata.NewEtcdStore(ctx, metadata.EtcdStoreConfig{
			Endpoints:   cfg.Metadata.Etcd.Endpoints,
			Username:    cfg.Metadata.Etcd.Username,
			Password:    cfg.Metadata.Etcd.Password,
			DialTimeout: cfg.Metadata.Etcd.DialTimeout,
			SnapshotKey: cfg.Metadata.SnapshotKey,
		})
	case config.BackendMemory:
		return metadata.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported metadata backend %q", cfg.Metadata.Backend)
	}
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("KAFGATE_LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("KAFGATE_LOG_FORMAT"), "text") {
		handler = tint.NewHandler(w, &tint.Options{Level: level, AddSource: true})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		})
	}
	return slog.New(handler).With("component", "gateway")
}
