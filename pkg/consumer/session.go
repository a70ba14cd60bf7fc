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
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/novatechflow/kafgate/pkg/apierr"
)

const (
	// DefaultMaxRecords caps a single read.
	DefaultMaxRecords = 10000
	// DefaultTeardownTimeout bounds closing the stream and deleting the group.
	DefaultTeardownTimeout = 5 * time.Second
)

var errNilStream = errors.New("opener returned no stream")

// EndReason says how a successful read finished.
type EndReason uint8

const (
	// EndIdle means the inactivity window elapsed.
	EndIdle EndReason = iota
	// EndCapReached means the record cap was hit before the topic went idle.
	EndCapReached
)

func (r EndReason) String() string {
	switch r {
	case EndIdle:
		return "idle"
	case EndCapReached:
		return "cap"
	default:
		return fmt.Sprintf("end_%d", uint8(r))
	}
}

// Result is a finished read.
type Result struct {
	Topic    string
	Group    Identity
	Messages []string
	End      EndReason
}

// ReaderConfig configures a Reader.
type ReaderConfig struct {
	MaxRecords      int
	TeardownTimeout time.Duration
	GroupPrefix     string
	Logger          *slog.Logger
	// OnTeardownError observes failures that were logged and dropped.
	OnTeardownError func(topic string, err error)
}

// Reader runs bounded reads through an Opener. It is safe for concurrent use;
// each Read owns its identity and stream.
type Reader struct {
	opener Opener
	cfg    ReaderConfig
	logger *slog.Logger
}

// NewReader builds a Reader. Zero config values take the package defaults.
func NewReader(opener Opener, cfg ReaderConfig) *Reader {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}
	if cfg.GroupPrefix == "" {
		cfg.GroupPrefix = DefaultGroupPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{opener: opener, cfg: cfg, logger: logger.With("component", "reader")}
}

// MaxRecords reports the cap applied to each read.
func (r *Reader) MaxRecords() int {
	return r.cfg.MaxRecords
}

// Read drains topic from the earliest offset until the stream goes idle or
// the cap is reached. The stream is closed and the group abandoned on every
// return path; teardown failures never reach the caller.
func (r *Reader) Read(ctx context.Context, topic string) (res Result, err error) {
	id := NewIdentity(r.cfg.GroupPrefix)
	res = Result{Topic: topic, Group: id, Messages: []string{}}
	started := time.Now()

	stream, err := r.opener.Open(ctx, id, topic)
	if err == nil && stream == nil {
		err = errNilStream
	}
	defer func() {
		r.teardown(id, topic, stream)
		if err != nil {
			r.logger.Warn("read failed", "topic", topic, "group", id, "records", len(res.Messages), "error", err)
			return
		}
		r.logger.Debug("read finished", "topic", topic, "group", id, "records", len(res.Messages),
			"end", res.End.String(), "elapsed", time.Since(started))
	}()
	if err != nil {
		return res, apierr.Wrap(apierr.ConsumeFailed, err, "read %s: open stream", topic)
	}

	for {
		batch, pollErr := stream.Poll(ctx, r.cfg.MaxRecords-len(res.Messages))
		for _, value := range batch.Values {
			res.Messages = append(res.Messages, decodeValue(value))
			if len(res.Messages) >= r.cfg.MaxRecords {
				res.End = EndCapReached
				return res, nil
			}
		}
		if pollErr != nil {
			return res, apierr.Wrap(apierr.ConsumeFailed, pollErr, "read %s", topic)
		}
		if batch.Idle {
			res.End = EndIdle
			return res, nil
		}
	}
}

func (r *Reader) teardown(id Identity, topic string, stream Stream) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TeardownTimeout)
	defer cancel()

	var result *multierror.Error
	if stream != nil {
		if err := stream.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("close stream: %w", err))
		}
	}
	if err := r.opener.Abandon(ctx, id); err != nil {
		result = multierror.Append(result, fmt.Errorf("abandon group %s: %w", id, err))
	}
	if err := result.ErrorOrNil(); err != nil {
		r.logger.Warn("read teardown failed", "topic", topic, "group", id, "error", err)
		if r.cfg.OnTeardownError != nil {
			r.cfg.OnTeardownError(topic, err)
		}
	}
}

// decodeValue turns a payload into text. Invalid UTF-8 sequences become
// U+FFFD rather than failing the read.
func decodeValue(value []byte) string {
	return strings.ToValidUTF8(string(value), "\uFFFD")
}
