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

package kafkalog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"
)

func TestLoggerForwardsKeyvals(t *testing.T) {
	var buf bytes.Buffer
	logger := New(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), kgo.LogLevelInfo)
	if logger.Level() != kgo.LogLevelInfo {
		t.Fatalf("unexpected level %v", logger.Level())
	}
	logger.Log(kgo.LogLevelWarn, "metadata update failed", "broker", "seed_0", "err", "dial tcp")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["level"] != "WARN" || entry["msg"] != "metadata update failed" || entry["broker"] != "seed_0" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]kgo.LogLevel{
		"":      kgo.LogLevelWarn,
		"none":  kgo.LogLevelNone,
		"ERROR": kgo.LogLevelError,
		"info":  kgo.LogLevelInfo,
		"debug": kgo.LogLevelDebug,
		"loud":  kgo.LogLevelWarn,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}
