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

// Package kafkalog routes franz-go client logs into slog.
package kafkalog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Logger implements kgo.Logger on top of a slog.Logger.
type Logger struct {
	logger *slog.Logger
	level  kgo.LogLevel
}

// New returns a kgo.Logger that forwards entries at or above level.
func New(logger *slog.Logger, level kgo.LogLevel) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger, level: level}
}

// Level implements kgo.Logger.
func (l *Logger) Level() kgo.LogLevel {
	return l.level
}

// Log implements kgo.Logger. franz-go passes alternating key/value pairs,
// which slog accepts as-is.
func (l *Logger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	l.logger.Log(context.Background(), slogLevel(level), msg, keyvals...)
}

// ParseLevel maps a config string onto a franz-go level. Unknown values
// fall back to warn.
func ParseLevel(raw string) kgo.LogLevel {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none", "off":
		return kgo.LogLevelNone
	case "error":
		return kgo.LogLevelError
	case "info":
		return kgo.LogLevelInfo
	case "debug":
		return kgo.LogLevelDebug
	default:
		return kgo.LogLevelWarn
	}
}

func slogLevel(level kgo.LogLevel) slog.Level {
	switch level {
	case kgo.LogLevelError:
		return slog.LevelError
	case kgo.LogLevelWarn:
		return slog.LevelWarn
	case kgo.LogLevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
